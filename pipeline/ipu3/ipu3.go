//go:build linux

// Package ipu3 implements the pipeline handler for the Intel IPU3: a
// CIO2 CSI-2 receiver complex feeding raw Bayer frames into memory, and
// an ImgU ISP with output, viewfinder and statistics channels.
package ipu3

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/XECDesign/libcamera/camera"
	"github.com/XECDesign/libcamera/internal/logging"
	"github.com/XECDesign/libcamera/pkg/linuxav/media"
	"github.com/XECDesign/libcamera/pkg/linuxav/v4l2"
)

func init() {
	camera.RegisterPipelineHandler("ipu3", New)
}

// The IPU3 has four CIO2 instances but only two ImgU instances, so at
// most two cameras are registered.
const (
	numCIO2Instances = 4
	numImgUInstances = 2
)

// PipelineHandler drives one IPU3 hardware instance.
type PipelineHandler struct {
	*camera.Pipeline

	cio2MediaDev *media.MediaDevice
	imguMediaDev *media.MediaDevice

	imgu [numImgUInstances]*ImgUDevice

	mu   sync.Mutex
	data map[*camera.Camera]*cameraData

	log *slog.Logger
}

// cameraData is the per-camera state: the CIO2 instance feeding the
// camera, a borrowed reference to its assigned ImgU instance, and the
// single raw stream.
type cameraData struct {
	cio2   *CIO2Device
	imgu   *ImgUDevice
	stream *camera.Stream
}

// New creates the IPU3 pipeline handler. Registered with the camera
// manager's pipeline registry at package init.
func New(manager *camera.CameraManager) camera.PipelineHandler {
	return &PipelineHandler{
		Pipeline: camera.NewPipeline(manager, "ipu3"),
		data:     make(map[*camera.Camera]*cameraData),
		log:      logging.GetLogger("ipu3"),
	}
}

// Name returns the handler name.
func (p *PipelineHandler) Name() string {
	return "ipu3"
}

func (p *PipelineHandler) cameraData(cam *camera.Camera) *cameraData {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data[cam]
}

// Match searches for the CIO2 and ImgU media devices, acquires both,
// disables their default links and registers a camera per CSI-2
// receiver with a usable sensor.
func (p *PipelineHandler) Match(enum *media.Enumerator) bool {
	cio2DM := media.NewDeviceMatch("ipu3-cio2")
	for i := 0; i < numCIO2Instances; i++ {
		cio2DM.Add("ipu3-csi2 " + strconv.Itoa(i))
		cio2DM.Add("ipu3-cio2 " + strconv.Itoa(i))
	}

	imguDM := media.NewDeviceMatch("ipu3-imgu")
	for i := 0; i < numImgUInstances; i++ {
		name := "ipu3-imgu " + strconv.Itoa(i)
		imguDM.Add(name)
		imguDM.Add(name + " input")
		imguDM.Add(name + " parameters")
		imguDM.Add(name + " output")
		imguDM.Add(name + " viewfinder")
		imguDM.Add(name + " 3a stat")
	}

	// Search skips busy media devices, so acquiring the results is
	// safe.
	p.cio2MediaDev = enum.Search(cio2DM)
	if p.cio2MediaDev == nil {
		return false
	}
	p.cio2MediaDev.Acquire()

	p.imguMediaDev = enum.Search(imguDM)
	if p.imguMediaDev == nil {
		p.cio2MediaDev.Release()
		p.cio2MediaDev = nil
		return false
	}
	p.imguMediaDev.Acquire()

	// Disable all links enabled by default; camera registration
	// re-enables only the ones it needs. The media devices only have
	// to stay open while links are manipulated.
	if err := p.setupMediaDevices(); err != nil {
		p.log.Error("failed to set up IPU3 pipeline", "error", err)
		p.release()
		return false
	}

	return true
}

func (p *PipelineHandler) setupMediaDevices() error {
	if err := p.cio2MediaDev.Open(); err != nil {
		return err
	}
	defer p.cio2MediaDev.Close()

	if err := p.cio2MediaDev.DisableLinks(); err != nil {
		return err
	}

	if err := p.imguMediaDev.Open(); err != nil {
		return err
	}
	defer p.imguMediaDev.Close()

	if err := p.imguMediaDev.DisableLinks(); err != nil {
		return err
	}

	return p.registerCameras()
}

func (p *PipelineHandler) release() {
	if p.cio2MediaDev != nil {
		p.cio2MediaDev.Release()
		p.cio2MediaDev = nil
	}
	if p.imguMediaDev != nil {
		p.imguMediaDev.Release()
		p.imguMediaDev = nil
	}
}

// registerCameras initialises the two ImgU instances and creates a
// camera per CIO2 instance with a connected image sensor that produces a
// compatible format.
func (p *PipelineHandler) registerCameras() error {
	for i := 0; i < numImgUInstances; i++ {
		imgu := &ImgUDevice{}
		if err := imgu.Init(p.imguMediaDev, i); err != nil {
			return err
		}
		p.imgu[i] = imgu
	}

	numCameras := 0
	for id := 0; id < numCIO2Instances && numCameras < numImgUInstances; id++ {
		cio2 := &CIO2Device{}
		if err := cio2.Init(p.cio2MediaDev, id); err != nil {
			cio2.Close()
			continue
		}

		// ImgU instances are assigned in registration order: imgu0
		// to the first camera, imgu1 to the second.
		data := &cameraData{
			cio2:   cio2,
			imgu:   p.imgu[numCameras],
			stream: &camera.Stream{},
		}

		name := cio2.sensor.EntityName() + " " + strconv.Itoa(id)
		cam := camera.NewCamera(p, name, []*camera.Stream{data.stream})

		cio2.output.OnBufferReady(func(b *v4l2.Buffer) {
			p.bufferReady(cam, b)
		})

		p.mu.Lock()
		p.data[cam] = data
		p.mu.Unlock()

		p.RegisterCamera(cam)

		p.log.Info("registered camera",
			"camera", name, "index", numCameras, "csi2", id)

		numCameras++
	}

	if numCameras == 0 {
		return fmt.Errorf("no connected sensor found: %w", camera.ErrNoDevice)
	}

	return nil
}

// DefaultConfigurations suggests the sensor's current format with the
// matching IPU3 packed Bayer fourcc and a buffer count of four.
func (p *PipelineHandler) DefaultConfigurations(cam *camera.Camera, streams []*camera.Stream,
	roles []camera.StreamRole) map[*camera.Stream]camera.StreamConfiguration {
	data := p.cameraData(cam)
	configs := make(map[*camera.Stream]camera.StreamConfiguration)

	format, err := data.cio2.sensor.GetFormat(0)
	if err != nil {
		p.log.Error("failed to read sensor format", "camera", cam.Name(), "error", err)
		return configs
	}

	fourcc, _ := MediaBusToFormat(data.cio2.mbusCode)
	configs[data.stream] = camera.StreamConfiguration{
		Width:       format.Width,
		Height:      format.Height,
		PixelFormat: fourcc,
		BufferCount: 4,
	}

	return configs
}

// Configure propagates the stream configuration through the pipeline:
// sensor and CSI-2 receiver, CIO2 capture node, then ImgU input and
// outputs. On failure formats already applied are not unwound; the
// caller must reconfigure before streaming.
func (p *PipelineHandler) Configure(cam *camera.Camera,
	config map[*camera.Stream]camera.StreamConfiguration) error {
	data := p.cameraData(cam)
	cfg, ok := config[data.stream]
	if !ok {
		return fmt.Errorf("no configuration for stream: %w", camera.ErrInvalidArgument)
	}

	p.log.Info("configuring camera",
		"camera", cam.Name(), "width", cfg.Width, "height", cfg.Height,
		"format", v4l2.FormatFourCC(cfg.PixelFormat))

	// The image width must be a multiple of 8 pixels and the height a
	// multiple of 4 pixels, within the sensor limits.
	if cfg.Width%8 != 0 || cfg.Height%4 != 0 {
		return fmt.Errorf("invalid stream size %dx%d: bad alignment: %w",
			cfg.Width, cfg.Height, camera.ErrInvalidArgument)
	}
	if cfg.Width > data.cio2.maxWidth || cfg.Height > data.cio2.maxHeight {
		return fmt.Errorf("invalid stream size %dx%d: larger than sensor resolution: %w",
			cfg.Width, cfg.Height, camera.ErrInvalidArgument)
	}

	// The CIO2 negotiates the sensor mode and reports the adjusted
	// format to propagate to the ImgU.
	cio2Format, err := data.cio2.Configure(cfg)
	if err != nil {
		return err
	}

	if err := data.imgu.ConfigureInput(cfg, &cio2Format); err != nil {
		return err
	}

	for _, output := range []*ImgUOutput{
		&data.imgu.output,
		&data.imgu.viewfinder,
		&data.imgu.stat,
	} {
		if err := data.imgu.ConfigureOutput(output, cfg); err != nil {
			return err
		}
	}

	return nil
}

// AllocateBuffers exports the stream's buffer count from the CIO2
// capture node into its pool.
func (p *PipelineHandler) AllocateBuffers(cam *camera.Camera, stream *camera.Stream) error {
	data := p.cameraData(cam)
	count := stream.Configuration().BufferCount

	if count == 0 {
		return fmt.Errorf("stream has no buffers configured: %w", camera.ErrInvalidArgument)
	}

	if err := data.cio2.output.ExportBuffers(count, stream.Pool()); err != nil {
		p.log.Error("failed to export buffers", "camera", cam.Name(), "error", err)
		return err
	}

	return nil
}

// FreeBuffers releases the stream's buffers.
func (p *PipelineHandler) FreeBuffers(cam *camera.Camera, stream *camera.Stream) error {
	data := p.cameraData(cam)

	if err := data.cio2.output.ReleaseBuffers(); err != nil {
		p.log.Error("failed to release buffers", "camera", cam.Name(), "error", err)
		return err
	}

	return nil
}

// Start begins capture on the CIO2 node.
func (p *PipelineHandler) Start(cam *camera.Camera) error {
	data := p.cameraData(cam)

	if err := data.cio2.output.StreamOn(); err != nil {
		p.log.Error("failed to start camera", "camera", cam.Name(), "error", err)
		return err
	}

	return nil
}

// Stop ends capture and flushes every queued request to cancellation.
func (p *PipelineHandler) Stop(cam *camera.Camera) {
	data := p.cameraData(cam)

	if err := data.cio2.output.StreamOff(); err != nil {
		p.log.Error("failed to stop camera", "camera", cam.Name(), "error", err)
	}

	p.CancelQueuedRequests(cam)
}

// QueueRequest hands the request's buffer to the CIO2 node and records
// the request for in-order completion.
func (p *PipelineHandler) QueueRequest(cam *camera.Camera, req *camera.Request) error {
	data := p.cameraData(cam)

	buffer := req.FindBuffer(data.stream)
	if buffer == nil {
		return fmt.Errorf("request carries no buffer for the raw stream: %w", camera.ErrNoEntry)
	}

	if err := data.cio2.output.QueueBuffer(buffer); err != nil {
		return err
	}

	p.EnqueueRequest(cam, req)

	return nil
}

// bufferReady runs in the CIO2 completion context. CIO2 completions are
// in queue order, so the completed buffer belongs to the head request;
// anything else is diagnosed by CompleteRequest as a pipeline bug.
func (p *PipelineHandler) bufferReady(cam *camera.Camera, b *v4l2.Buffer) {
	req := p.NextRequest(cam)
	if req == nil {
		p.log.Error("buffer completed with no queued request", "camera", cam.Name())
		return
	}

	if p.CompleteBuffer(cam, req, b) {
		p.CompleteRequest(cam, req)
	}
}
