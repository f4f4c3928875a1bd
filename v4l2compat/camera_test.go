//go:build linux

package v4l2compat

import (
	"errors"
	"syscall"
	"testing"

	"github.com/XECDesign/libcamera/camera"
	"github.com/XECDesign/libcamera/pkg/linuxav/media"
	"github.com/XECDesign/libcamera/pkg/linuxav/v4l2"
)

// fakePipeline backs a camera without kernel devices; the test drives
// completions through completeNext.
type fakePipeline struct {
	*camera.Pipeline

	stream   *camera.Stream
	sequence uint32
}

func newTestCamera(t *testing.T) (*fakePipeline, *V4L2Camera) {
	t.Helper()

	manager := camera.NewCameraManager()
	pipe := &fakePipeline{
		Pipeline: camera.NewPipeline(manager, "fake"),
		stream:   &camera.Stream{},
	}
	cam := camera.NewCamera(pipe, "fake-cam 0", []*camera.Stream{pipe.stream})
	pipe.RegisterCamera(cam)

	return pipe, New(cam)
}

func (p *fakePipeline) Name() string { return "fake" }

func (p *fakePipeline) Match(*media.Enumerator) bool { return true }

func (p *fakePipeline) DefaultConfigurations(cam *camera.Camera, streams []*camera.Stream,
	roles []camera.StreamRole) map[*camera.Stream]camera.StreamConfiguration {
	return map[*camera.Stream]camera.StreamConfiguration{
		p.stream: {Width: 1920, Height: 1080, PixelFormat: v4l2.PixFmtIPU3SGRBG10, BufferCount: 4},
	}
}

func (p *fakePipeline) Configure(cam *camera.Camera,
	config map[*camera.Stream]camera.StreamConfiguration) error {
	return nil
}

func (p *fakePipeline) AllocateBuffers(cam *camera.Camera, stream *camera.Stream) error {
	stream.Pool().CreateBuffers(int(stream.Configuration().BufferCount))
	return nil
}

func (p *fakePipeline) FreeBuffers(cam *camera.Camera, stream *camera.Stream) error {
	return stream.Pool().Release()
}

func (p *fakePipeline) Start(cam *camera.Camera) error { return nil }

func (p *fakePipeline) Stop(cam *camera.Camera) {
	p.CancelQueuedRequests(cam)
}

func (p *fakePipeline) QueueRequest(cam *camera.Camera, req *camera.Request) error {
	if req.FindBuffer(p.stream) == nil {
		return camera.ErrNoEntry
	}
	p.EnqueueRequest(cam, req)
	return nil
}

func (p *fakePipeline) completeNext(cam *camera.Camera) {
	req := p.NextRequest(cam)
	if req == nil {
		return
	}
	buf := req.FindBuffer(p.stream)
	buf.Status = v4l2.BufferSuccess
	buf.BytesUsed = 64
	buf.Sequence = p.sequence
	p.sequence++

	if p.CompleteBuffer(cam, req, buf) {
		p.CompleteRequest(cam, req)
	}
}

func openAndAlloc(t *testing.T, v *V4L2Camera) uint32 {
	t.Helper()

	if err := v.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	cfg, err := v.Configure(1920, 1080, v4l2.PixFmtIPU3SGRBG10, 4)
	if err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if cfg.Width != 1920 || cfg.Height != 1080 {
		t.Fatalf("negotiated config = %dx%d, want 1920x1080", cfg.Width, cfg.Height)
	}

	count, err := v.AllocBuffers()
	if err != nil {
		t.Fatalf("AllocBuffers failed: %v", err)
	}
	return count
}

func TestAllBuffersClientOwnedAfterAlloc(t *testing.T) {
	_, v := newTestCamera(t)
	count := openAndAlloc(t, v)

	if count != 4 {
		t.Fatalf("AllocBuffers = %d, want 4", count)
	}
	if got := v.ClientOwnedBuffers(); got != 4 {
		t.Fatalf("ClientOwnedBuffers = %d, want 4", got)
	}
}

func TestQbufCompletionCycle(t *testing.T) {
	pipe, v := newTestCamera(t)
	openAndAlloc(t, v)

	if err := v.StreamOn(); err != nil {
		t.Fatalf("StreamOn failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := v.Qbuf(i); err != nil {
			t.Fatalf("Qbuf(%d) failed: %v", i, err)
		}
	}
	if got := v.ClientOwnedBuffers(); got != 2 {
		t.Fatalf("ClientOwnedBuffers after 2 qbufs = %d, want 2", got)
	}

	pipe.completeNext(v.cam)

	if got := v.ClientOwnedBuffers(); got != 3 {
		t.Fatalf("ClientOwnedBuffers after completion = %d, want 3", got)
	}

	completed := v.CompletedBuffers()
	if len(completed) != 1 {
		t.Fatalf("CompletedBuffers = %d entries, want 1", len(completed))
	}
	md := completed[0]
	if md.Index != 0 || md.Sequence != 0 || md.Status != v4l2.BufferSuccess {
		t.Errorf("metadata = %+v, want index 0, sequence 0, success", md)
	}
	if md.BytesUsed != 64 {
		t.Errorf("BytesUsed = %d, want 64", md.BytesUsed)
	}

	// The drain empties the queue.
	if rest := v.CompletedBuffers(); len(rest) != 0 {
		t.Errorf("second drain = %d entries, want 0", len(rest))
	}
}

func TestSequencesIncrease(t *testing.T) {
	pipe, v := newTestCamera(t)
	openAndAlloc(t, v)

	if err := v.StreamOn(); err != nil {
		t.Fatalf("StreamOn failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := v.Qbuf(i); err != nil {
			t.Fatalf("Qbuf(%d) failed: %v", i, err)
		}
	}
	for i := 0; i < 3; i++ {
		pipe.completeNext(v.cam)
	}

	completed := v.CompletedBuffers()
	if len(completed) != 3 {
		t.Fatalf("CompletedBuffers = %d entries, want 3", len(completed))
	}
	for i := 1; i < len(completed); i++ {
		if completed[i].Sequence <= completed[i-1].Sequence {
			t.Errorf("sequence %d (%d) not greater than previous (%d)",
				i, completed[i].Sequence, completed[i-1].Sequence)
		}
	}
}

func TestQbufWithoutClientBuffers(t *testing.T) {
	_, v := newTestCamera(t)

	if err := v.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := v.Configure(1920, 1080, v4l2.PixFmtIPU3SGRBG10, 2); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if _, err := v.AllocBuffers(); err != nil {
		t.Fatalf("AllocBuffers failed: %v", err)
	}
	if err := v.StreamOn(); err != nil {
		t.Fatalf("StreamOn failed: %v", err)
	}

	if err := v.Qbuf(0); err != nil {
		t.Fatalf("Qbuf(0) failed: %v", err)
	}
	if err := v.Qbuf(1); err != nil {
		t.Fatalf("Qbuf(1) failed: %v", err)
	}

	if err := v.Qbuf(0); !errors.Is(err, syscall.EAGAIN) {
		t.Errorf("Qbuf with no client buffer = %v, want EAGAIN", err)
	}
}

func TestQbufBeforeStreamOnIsDeferred(t *testing.T) {
	pipe, v := newTestCamera(t)
	openAndAlloc(t, v)

	if err := v.Qbuf(0); err != nil {
		t.Fatalf("Qbuf before StreamOn failed: %v", err)
	}
	if got := v.ClientOwnedBuffers(); got != 3 {
		t.Fatalf("ClientOwnedBuffers = %d, want 3", got)
	}

	// Nothing reaches the pipeline until stream-on.
	if pipe.NextRequest(v.cam) != nil {
		t.Fatal("request submitted before StreamOn")
	}

	if err := v.StreamOn(); err != nil {
		t.Fatalf("StreamOn failed: %v", err)
	}
	if pipe.NextRequest(v.cam) == nil {
		t.Fatal("deferred request not submitted on StreamOn")
	}

	pipe.completeNext(v.cam)
	if len(v.CompletedBuffers()) != 1 {
		t.Fatal("deferred request did not complete")
	}
}

func TestStreamOffDrainsPendingToCancelled(t *testing.T) {
	pipe, v := newTestCamera(t)
	openAndAlloc(t, v)

	if err := v.StreamOn(); err != nil {
		t.Fatalf("StreamOn failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := v.Qbuf(i); err != nil {
			t.Fatalf("Qbuf(%d) failed: %v", i, err)
		}
	}

	pipe.completeNext(v.cam)

	if err := v.StreamOff(); err != nil {
		t.Fatalf("StreamOff failed: %v", err)
	}

	completed := v.CompletedBuffers()
	if len(completed) != 3 {
		t.Fatalf("CompletedBuffers after StreamOff = %d, want 3", len(completed))
	}
	if completed[0].Status != v4l2.BufferSuccess {
		t.Errorf("first buffer status = %v, want success", completed[0].Status)
	}
	for _, md := range completed[1:] {
		if md.Status != v4l2.BufferCancelled {
			t.Errorf("buffer %d status = %v, want cancelled", md.Index, md.Status)
		}
	}

	// All buffers return to client ownership.
	if got := v.ClientOwnedBuffers(); got != 4 {
		t.Errorf("ClientOwnedBuffers after StreamOff = %d, want 4", got)
	}
}

func TestStreamOffCancelsDeferredRequests(t *testing.T) {
	_, v := newTestCamera(t)
	openAndAlloc(t, v)

	if err := v.Qbuf(0); err != nil {
		t.Fatalf("Qbuf failed: %v", err)
	}
	if err := v.StreamOff(); err != nil {
		t.Fatalf("StreamOff failed: %v", err)
	}

	completed := v.CompletedBuffers()
	if len(completed) != 1 || completed[0].Status != v4l2.BufferCancelled {
		t.Fatalf("deferred request not drained to cancelled: %+v", completed)
	}
	if got := v.ClientOwnedBuffers(); got != 4 {
		t.Errorf("ClientOwnedBuffers = %d, want 4", got)
	}
}

func TestFreeBuffersRequiresIdle(t *testing.T) {
	_, v := newTestCamera(t)
	openAndAlloc(t, v)

	if err := v.StreamOn(); err != nil {
		t.Fatalf("StreamOn failed: %v", err)
	}
	if err := v.FreeBuffers(); !errors.Is(err, camera.ErrBusy) {
		t.Fatalf("FreeBuffers while streaming = %v, want ErrBusy", err)
	}

	if err := v.StreamOff(); err != nil {
		t.Fatalf("StreamOff failed: %v", err)
	}
	if err := v.FreeBuffers(); err != nil {
		t.Fatalf("FreeBuffers failed: %v", err)
	}
}

func TestMmapOutOfRange(t *testing.T) {
	_, v := newTestCamera(t)
	openAndAlloc(t, v)

	if mem := v.Mmap(42); mem != nil {
		t.Error("Mmap out of range should return nil")
	}
}

func TestGetStreamConfig(t *testing.T) {
	_, v := newTestCamera(t)
	openAndAlloc(t, v)

	cfg := v.GetStreamConfig()
	if cfg.Width != 1920 || cfg.Height != 1080 || cfg.BufferCount != 4 {
		t.Errorf("GetStreamConfig = %+v", cfg)
	}
}
