//go:build linux

// Package v4l2compat re-exposes a framework camera through the kernel's
// video-device streaming semantics: queue/dequeue accounting, mmap'd
// buffer access, and stream on/off, so applications written against the
// V4L2 buffer protocol can consume a framework-managed camera.
package v4l2compat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"syscall"

	"golang.org/x/sync/semaphore"

	"github.com/XECDesign/libcamera/camera"
	"github.com/XECDesign/libcamera/internal/logging"
	"github.com/XECDesign/libcamera/pkg/linuxav/v4l2"
)

// FrameMetadata is an immutable snapshot of a completed buffer, in the
// shape a V4L2 dequeue reports.
type FrameMetadata struct {
	Index     int
	BytesUsed uint32
	Timestamp uint64
	Sequence  uint32
	Status    v4l2.BufferStatus
}

func newFrameMetadata(b *v4l2.Buffer) FrameMetadata {
	return FrameMetadata{
		Index:     b.Index,
		BytesUsed: b.BytesUsed,
		Timestamp: b.Timestamp,
		Sequence:  b.Sequence,
		Status:    b.Status,
	}
}

// V4L2Camera wraps one framework camera as a single-stream capture
// target with kernel streaming semantics. The buffer semaphore counts
// the buffers currently owned by client space: mmap'd and not yet
// re-queued.
type V4L2Camera struct {
	cam    *camera.Camera
	stream *camera.Stream

	mu            sync.Mutex
	isRunning     bool
	pending       []*camera.Request
	deferred      []*camera.Request
	completed     []FrameMetadata
	clientBuffers int

	bufferSema *semaphore.Weighted
	notify     chan struct{}

	disconnect func()

	log *slog.Logger
}

// New wraps cam, which must expose a single stream.
func New(cam *camera.Camera) *V4L2Camera {
	return &V4L2Camera{
		cam:    cam,
		stream: cam.Streams()[0],
		notify: make(chan struct{}, 1),
		log:    logging.GetLogger("v4l2compat").With("camera", cam.Name()),
	}
}

// Open acquires the underlying camera and connects the completion path.
func (v *V4L2Camera) Open() error {
	if err := v.cam.Acquire(); err != nil {
		return err
	}

	v.disconnect = v.cam.ConnectRequestCompleted(v.requestComplete)

	return nil
}

// Close releases the underlying camera.
func (v *V4L2Camera) Close() {
	if v.disconnect != nil {
		v.disconnect()
		v.disconnect = nil
	}
	if err := v.cam.Release(); err != nil {
		v.log.Warn("failed to release camera", "error", err)
	}
}

// GetStreamConfig returns the camera's current stream configuration.
func (v *V4L2Camera) GetStreamConfig() camera.StreamConfiguration {
	return v.stream.Configuration()
}

// Configure negotiates a configuration with the camera and returns the
// driver-adjusted result.
func (v *V4L2Camera) Configure(width, height, pixelFormat, bufferCount uint32) (camera.StreamConfiguration, error) {
	cfg := camera.StreamConfiguration{
		Width:       width,
		Height:      height,
		PixelFormat: pixelFormat,
		BufferCount: bufferCount,
	}

	err := v.cam.Configure(map[*camera.Stream]camera.StreamConfiguration{
		v.stream: cfg,
	})
	if err != nil {
		return camera.StreamConfiguration{}, err
	}

	return v.stream.Configuration(), nil
}

// AllocBuffers exports the configured buffer count and initialises the
// buffer semaphore: every buffer starts out client-owned.
func (v *V4L2Camera) AllocBuffers() (uint32, error) {
	if err := v.cam.AllocateBuffers(); err != nil {
		return 0, err
	}

	count := v.stream.Configuration().BufferCount

	v.mu.Lock()
	v.bufferSema = semaphore.NewWeighted(int64(count))
	v.clientBuffers = int(count)
	v.completed = nil
	v.mu.Unlock()

	return count, nil
}

// FreeBuffers releases the stream's buffers. The stream must be off and
// no requests in flight.
func (v *V4L2Camera) FreeBuffers() error {
	v.mu.Lock()
	if v.isRunning {
		v.mu.Unlock()
		return fmt.Errorf("stream is on: %w", camera.ErrBusy)
	}
	if len(v.pending) > 0 || len(v.deferred) > 0 {
		v.mu.Unlock()
		return fmt.Errorf("%d requests in flight: %w", len(v.pending)+len(v.deferred), camera.ErrBusy)
	}
	v.bufferSema = nil
	v.clientBuffers = 0
	v.mu.Unlock()

	return v.cam.FreeBuffers()
}

// Mmap returns the client mapping for the buffer at the given pool
// index, or nil if the index is out of range.
func (v *V4L2Camera) Mmap(index int) []byte {
	buffer := v.stream.CreateBuffer(index)
	if buffer == nil {
		return nil
	}
	return buffer.Mem()
}

// Qbuf hands the buffer at index back to the camera as a one-buffer
// capture request. Before stream-on the request is held and submitted
// when the stream starts. Queueing with no client-owned buffer left
// fails with EAGAIN.
func (v *V4L2Camera) Qbuf(index int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.bufferSema == nil {
		return fmt.Errorf("no buffers allocated: %w", camera.ErrInvalidState)
	}
	if !v.bufferSema.TryAcquire(1) {
		return fmt.Errorf("no buffer owned by client space: %w", syscall.EAGAIN)
	}

	req, err := v.buildRequest(index)
	if err != nil {
		v.bufferSema.Release(1)
		return err
	}

	if !v.isRunning {
		v.deferred = append(v.deferred, req)
		v.clientBuffers--
		return nil
	}

	v.pending = append(v.pending, req)
	if err := v.cam.QueueRequest(req); err != nil {
		v.pending = v.pending[:len(v.pending)-1]
		v.bufferSema.Release(1)
		return err
	}
	v.clientBuffers--

	return nil
}

func (v *V4L2Camera) buildRequest(index int) (*camera.Request, error) {
	buffer := v.stream.CreateBuffer(index)
	if buffer == nil {
		return nil, fmt.Errorf("no buffer at index %d: %w", index, camera.ErrInvalidArgument)
	}

	req := v.cam.CreateRequest()
	if req == nil {
		return nil, fmt.Errorf("camera cannot create requests: %w", camera.ErrInvalidState)
	}
	if err := req.AddBuffer(v.stream, buffer); err != nil {
		return nil, err
	}

	return req, nil
}

// StreamOn starts the camera and submits the requests queued before
// stream-on, in queue order.
func (v *V4L2Camera) StreamOn() error {
	if err := v.cam.Start(); err != nil {
		return err
	}

	v.mu.Lock()
	v.isRunning = true
	deferred := v.deferred
	v.deferred = nil
	for _, req := range deferred {
		v.pending = append(v.pending, req)
	}
	v.mu.Unlock()

	for _, req := range deferred {
		if err := v.cam.QueueRequest(req); err != nil {
			return err
		}
	}

	return nil
}

// StreamOff stops the camera. Every pending request completes with a
// cancelled status before StreamOff returns, so consumers waiting on
// completed buffers unblock.
func (v *V4L2Camera) StreamOff() error {
	v.mu.Lock()
	running := v.isRunning
	v.mu.Unlock()

	if running {
		if err := v.cam.Stop(); err != nil {
			return err
		}
	}

	v.mu.Lock()
	v.isRunning = false

	// Requests held back before stream-on never reached the camera;
	// cancel them here.
	for _, req := range v.deferred {
		buffer := req.FindBuffer(v.stream)
		buffer.Status = v4l2.BufferCancelled
		v.completed = append(v.completed, newFrameMetadata(buffer))
		v.clientBuffers++
		v.bufferSema.Release(1)
	}
	v.deferred = nil
	v.mu.Unlock()

	v.signal()

	return nil
}

// CompletedBuffers drains and returns the completed frame metadata
// entries in completion order.
func (v *V4L2Camera) CompletedBuffers() []FrameMetadata {
	v.mu.Lock()
	defer v.mu.Unlock()

	completed := v.completed
	v.completed = nil
	return completed
}

// Completed returns a channel that receives a token whenever new
// completed buffers are available to drain.
func (v *V4L2Camera) Completed() <-chan struct{} {
	return v.notify
}

// ClientOwnedBuffers returns the number of buffers currently owned by
// client space. It equals the buffer semaphore's counter.
func (v *V4L2Camera) ClientOwnedBuffers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.clientBuffers
}

// WaitBuffer blocks until at least one buffer is client-owned or the
// context is cancelled. It does not consume the buffer.
func (v *V4L2Camera) WaitBuffer(ctx context.Context) error {
	v.mu.Lock()
	sema := v.bufferSema
	v.mu.Unlock()

	if sema == nil {
		return fmt.Errorf("no buffers allocated: %w", camera.ErrInvalidState)
	}
	if err := sema.Acquire(ctx, 1); err != nil {
		return err
	}
	sema.Release(1)

	return nil
}

// requestComplete runs in the camera's completion context. Completions
// arrive in submission order, so the completed request is the front of
// the pending queue; anything else is a pipeline bug.
func (v *V4L2Camera) requestComplete(req *camera.Request) {
	v.mu.Lock()

	if len(v.pending) == 0 || v.pending[0] != req {
		v.mu.Unlock()
		v.log.Error("request completed out of order")
		return
	}
	v.pending = v.pending[1:]

	buffer := req.FindBuffer(v.stream)
	v.completed = append(v.completed, newFrameMetadata(buffer))
	v.clientBuffers++
	sema := v.bufferSema
	v.mu.Unlock()

	if sema != nil {
		sema.Release(1)
	}
	v.signal()
}

func (v *V4L2Camera) signal() {
	select {
	case v.notify <- struct{}{}:
	default:
	}
}
