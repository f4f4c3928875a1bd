package camera

import (
	"log/slog"
	"sync"

	"github.com/XECDesign/libcamera/internal/events"
	"github.com/XECDesign/libcamera/internal/logging"
	"github.com/XECDesign/libcamera/pkg/linuxav/media"
	"github.com/XECDesign/libcamera/pkg/linuxav/v4l2"
)

// PipelineHandler is the per-hardware-family plugin interface. A handler
// matches the media graph, registers cameras, and implements the camera
// operations by programming the kernel devices it owns.
type PipelineHandler interface {
	// Name returns the handler name used in logs and registration.
	Name() string

	// Match searches the enumerator for the media devices the handler
	// supports and registers a camera per viable sensor. It returns
	// true if at least one camera was registered.
	Match(enum *media.Enumerator) bool

	// DefaultConfigurations suggests a configuration per stream for
	// the given roles.
	DefaultConfigurations(cam *Camera, streams []*Stream, roles []StreamRole) map[*Stream]StreamConfiguration

	// Configure applies the per-stream configurations to the devices.
	Configure(cam *Camera, config map[*Stream]StreamConfiguration) error

	// AllocateBuffers exports stream.Configuration().BufferCount
	// buffers into the stream's pool.
	AllocateBuffers(cam *Camera, stream *Stream) error

	// FreeBuffers releases the stream's buffers.
	FreeBuffers(cam *Camera, stream *Stream) error

	// Start begins streaming on the camera's devices.
	Start(cam *Camera) error

	// Stop ends streaming and flushes all queued requests to
	// cancellation.
	Stop(cam *Camera)

	// QueueRequest hands the request's buffers to the devices and
	// records the request for in-order completion.
	QueueRequest(cam *Camera, req *Request) error
}

// Pipeline is the request/buffer engine embedded by pipeline handlers:
// it keeps the per-camera FIFO of in-flight requests and provides the
// completion primitives that drive the camera's signals.
type Pipeline struct {
	manager *CameraManager

	mu     sync.Mutex
	queues map[*Camera][]*Request

	log *slog.Logger
}

// NewPipeline creates the engine state for a pipeline handler owned by
// manager.
func NewPipeline(manager *CameraManager, name string) *Pipeline {
	return &Pipeline{
		manager: manager,
		queues:  make(map[*Camera][]*Request),
		log:     logging.GetLogger("pipeline").With("pipeline", name),
	}
}

// Manager returns the owning camera manager.
func (p *Pipeline) Manager() *CameraManager {
	return p.manager
}

// RegisterCamera publishes a camera constructed by the handler to the
// manager.
func (p *Pipeline) RegisterCamera(cam *Camera) {
	p.mu.Lock()
	p.queues[cam] = nil
	p.mu.Unlock()

	p.manager.addCamera(cam)
}

// EnqueueRequest appends a request to the camera's FIFO. Handlers call
// it after the request's buffers were handed to the kernel.
func (p *Pipeline) EnqueueRequest(cam *Camera, req *Request) {
	p.mu.Lock()
	p.queues[cam] = append(p.queues[cam], req)
	p.mu.Unlock()
}

// NextRequest returns the FIFO head of the camera's queued requests
// without removing it, or nil when the queue is empty.
func (p *Pipeline) NextRequest(cam *Camera) *Request {
	p.mu.Lock()
	defer p.mu.Unlock()

	queue := p.queues[cam]
	if len(queue) == 0 {
		return nil
	}
	return queue[0]
}

// CompleteBuffer accounts one buffer of a request as finished and fires
// the camera's BufferCompleted callbacks.
func (p *Pipeline) CompleteBuffer(cam *Camera, req *Request, buf *v4l2.Buffer) bool {
	done := req.completeBuffer(buf)

	cam.emitBufferCompleted(req, buf)
	p.manager.bus.Publish(events.BufferCompletedEvent{
		Camera:   cam.Name(),
		Index:    buf.Index,
		Sequence: buf.Sequence,
		Status:   buf.Status.String(),
	})

	return done
}

// CompleteRequest finalises the FIFO head request and fires the camera's
// RequestCompleted callbacks. Completing a request that is not the head
// indicates a pipeline bug and is logged.
func (p *Pipeline) CompleteRequest(cam *Camera, req *Request) {
	p.mu.Lock()
	queue := p.queues[cam]
	if len(queue) == 0 || queue[0] != req {
		p.mu.Unlock()
		p.log.Error("request completed out of submission order", "camera", cam.Name())
		return
	}
	p.queues[cam] = queue[1:]
	p.mu.Unlock()

	req.complete()

	cam.emitRequestCompleted(req)
	p.manager.bus.Publish(events.RequestCompletedEvent{
		Camera: cam.Name(),
		Status: req.Status().String(),
	})
}

// CancelQueuedRequests flushes the camera's FIFO: every queued request
// completes with a cancelled status, its unfinished buffers first. Used
// by handlers on Stop; it must not block on kernel completions.
func (p *Pipeline) CancelQueuedRequests(cam *Camera) {
	p.mu.Lock()
	queue := p.queues[cam]
	p.queues[cam] = nil
	p.mu.Unlock()

	for _, req := range queue {
		req.cancel()
		for _, buf := range req.pendingBuffers() {
			buf.Status = v4l2.BufferCancelled
			req.completeBuffer(buf)
			cam.emitBufferCompleted(req, buf)
		}

		req.complete()
		cam.emitRequestCompleted(req)
		p.manager.bus.Publish(events.RequestCompletedEvent{
			Camera: cam.Name(),
			Status: req.Status().String(),
		})
	}
}

// pipelineFactory creates a pipeline handler bound to a manager.
type pipelineFactory struct {
	name string
	fn   func(*CameraManager) PipelineHandler
}

var (
	factoriesMu sync.Mutex
	factories   []pipelineFactory
)

// RegisterPipelineHandler adds a pipeline handler factory to the
// process-wide registry. Handlers call it from an init function; the
// camera manager instantiates every registered handler at Start.
func RegisterPipelineHandler(name string, fn func(*CameraManager) PipelineHandler) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()

	factories = append(factories, pipelineFactory{name: name, fn: fn})
}

func registeredFactories() []pipelineFactory {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()

	return append([]pipelineFactory(nil), factories...)
}
