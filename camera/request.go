package camera

import (
	"fmt"
	"sync"

	"github.com/XECDesign/libcamera/pkg/linuxav/v4l2"
)

// RequestStatus reports how a capture request completed.
type RequestStatus int

// Request statuses.
const (
	RequestPending RequestStatus = iota
	RequestComplete
	RequestCancelled
)

func (s RequestStatus) String() string {
	switch s {
	case RequestPending:
		return "pending"
	case RequestComplete:
		return "complete"
	case RequestCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Request is a client-constructed capture transaction: one buffer per
// stream, treated as a unit. The request borrows its buffers for its
// lifetime and releases them on completion.
type Request struct {
	camera *Camera

	mu        sync.Mutex
	buffers   map[*Stream]*v4l2.Buffer
	pending   map[*v4l2.Buffer]struct{}
	status    RequestStatus
	cancelled bool
}

func newRequest(cam *Camera) *Request {
	return &Request{
		camera:  cam,
		buffers: make(map[*Stream]*v4l2.Buffer),
		pending: make(map[*v4l2.Buffer]struct{}),
		status:  RequestPending,
	}
}

// Camera returns the camera the request was created for.
func (r *Request) Camera() *Camera {
	return r.camera
}

// AddBuffer associates a buffer with a stream in the request. A stream
// may carry at most one buffer per request.
func (r *Request) AddBuffer(stream *Stream, buffer *v4l2.Buffer) error {
	if stream == nil || buffer == nil {
		return fmt.Errorf("nil stream or buffer: %w", ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.buffers[stream]; exists {
		return fmt.Errorf("stream already has a buffer: %w", ErrInvalidArgument)
	}
	r.buffers[stream] = buffer
	r.pending[buffer] = struct{}{}

	return nil
}

// Buffers returns the stream to buffer mapping of the request.
func (r *Request) Buffers() map[*Stream]*v4l2.Buffer {
	r.mu.Lock()
	defer r.mu.Unlock()

	buffers := make(map[*Stream]*v4l2.Buffer, len(r.buffers))
	for s, b := range r.buffers {
		buffers[s] = b
	}
	return buffers
}

// FindBuffer returns the buffer the request carries for stream, or nil.
func (r *Request) FindBuffer(stream *Stream) *v4l2.Buffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buffers[stream]
}

// Status returns the request completion status.
func (r *Request) Status() RequestStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// completeBuffer accounts one of the request's buffers as finished and
// reports whether all buffers have now completed.
func (r *Request) completeBuffer(buffer *v4l2.Buffer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.pending, buffer)
	if buffer.Status != v4l2.BufferSuccess {
		r.cancelled = true
	}

	return len(r.pending) == 0
}

// pendingBuffers returns the buffers that have not completed yet.
func (r *Request) pendingBuffers() []*v4l2.Buffer {
	r.mu.Lock()
	defer r.mu.Unlock()

	buffers := make([]*v4l2.Buffer, 0, len(r.pending))
	for b := range r.pending {
		buffers = append(buffers, b)
	}
	return buffers
}

// complete finalises the request status from its buffer outcomes.
func (r *Request) complete() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancelled {
		r.status = RequestCancelled
	} else {
		r.status = RequestComplete
	}
}

// cancel marks the request as cancelled. Its buffers are left unchanged;
// the caller sets their status.
func (r *Request) cancel() {
	r.mu.Lock()
	r.cancelled = true
	r.mu.Unlock()
}
