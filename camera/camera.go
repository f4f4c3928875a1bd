// Package camera implements the capture framework core: the per-camera
// state machine, the request/buffer completion engine shared by pipeline
// handlers, the camera manager with its pipeline handler registry, and a
// single-shot timer.
//
// Applications discover cameras through a CameraManager, acquire one,
// negotiate stream configurations, allocate buffers, and submit capture
// requests. Completion is delivered through the BufferCompleted and
// RequestCompleted callbacks, fired in submission order from the
// pipeline's completion context.
package camera

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/XECDesign/libcamera/internal/logging"
	"github.com/XECDesign/libcamera/pkg/linuxav/v4l2"
)

// State is the camera lifecycle state.
type State int

// Camera states.
const (
	StateAvailable State = iota
	StateAcquired
	StateConfigured
	StatePrepared
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateAvailable:
		return "available"
	case StateAcquired:
		return "acquired"
	case StateConfigured:
		return "configured"
	case StatePrepared:
		return "prepared"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Camera is the public per-camera façade. All operations are serialized
// by the camera's state machine; completion callbacks fire from the
// pipeline's completion context.
type Camera struct {
	name    string
	pipe    PipelineHandler
	streams []*Stream

	mu    sync.Mutex
	state State

	slotMu           sync.Mutex
	nextSlot         int
	bufferCompleted  map[int]func(*Request, *v4l2.Buffer)
	requestCompleted map[int]func(*Request)

	log *slog.Logger
}

// NewCamera creates a camera owned by the given pipeline handler. Used
// by pipeline handlers during camera registration.
func NewCamera(pipe PipelineHandler, name string, streams []*Stream) *Camera {
	return &Camera{
		name:             name,
		pipe:             pipe,
		streams:          streams,
		state:            StateAvailable,
		bufferCompleted:  make(map[int]func(*Request, *v4l2.Buffer)),
		requestCompleted: make(map[int]func(*Request)),
		log:              logging.GetLogger("camera").With("camera", name),
	}
}

// Name returns the camera name.
func (c *Camera) Name() string {
	return c.name
}

// Streams returns the camera's streams.
func (c *Camera) Streams() []*Stream {
	return c.streams
}

// State returns the current lifecycle state.
func (c *Camera) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConnectBufferCompleted registers a callback fired for every buffer
// completion, before the owning request completes. The returned function
// disconnects the callback.
func (c *Camera) ConnectBufferCompleted(fn func(*Request, *v4l2.Buffer)) func() {
	c.slotMu.Lock()
	defer c.slotMu.Unlock()

	slot := c.nextSlot
	c.nextSlot++
	c.bufferCompleted[slot] = fn

	return func() {
		c.slotMu.Lock()
		defer c.slotMu.Unlock()
		delete(c.bufferCompleted, slot)
	}
}

// ConnectRequestCompleted registers a callback fired when a request
// completes, in submission order. The returned function disconnects the
// callback.
func (c *Camera) ConnectRequestCompleted(fn func(*Request)) func() {
	c.slotMu.Lock()
	defer c.slotMu.Unlock()

	slot := c.nextSlot
	c.nextSlot++
	c.requestCompleted[slot] = fn

	return func() {
		c.slotMu.Lock()
		defer c.slotMu.Unlock()
		delete(c.requestCompleted, slot)
	}
}

func (c *Camera) emitBufferCompleted(req *Request, buf *v4l2.Buffer) {
	c.slotMu.Lock()
	slots := make([]func(*Request, *v4l2.Buffer), 0, len(c.bufferCompleted))
	for _, fn := range c.bufferCompleted {
		slots = append(slots, fn)
	}
	c.slotMu.Unlock()

	for _, fn := range slots {
		fn(req, buf)
	}
}

func (c *Camera) emitRequestCompleted(req *Request) {
	c.slotMu.Lock()
	slots := make([]func(*Request), 0, len(c.requestCompleted))
	for _, fn := range c.requestCompleted {
		slots = append(slots, fn)
	}
	c.slotMu.Unlock()

	for _, fn := range slots {
		fn(req)
	}
}

func (c *Camera) transition(from []State, to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range from {
		if c.state == s {
			c.state = to
			return nil
		}
	}

	return fmt.Errorf("camera %q is %s: %w", c.name, c.state, ErrInvalidState)
}

func (c *Camera) inState(states ...State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range states {
		if c.state == s {
			return true
		}
	}
	return false
}

// Acquire claims exclusive use of the camera.
func (c *Camera) Acquire() error {
	return c.transition([]State{StateAvailable}, StateAcquired)
}

// Release returns the camera to the available state. The camera must not
// be running.
func (c *Camera) Release() error {
	return c.transition([]State{StateAcquired, StateConfigured, StatePrepared}, StateAvailable)
}

// GenerateConfiguration produces default stream configurations for the
// given roles.
func (c *Camera) GenerateConfiguration(roles ...StreamRole) map[*Stream]StreamConfiguration {
	return c.pipe.DefaultConfigurations(c, c.streams, roles)
}

// Configure applies the given per-stream configurations through the
// pipeline handler. On failure the device-side state is unspecified and
// Configure must be reissued before streaming.
func (c *Camera) Configure(config map[*Stream]StreamConfiguration) error {
	if !c.inState(StateAcquired, StateConfigured) {
		return fmt.Errorf("camera %q is %s: %w", c.name, c.State(), ErrInvalidState)
	}

	if err := c.pipe.Configure(c, config); err != nil {
		return err
	}

	for stream, cfg := range config {
		stream.config = cfg
	}

	return c.transition([]State{StateAcquired, StateConfigured}, StateConfigured)
}

// AllocateBuffers exports the configured buffer count for every stream.
func (c *Camera) AllocateBuffers() error {
	if !c.inState(StateConfigured) {
		return fmt.Errorf("camera %q is %s: %w", c.name, c.State(), ErrInvalidState)
	}

	for _, stream := range c.streams {
		if err := c.pipe.AllocateBuffers(c, stream); err != nil {
			return err
		}
	}

	return c.transition([]State{StateConfigured}, StatePrepared)
}

// FreeBuffers releases the streams' buffers.
func (c *Camera) FreeBuffers() error {
	if !c.inState(StatePrepared) {
		return fmt.Errorf("camera %q is %s: %w", c.name, c.State(), ErrInvalidState)
	}

	for _, stream := range c.streams {
		if err := c.pipe.FreeBuffers(c, stream); err != nil {
			return err
		}
	}

	return c.transition([]State{StatePrepared}, StateConfigured)
}

// CreateRequest creates an empty capture request. Valid while the camera
// is prepared or running.
func (c *Camera) CreateRequest() *Request {
	if !c.inState(StatePrepared, StateRunning) {
		return nil
	}
	return newRequest(c)
}

// QueueRequest submits a populated request for capture. Valid only while
// running.
func (c *Camera) QueueRequest(req *Request) error {
	if !c.inState(StateRunning) {
		return fmt.Errorf("camera %q is %s: %w", c.name, c.State(), ErrInvalidState)
	}

	return c.pipe.QueueRequest(c, req)
}

// Start begins streaming. The request queue starts empty.
func (c *Camera) Start() error {
	if err := c.transition([]State{StatePrepared}, StateRunning); err != nil {
		return err
	}

	if err := c.pipe.Start(c); err != nil {
		// Roll the state back so the failure is retryable.
		c.transition([]State{StateRunning}, StatePrepared)
		return err
	}

	c.log.Info("started")

	return nil
}

// Stop ends streaming. Every pending request completes with a cancelled
// status before Stop returns; no completion callbacks fire afterwards
// for requests queued before the stop.
func (c *Camera) Stop() error {
	if err := c.transition([]State{StateRunning}, StatePrepared); err != nil {
		return err
	}

	c.pipe.Stop(c)
	c.log.Info("stopped")

	return nil
}
