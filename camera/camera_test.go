package camera

import (
	"errors"
	"testing"

	"github.com/XECDesign/libcamera/pkg/linuxav/media"
	"github.com/XECDesign/libcamera/pkg/linuxav/v4l2"
)

// fakePipeline implements PipelineHandler without kernel devices. The
// test drives buffer completions explicitly through completeNext.
type fakePipeline struct {
	*Pipeline

	stream       *Stream
	startErr     error
	configureErr error
	started      bool
	sequence     uint32
}

func newFakePipeline(t *testing.T) (*fakePipeline, *Camera) {
	t.Helper()

	manager := NewCameraManager()
	pipe := &fakePipeline{
		Pipeline: NewPipeline(manager, "fake"),
		stream:   &Stream{},
	}
	cam := NewCamera(pipe, "fake-cam 0", []*Stream{pipe.stream})
	pipe.RegisterCamera(cam)

	return pipe, cam
}

func (p *fakePipeline) Name() string { return "fake" }

func (p *fakePipeline) Match(*media.Enumerator) bool { return true }

func (p *fakePipeline) DefaultConfigurations(cam *Camera, streams []*Stream,
	roles []StreamRole) map[*Stream]StreamConfiguration {
	return map[*Stream]StreamConfiguration{
		p.stream: {Width: 1920, Height: 1080, PixelFormat: v4l2.PixFmtIPU3SGRBG10, BufferCount: 4},
	}
}

func (p *fakePipeline) Configure(cam *Camera, config map[*Stream]StreamConfiguration) error {
	return p.configureErr
}

func (p *fakePipeline) AllocateBuffers(cam *Camera, stream *Stream) error {
	count := stream.Configuration().BufferCount
	if count == 0 {
		return ErrInvalidArgument
	}
	stream.Pool().CreateBuffers(int(count))
	return nil
}

func (p *fakePipeline) FreeBuffers(cam *Camera, stream *Stream) error {
	return stream.Pool().Release()
}

func (p *fakePipeline) Start(cam *Camera) error {
	if p.startErr != nil {
		return p.startErr
	}
	p.started = true
	return nil
}

func (p *fakePipeline) Stop(cam *Camera) {
	p.started = false
	p.CancelQueuedRequests(cam)
}

func (p *fakePipeline) QueueRequest(cam *Camera, req *Request) error {
	if req.FindBuffer(p.stream) == nil {
		return ErrNoEntry
	}
	p.EnqueueRequest(cam, req)
	return nil
}

// completeNext simulates a kernel completion for the head request.
func (p *fakePipeline) completeNext(cam *Camera, status v4l2.BufferStatus) {
	req := p.NextRequest(cam)
	if req == nil {
		return
	}
	buf := req.FindBuffer(p.stream)
	buf.Status = status
	buf.Sequence = p.sequence
	p.sequence++

	if p.CompleteBuffer(cam, req, buf) {
		p.CompleteRequest(cam, req)
	}
}

func prepareCamera(t *testing.T, cam *Camera) {
	t.Helper()

	if err := cam.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	config := cam.GenerateConfiguration(RoleVideoRecording)
	if len(config) != 1 {
		t.Fatalf("GenerateConfiguration returned %d entries, want 1", len(config))
	}
	if err := cam.Configure(config); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if err := cam.AllocateBuffers(); err != nil {
		t.Fatalf("AllocateBuffers failed: %v", err)
	}
}

func queueRequests(t *testing.T, cam *Camera, stream *Stream, count int) []*Request {
	t.Helper()

	var requests []*Request
	for i := 0; i < count; i++ {
		req := cam.CreateRequest()
		if req == nil {
			t.Fatal("CreateRequest returned nil")
		}
		if err := req.AddBuffer(stream, stream.CreateBuffer(i%int(stream.Configuration().BufferCount))); err != nil {
			t.Fatalf("AddBuffer failed: %v", err)
		}
		if err := cam.QueueRequest(req); err != nil {
			t.Fatalf("QueueRequest failed: %v", err)
		}
		requests = append(requests, req)
	}
	return requests
}

func TestStateMachineIllegalTransitions(t *testing.T) {
	tests := []struct {
		name string
		run  func(cam *Camera) error
	}{
		{"configure before acquire", func(cam *Camera) error {
			return cam.Configure(nil)
		}},
		{"allocate before configure", func(cam *Camera) error {
			cam.Acquire()
			return cam.AllocateBuffers()
		}},
		{"start before prepared", func(cam *Camera) error {
			cam.Acquire()
			return cam.Start()
		}},
		{"stop while not running", func(cam *Camera) error {
			return cam.Stop()
		}},
		{"release while available", func(cam *Camera) error {
			return cam.Release()
		}},
		{"double acquire", func(cam *Camera) error {
			cam.Acquire()
			return cam.Acquire()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, cam := newFakePipeline(t)
			if err := tt.run(cam); !errors.Is(err, ErrInvalidState) {
				t.Errorf("got %v, want ErrInvalidState", err)
			}
		})
	}
}

func TestStateMachineLifecycle(t *testing.T) {
	_, cam := newFakePipeline(t)

	if cam.State() != StateAvailable {
		t.Fatalf("initial state = %v, want available", cam.State())
	}

	prepareCamera(t, cam)
	if cam.State() != StatePrepared {
		t.Fatalf("state after allocate = %v, want prepared", cam.State())
	}

	if err := cam.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if cam.State() != StateRunning {
		t.Fatalf("state after start = %v, want running", cam.State())
	}

	if err := cam.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := cam.FreeBuffers(); err != nil {
		t.Fatalf("FreeBuffers failed: %v", err)
	}
	if err := cam.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if cam.State() != StateAvailable {
		t.Fatalf("state after release = %v, want available", cam.State())
	}
}

func TestStartFailureIsRetryable(t *testing.T) {
	pipe, cam := newFakePipeline(t)
	prepareCamera(t, cam)

	pipe.startErr = ErrBusy
	if err := cam.Start(); !errors.Is(err, ErrBusy) {
		t.Fatalf("Start = %v, want ErrBusy", err)
	}
	if cam.State() != StatePrepared {
		t.Fatalf("state after failed start = %v, want prepared", cam.State())
	}

	pipe.startErr = nil
	if err := cam.Start(); err != nil {
		t.Fatalf("retried Start failed: %v", err)
	}
}

func TestRequestCompletionOrder(t *testing.T) {
	pipe, cam := newFakePipeline(t)
	prepareCamera(t, cam)

	var completed []*Request
	cam.ConnectRequestCompleted(func(req *Request) {
		completed = append(completed, req)
	})

	var bufferEvents int
	cam.ConnectBufferCompleted(func(req *Request, buf *v4l2.Buffer) {
		// Every buffer completion must precede its request's
		// completion.
		if req.Status() != RequestPending {
			t.Error("buffer completed after its request")
		}
		bufferEvents++
	})

	if err := cam.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	requests := queueRequests(t, cam, pipe.stream, 4)
	for range requests {
		pipe.completeNext(cam, v4l2.BufferSuccess)
	}

	if len(completed) != len(requests) {
		t.Fatalf("completed %d requests, want %d", len(completed), len(requests))
	}
	for i, req := range requests {
		if completed[i] != req {
			t.Fatalf("completion %d is request %p, want %p (submission order)", i, completed[i], req)
		}
		if req.Status() != RequestComplete {
			t.Errorf("request %d status = %v, want complete", i, req.Status())
		}
	}
	if bufferEvents != len(requests) {
		t.Errorf("buffer completions = %d, want %d", bufferEvents, len(requests))
	}
}

func TestBufferErrorCancelsRequest(t *testing.T) {
	pipe, cam := newFakePipeline(t)
	prepareCamera(t, cam)

	var completed []*Request
	cam.ConnectRequestCompleted(func(req *Request) {
		completed = append(completed, req)
	})

	if err := cam.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	queueRequests(t, cam, pipe.stream, 1)
	pipe.completeNext(cam, v4l2.BufferError)

	if len(completed) != 1 {
		t.Fatalf("completed %d requests, want 1", len(completed))
	}
	if completed[0].Status() != RequestCancelled {
		t.Errorf("status = %v, want cancelled", completed[0].Status())
	}
}

func TestStopCancelsPendingRequests(t *testing.T) {
	pipe, cam := newFakePipeline(t)
	prepareCamera(t, cam)

	var completed []*Request
	cam.ConnectRequestCompleted(func(req *Request) {
		completed = append(completed, req)
	})

	if err := cam.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	requests := queueRequests(t, cam, pipe.stream, 4)

	// One request completes through the "kernel", the rest are flushed
	// by Stop.
	pipe.completeNext(cam, v4l2.BufferSuccess)
	if err := cam.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if len(completed) != len(requests) {
		t.Fatalf("completed %d requests, want %d", len(completed), len(requests))
	}
	if completed[0].Status() != RequestComplete {
		t.Errorf("first request status = %v, want complete", completed[0].Status())
	}
	for i := 1; i < len(completed); i++ {
		if completed[i].Status() != RequestCancelled {
			t.Errorf("request %d status = %v, want cancelled", i, completed[i].Status())
		}
		if completed[i] != requests[i] {
			t.Errorf("cancellation %d out of submission order", i)
		}
	}

	// After Stop no further completions may fire.
	before := len(completed)
	pipe.completeNext(cam, v4l2.BufferSuccess)
	if len(completed) != before {
		t.Error("completion fired after Stop")
	}
}

func TestRestartHasEmptyQueue(t *testing.T) {
	pipe, cam := newFakePipeline(t)
	prepareCamera(t, cam)

	if err := cam.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	queueRequests(t, cam, pipe.stream, 2)
	if err := cam.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if err := cam.Start(); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if pipe.NextRequest(cam) != nil {
		t.Error("request queue not empty after restart")
	}

	var completed int
	cam.ConnectRequestCompleted(func(*Request) { completed++ })
	queueRequests(t, cam, pipe.stream, 2)
	pipe.completeNext(cam, v4l2.BufferSuccess)
	pipe.completeNext(cam, v4l2.BufferSuccess)
	if completed != 2 {
		t.Errorf("completions after restart = %d, want 2", completed)
	}
}

func TestQueueRequestWithoutBuffer(t *testing.T) {
	_, cam := newFakePipeline(t)
	prepareCamera(t, cam)

	if err := cam.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	req := cam.CreateRequest()
	if err := cam.QueueRequest(req); !errors.Is(err, ErrNoEntry) {
		t.Errorf("QueueRequest without buffer = %v, want ErrNoEntry", err)
	}
}

func TestCreateRequestStates(t *testing.T) {
	_, cam := newFakePipeline(t)

	if cam.CreateRequest() != nil {
		t.Error("CreateRequest in available state should return nil")
	}

	prepareCamera(t, cam)
	if cam.CreateRequest() == nil {
		t.Error("CreateRequest in prepared state should succeed")
	}

	if err := cam.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if cam.CreateRequest() == nil {
		t.Error("CreateRequest in running state should succeed")
	}
}

func TestDisconnectStopsDelivery(t *testing.T) {
	pipe, cam := newFakePipeline(t)
	prepareCamera(t, cam)

	var completed int
	disconnect := cam.ConnectRequestCompleted(func(*Request) { completed++ })

	if err := cam.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	queueRequests(t, cam, pipe.stream, 2)

	pipe.completeNext(cam, v4l2.BufferSuccess)
	disconnect()
	pipe.completeNext(cam, v4l2.BufferSuccess)

	if completed != 1 {
		t.Errorf("completions delivered = %d, want 1", completed)
	}
}

func TestConfigureFailureKeepsState(t *testing.T) {
	pipe, cam := newFakePipeline(t)

	if err := cam.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	pipe.configureErr = ErrInvalidArgument
	config := cam.GenerateConfiguration(RoleVideoRecording)
	if err := cam.Configure(config); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("Configure = %v, want ErrInvalidArgument", err)
	}
	if cam.State() != StateAcquired {
		t.Fatalf("state after failed configure = %v, want acquired", cam.State())
	}

	// Reconfiguring after the failure succeeds.
	pipe.configureErr = nil
	if err := cam.Configure(config); err != nil {
		t.Fatalf("Configure retry failed: %v", err)
	}
	if cam.State() != StateConfigured {
		t.Fatalf("state = %v, want configured", cam.State())
	}
}

func TestAllocateZeroBuffers(t *testing.T) {
	_, cam := newFakePipeline(t)

	if err := cam.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	config := cam.GenerateConfiguration(RoleVideoRecording)
	for stream, cfg := range config {
		cfg.BufferCount = 0
		config[stream] = cfg
	}
	if err := cam.Configure(config); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	if err := cam.AllocateBuffers(); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("AllocateBuffers with zero count = %v, want ErrInvalidArgument", err)
	}
	if cam.State() != StateConfigured {
		t.Fatalf("state = %v, want configured", cam.State())
	}
}

func TestManagerGet(t *testing.T) {
	_, cam := newFakePipeline(t)
	manager := cam.pipe.(*fakePipeline).Manager()

	if got := manager.Get("fake-cam 0"); got != cam {
		t.Errorf("Get returned %v, want the registered camera", got)
	}
	if manager.Get("missing") != nil {
		t.Error("Get for unknown camera should return nil")
	}
	if cams := manager.Cameras(); len(cams) != 1 || cams[0] != cam {
		t.Errorf("Cameras() = %v, want the registered camera", cams)
	}
}
