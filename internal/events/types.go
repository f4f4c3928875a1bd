package events

// Event type constants for kelindar/event.
const (
	TypeCameraAdded uint32 = iota + 1
	TypeCameraRemoved
	TypeBufferCompleted
	TypeRequestCompleted
	TypeMediaDeviceHotplug
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// CameraAddedEvent is published when a pipeline handler registers a
// camera with the manager.
type CameraAddedEvent struct {
	Camera   string
	Pipeline string
}

// Type returns the event type identifier for CameraAddedEvent.
func (e CameraAddedEvent) Type() uint32 { return TypeCameraAdded }

// CameraRemovedEvent is published when a camera disappears from the
// manager.
type CameraRemovedEvent struct {
	Camera string
}

// Type returns the event type identifier for CameraRemovedEvent.
func (e CameraRemovedEvent) Type() uint32 { return TypeCameraRemoved }

// BufferCompletedEvent mirrors a buffer completion for asynchronous
// consumers such as metrics. The in-order delivery path is the camera's
// BufferCompleted callback, not this event.
type BufferCompletedEvent struct {
	Camera   string
	Index    int
	Sequence uint32
	Status   string
}

// Type returns the event type identifier for BufferCompletedEvent.
func (e BufferCompletedEvent) Type() uint32 { return TypeBufferCompleted }

// RequestCompletedEvent mirrors a request completion for asynchronous
// consumers.
type RequestCompletedEvent struct {
	Camera string
	Status string
}

// Type returns the event type identifier for RequestCompletedEvent.
func (e RequestCompletedEvent) Type() uint32 { return TypeRequestCompleted }

// MediaDeviceHotplugEvent is published when the kernel reports a media
// device appearing or disappearing.
type MediaDeviceHotplugEvent struct {
	Action  string
	DevPath string
}

// Type returns the event type identifier for MediaDeviceHotplugEvent.
func (e MediaDeviceHotplugEvent) Type() uint32 { return TypeMediaDeviceHotplug }
