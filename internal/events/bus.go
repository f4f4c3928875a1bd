package events

import (
	"github.com/kelindar/event"
)

// Bus wraps a kelindar/event dispatcher for event broadcasting. Each bus
// is an isolated fan-out domain; the camera manager owns one.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers.
// Usage: bus.Publish(BufferCompletedEvent{...})
func (b *Bus) Publish(ev Event) {
	// The generic Publish needs the concrete type, so dispatch through
	// a type switch.
	switch e := ev.(type) {
	case CameraAddedEvent:
		event.Publish(b.dispatcher, e)
	case CameraRemovedEvent:
		event.Publish(b.dispatcher, e)
	case BufferCompletedEvent:
		event.Publish(b.dispatcher, e)
	case RequestCompletedEvent:
		event.Publish(b.dispatcher, e)
	case MediaDeviceHotplugEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function; the handler's
// parameter type selects which events it receives. Returns an
// unsubscribe function.
// Usage: unsub := bus.Subscribe(func(e RequestCompletedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(CameraAddedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CameraRemovedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(BufferCompletedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(RequestCompletedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(MediaDeviceHotplugEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// Unknown handler type, nothing will be delivered.
		return func() {}
	}
}
