package events

import (
	"testing"
	"time"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan BufferCompletedEvent, 1)

	unsub := bus.Subscribe(func(e BufferCompletedEvent) {
		received <- e
	})
	defer unsub()

	ev := BufferCompletedEvent{
		Camera:   "imx258 0",
		Index:    2,
		Sequence: 17,
		Status:   "success",
	}
	bus.Publish(ev)

	got := <-received
	if got != ev {
		t.Errorf("received %+v, want %+v", got, ev)
	}
}

func TestBusMultipleSubscribers(_ *testing.T) {
	bus := New()
	received1 := make(chan CameraAddedEvent, 1)
	received2 := make(chan CameraAddedEvent, 1)

	unsub1 := bus.Subscribe(func(e CameraAddedEvent) {
		received1 <- e
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(e CameraAddedEvent) {
		received2 <- e
	})
	defer unsub2()

	bus.Publish(CameraAddedEvent{Camera: "imx258 0", Pipeline: "ipu3"})

	<-received1
	<-received2
}

func TestBusUnsubscribe(t *testing.T) {
	bus := New()
	received := make(chan RequestCompletedEvent, 1)

	unsub := bus.Subscribe(func(e RequestCompletedEvent) {
		received <- e
	})

	bus.Publish(RequestCompletedEvent{Camera: "imx258 0", Status: "complete"})
	<-received

	unsub()

	bus.Publish(RequestCompletedEvent{Camera: "imx258 0", Status: "cancelled"})
	select {
	case <-received:
		t.Fatal("should not have received event after unsubscribe")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}
}

func TestBusTypeSafety(t *testing.T) {
	bus := New()

	bufferReceived := make(chan bool, 1)
	requestReceived := make(chan bool, 1)

	unsub1 := bus.Subscribe(func(_ BufferCompletedEvent) {
		bufferReceived <- true
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(_ RequestCompletedEvent) {
		requestReceived <- true
	})
	defer unsub2()

	bus.Publish(BufferCompletedEvent{Camera: "imx258 0"})
	<-bufferReceived

	select {
	case <-requestReceived:
		t.Fatal("request subscriber should not see buffer events")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBusUnknownHandler(t *testing.T) {
	bus := New()

	unsub := bus.Subscribe(func(int) {})
	// Unknown handler types subscribe to nothing; unsubscribing them is
	// a no-op.
	unsub()

	bus.Publish(CameraRemovedEvent{Camera: "imx258 0"})
}
