package camera

import (
	"sync"
	"time"
)

// Timer is a single-shot timer. Start arms it with a millisecond
// interval; when the deadline passes the connected callbacks run and one
// token is delivered on the Timeout channel. Stop guarantees no further
// emission; restarting an armed timer is equivalent to Stop followed by
// Start.
type Timer struct {
	mu         sync.Mutex
	timer      *time.Timer
	generation uint64
	running    bool
	slots      []func()
	timeout    chan struct{}
}

// NewTimer creates an idle timer.
func NewTimer() *Timer {
	return &Timer{
		timeout: make(chan struct{}, 1),
	}
}

// ConnectTimeout registers a callback to run when the timer fires.
func (t *Timer) ConnectTimeout(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slots = append(t.slots, fn)
}

// Timeout returns a channel receiving one token per expiry.
func (t *Timer) Timeout() <-chan struct{} {
	return t.timeout
}

// Start arms the timer with a timeout of msec milliseconds, restarting
// it if it was already running.
func (t *Timer) Start(msec uint) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.generation++
	t.running = true

	gen := t.generation
	d := time.Duration(msec) * time.Millisecond
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(d, func() { t.fire(gen) })
}

// Stop disarms the timer. After Stop returns the timer will not fire
// until started again.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.generation++
	t.running = false
	if t.timer != nil {
		t.timer.Stop()
	}
}

// IsRunning reports whether the timer is armed and has not fired.
func (t *Timer) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *Timer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.generation || !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	slots := make([]func(), len(t.slots))
	copy(slots, t.slots)
	t.mu.Unlock()

	select {
	case t.timeout <- struct{}{}:
	default:
	}

	for _, fn := range slots {
		fn()
	}
}
