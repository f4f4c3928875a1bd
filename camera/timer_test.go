package camera

import (
	"testing"
	"time"
)

func TestTimerFiresOnce(t *testing.T) {
	timer := NewTimer()

	fired := 0
	timer.ConnectTimeout(func() { fired++ })

	start := time.Now()
	timer.Start(50)

	if !timer.IsRunning() {
		t.Fatal("timer not running after Start")
	}

	select {
	case <-timer.Timeout():
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
	elapsed := time.Since(start)

	if elapsed < 40*time.Millisecond {
		t.Errorf("timer fired after %v, want >= 40ms", elapsed)
	}
	if timer.IsRunning() {
		t.Error("timer still running after firing")
	}

	// Single shot: no second emission.
	time.Sleep(80 * time.Millisecond)
	if fired != 1 {
		t.Errorf("timer fired %d times, want 1", fired)
	}
}

func TestTimerStopPreventsEmission(t *testing.T) {
	timer := NewTimer()

	fired := 0
	timer.ConnectTimeout(func() { fired++ })

	timer.Start(30)
	timer.Stop()

	if timer.IsRunning() {
		t.Error("timer running after Stop")
	}

	time.Sleep(80 * time.Millisecond)
	if fired != 0 {
		t.Errorf("stopped timer fired %d times", fired)
	}
	select {
	case <-timer.Timeout():
		t.Error("stopped timer delivered a token")
	default:
	}
}

func TestTimerRestart(t *testing.T) {
	timer := NewTimer()

	// Restarting an armed timer is Stop followed by Start: only the
	// second deadline fires.
	timer.Start(20)
	timer.Start(60)

	start := time.Now()
	select {
	case <-timer.Timeout():
	case <-time.After(2 * time.Second):
		t.Fatal("restarted timer did not fire")
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("restarted timer fired after %v, want the new interval", elapsed)
	}
}

func TestTimerReuseAfterStop(t *testing.T) {
	timer := NewTimer()

	timer.Start(30)
	timer.Stop()
	timer.Start(30)

	select {
	case <-timer.Timeout():
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire after restart")
	}
}
