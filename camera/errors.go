package camera

import "errors"

// Error kinds surfaced by the framework. Lower layers wrap kernel errnos;
// these sentinels classify framework-level failures and are matched with
// errors.Is.
var (
	// ErrNoDevice reports that a required media device is absent or no
	// sensor produces an acceptable format.
	ErrNoDevice = errors.New("no such device")

	// ErrBusy reports that a shared resource is held: a media device
	// already acquired or a buffer pool still in use.
	ErrBusy = errors.New("device or resource busy")

	// ErrInvalidArgument reports a malformed configuration or request.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidState reports a camera operation issued in a state that
	// does not permit it.
	ErrInvalidState = errors.New("invalid camera state")

	// ErrNoEntry reports a queued request lacking a buffer for a
	// required stream.
	ErrNoEntry = errors.New("no such entry")
)
