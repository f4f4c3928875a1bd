//go:build linux

// Package hotplug provides pure Go device hotplug monitoring using
// netlink.
//
// The monitor listens to kernel uevent broadcasts without cgo and
// reports device add/remove events for the subsystems it was created
// for. The camera manager uses it to observe media devices appearing
// and disappearing at runtime.
package hotplug

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"syscall"
)

// Action constants for device events.
const (
	ActionAdd    = "add"
	ActionRemove = "remove"
	ActionChange = "change"
)

// Subsystem names relevant to capture devices.
const (
	SubsystemMedia       = "media"
	SubsystemVideo4Linux = "video4linux"
)

// Event represents a kernel device event.
type Event struct {
	Action    string // "add", "remove", "change", ...
	Subsystem string // "media", "video4linux", ...
	DevName   string // device name, e.g. "media0"
	KObj      string // kernel object path
}

// DevNode returns the /dev path of the event's device, or an empty
// string when the event carries no device name.
func (e *Event) DevNode() string {
	if e.DevName == "" {
		return ""
	}
	return "/dev/" + e.DevName
}

// netlinkKobjectUEvent is the netlink protocol for kernel object events.
const netlinkKobjectUEvent = 15

// Monitor listens for kernel device events via netlink and filters them
// to a fixed set of subsystems.
type Monitor struct {
	fd         int
	subsystems map[string]struct{}
}

// NewMonitor creates a device event monitor for the given subsystems.
// With no subsystems, every event passes through.
func NewMonitor(subsystems ...string) (*Monitor, error) {
	fd, err := syscall.Socket(syscall.AF_NETLINK, syscall.SOCK_DGRAM|syscall.SOCK_CLOEXEC, netlinkKobjectUEvent)
	if err != nil {
		return nil, err
	}

	// Bind to the kernel broadcast group.
	addr := &syscall.SockaddrNetlink{
		Family: syscall.AF_NETLINK,
		Groups: 1,
	}
	if err := syscall.Bind(fd, addr); err != nil {
		syscall.Close(fd)
		return nil, err
	}

	m := &Monitor{
		fd:         fd,
		subsystems: make(map[string]struct{}),
	}
	for _, s := range subsystems {
		m.subsystems[s] = struct{}{}
	}

	return m, nil
}

// Close releases the monitor resources.
func (m *Monitor) Close() error {
	return syscall.Close(m.fd)
}

// Run reads kernel events and sends the matching ones to the channel. It
// blocks until the context is cancelled or a read error occurs, and
// closes the channel on return.
func (m *Monitor) Run(ctx context.Context, events chan<- Event) error {
	defer close(events)

	buf := make([]byte, 8192)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// A read timeout lets the loop observe context cancellation.
		tv := syscall.Timeval{Sec: 1}
		if err := syscall.SetsockoptTimeval(m.fd, syscall.SOL_SOCKET, syscall.SO_RCVTIMEO, &tv); err != nil {
			return err
		}

		n, _, err := syscall.Recvfrom(m.fd, buf, 0)
		if err != nil {
			if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) ||
				errors.Is(err, syscall.EINTR) {
				continue
			}
			return err
		}
		if n == 0 {
			continue
		}

		event := ParseUEvent(buf[:n])
		if event == nil {
			continue
		}

		if len(m.subsystems) > 0 {
			if _, ok := m.subsystems[event.Subsystem]; !ok {
				continue
			}
		}

		select {
		case events <- *event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ParseUEvent parses a kernel uevent message of the form
// "ACTION@KOBJ\0KEY=VALUE\0KEY=VALUE\0...". Exported for testing.
func ParseUEvent(data []byte) *Event {
	parts := bytes.Split(data, []byte{0})
	if len(parts) == 0 || len(parts[0]) == 0 {
		return nil
	}

	header := string(parts[0])
	atIdx := strings.Index(header, "@")
	if atIdx < 1 {
		return nil
	}

	event := &Event{
		Action: header[:atIdx],
		KObj:   header[atIdx+1:],
	}

	for _, part := range parts[1:] {
		kv := string(part)
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}

		switch key {
		case "SUBSYSTEM":
			event.Subsystem = value
		case "DEVNAME":
			event.DevName = value
		}
	}

	return event
}
