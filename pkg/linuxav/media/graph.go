//go:build linux

package media

import (
	"fmt"
	"os"
	"strings"
)

// Entity functions, from linux/media.h.
const (
	EntityFunctionCamSensor = 0x00020001
)

// Pad flags.
const (
	PadFlagSink   = 0x00000001
	PadFlagSource = 0x00000002
)

// Link flags.
const (
	LinkFlagEnabled   = 0x00000001
	LinkFlagImmutable = 0x00000002
)

// Entity is one vertex of the media graph: a sensor, receiver, processing
// subdevice or video device node.
type Entity struct {
	ID       uint32
	Name     string
	Function uint32
	Flags    uint32

	major uint32
	minor uint32

	pads   []*Pad
	device *MediaDevice
}

// Pads returns the entity's pads in index order.
func (e *Entity) Pads() []*Pad {
	return e.pads
}

// Pad returns the pad at index, or nil.
func (e *Entity) Pad(index uint32) *Pad {
	if int(index) >= len(e.pads) {
		return nil
	}
	return e.pads[index]
}

// DeviceNode resolves the /dev path of the entity's character device
// through /sys/dev/char.
func (e *Entity) DeviceNode() (string, error) {
	if e.major == 0 && e.minor == 0 {
		return "", fmt.Errorf("entity %q has no device node", e.Name)
	}

	uevent := fmt.Sprintf("/sys/dev/char/%d:%d/uevent", e.major, e.minor)
	data, err := os.ReadFile(uevent)
	if err != nil {
		return "", fmt.Errorf("failed to resolve device node of %q: %w", e.Name, err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		if name, ok := strings.CutPrefix(line, "DEVNAME="); ok {
			return "/dev/" + name, nil
		}
	}

	return "", fmt.Errorf("no DEVNAME for entity %q in %s", e.Name, uevent)
}

// Pad is an addressable terminal on an entity, either a sink or a source.
type Pad struct {
	Entity *Entity
	Index  uint32
	Flags  uint32

	links []*Link
}

// Links returns the links attached to the pad.
func (p *Pad) Links() []*Link {
	return p.links
}

// Link is a directed edge from a source pad to a sink pad.
type Link struct {
	Source *Pad
	Sink   *Pad
	Flags  uint32

	device *MediaDevice
}

// Enabled reports whether the link is currently enabled.
func (l *Link) Enabled() bool {
	return l.Flags&LinkFlagEnabled != 0
}

// SetEnabled enables or disables the link. The owning media device must
// be open.
func (l *Link) SetEnabled(enable bool) error {
	flags := l.Flags &^ uint32(LinkFlagEnabled)
	if enable {
		flags |= LinkFlagEnabled
	}

	if err := l.device.setupLink(l, flags); err != nil {
		return err
	}

	l.Flags = flags

	return nil
}
