//go:build linux

package media

import (
	"log/slog"
	"path/filepath"
	"sort"
)

// DeviceMatch describes the media device a pipeline handler requires: a
// driver name plus the set of entity names that must be present.
type DeviceMatch struct {
	driver   string
	entities []string
}

// NewDeviceMatch creates a match for the given kernel driver name.
func NewDeviceMatch(driver string) *DeviceMatch {
	return &DeviceMatch{driver: driver}
}

// Add appends a required entity name.
func (dm *DeviceMatch) Add(entity string) {
	dm.entities = append(dm.entities, entity)
}

// Driver returns the required driver name.
func (dm *DeviceMatch) Driver() string {
	return dm.driver
}

// Entities returns the required entity names.
func (dm *DeviceMatch) Entities() []string {
	return dm.entities
}

// Match reports whether dev satisfies the match: same driver and every
// required entity present.
func (dm *DeviceMatch) Match(dev *MediaDevice) bool {
	if dev.Driver() != dm.driver {
		return false
	}

	for _, name := range dm.entities {
		if dev.EntityByName(name) == nil {
			return false
		}
	}

	return true
}

// Enumerator discovers the media devices present on the system and
// answers match queries from pipeline handlers.
type Enumerator struct {
	devices []*MediaDevice

	log *slog.Logger
}

// NewEnumerator creates an empty enumerator; call Scan to discover
// devices.
func NewEnumerator() *Enumerator {
	return &Enumerator{
		log: slog.With("module", "media"),
	}
}

// Scan discovers all media devices under /dev and populates their
// graphs. Devices that fail to populate are skipped. The result order is
// stable for a fixed set of device nodes.
func (e *Enumerator) Scan() error {
	paths, err := filepath.Glob("/dev/media*")
	if err != nil {
		return err
	}
	sort.Strings(paths)

	e.devices = nil
	for _, path := range paths {
		dev := NewMediaDevice(path)
		if err := dev.Populate(); err != nil {
			e.log.Debug("skipping media device", "path", path, "error", err)
			continue
		}
		e.devices = append(e.devices, dev)
	}

	e.log.Debug("enumerated media devices", "count", len(e.devices))

	return nil
}

// Devices returns all discovered media devices.
func (e *Enumerator) Devices() []*MediaDevice {
	return e.devices
}

// Search returns the first non-busy media device satisfying dm, or nil.
// Devices acquired by another pipeline handler are skipped, so a
// successful caller may acquire the result immediately.
func (e *Enumerator) Search(dm *DeviceMatch) *MediaDevice {
	for _, dev := range e.devices {
		if dev.Busy() {
			continue
		}
		if dm.Match(dev) {
			return dev
		}
	}

	return nil
}
