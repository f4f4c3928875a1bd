//go:build linux

package media

import (
	"errors"
	"fmt"
	"log/slog"
	"syscall"
	"unsafe"
)

// MediaDevice models one media controller device node and the graph it
// exposes. The device is shared between pipeline handlers during match,
// but only one handler may acquire it; acquisition is exclusive until
// released.
type MediaDevice struct {
	path string
	fd   int

	driver string
	model  string

	entities []*Entity

	acquired bool

	log *slog.Logger
}

// NewMediaDevice creates an unopened, unpopulated handle for the media
// device node at path.
func NewMediaDevice(path string) *MediaDevice {
	return &MediaDevice{
		path: path,
		fd:   -1,
		log:  slog.With("module", "media", "device", path),
	}
}

// Path returns the device node path.
func (m *MediaDevice) Path() string {
	return m.path
}

// Driver returns the kernel driver name reported by the device.
func (m *MediaDevice) Driver() string {
	return m.driver
}

// Model returns the device model string.
func (m *MediaDevice) Model() string {
	return m.model
}

// Entities returns all graph entities in enumeration order.
func (m *MediaDevice) Entities() []*Entity {
	return m.entities
}

// EntityByName returns the entity with the given name, or nil.
func (m *MediaDevice) EntityByName(name string) *Entity {
	for _, e := range m.entities {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// Acquire claims exclusive ownership of the device. It returns false if
// the device is already acquired.
func (m *MediaDevice) Acquire() bool {
	if m.acquired {
		return false
	}
	m.acquired = true
	return true
}

// Release gives up exclusive ownership of the device.
func (m *MediaDevice) Release() {
	m.acquired = false
}

// Busy reports whether the device is acquired by a user.
func (m *MediaDevice) Busy() bool {
	return m.acquired
}

// Open opens the device node. Open is only required around link setup;
// graph discovery opens and closes the node itself.
func (m *MediaDevice) Open() error {
	if m.fd >= 0 {
		return nil
	}

	fd, err := syscall.Open(m.path, syscall.O_RDWR|syscall.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", m.path, err)
	}
	m.fd = fd

	return nil
}

// Close closes the device node.
func (m *MediaDevice) Close() {
	if m.fd < 0 {
		return
	}
	syscall.Close(m.fd)
	m.fd = -1
}

// Populate opens the device node, reads the driver identity and the full
// graph of entities, pads and links, and closes the node again.
func (m *MediaDevice) Populate() error {
	if err := m.Open(); err != nil {
		return err
	}
	defer m.Close()

	info := mediaDeviceInfo{}
	if err := ioctl(m.fd, mediaIocDeviceInfo, unsafe.Pointer(&info)); err != nil {
		return fmt.Errorf("failed to read device info of %s: %w", m.path, err)
	}
	m.driver = cstr(info.driver[:])
	m.model = cstr(info.model[:])

	entities, err := m.enumEntities()
	if err != nil {
		return err
	}

	var pads [][]mediaPadDesc
	var links [][]mediaLinkDesc
	for _, desc := range entities {
		entPads, entLinks, err := m.enumLinks(desc.id, desc.pads, desc.links)
		if err != nil {
			return err
		}
		pads = append(pads, entPads)
		links = append(links, entLinks)
	}

	m.buildGraph(entities, pads, links)
	m.log.Debug("populated media graph", "driver", m.driver, "entities", len(m.entities))

	return nil
}

func (m *MediaDevice) enumEntities() ([]mediaEntityDesc, error) {
	var entities []mediaEntityDesc

	id := uint32(0)
	for {
		desc := mediaEntityDesc{id: id | mediaEntIDFlagNext}
		if err := ioctl(m.fd, mediaIocEnumEntities, unsafe.Pointer(&desc)); err != nil {
			if errors.Is(err, syscall.EINVAL) {
				break
			}
			return nil, fmt.Errorf("failed to enumerate entities of %s: %w", m.path, err)
		}
		entities = append(entities, desc)
		id = desc.id
	}

	return entities, nil
}

func (m *MediaDevice) enumLinks(entity uint32, numPads uint16, numLinks uint16) ([]mediaPadDesc, []mediaLinkDesc, error) {
	pads := make([]mediaPadDesc, numPads)
	links := make([]mediaLinkDesc, numLinks)

	enum := mediaLinksEnum{entity: entity}
	if numPads > 0 {
		enum.pads = &pads[0]
	}
	if numLinks > 0 {
		enum.links = &links[0]
	}

	if err := ioctl(m.fd, mediaIocEnumLinks, unsafe.Pointer(&enum)); err != nil {
		return nil, nil, fmt.Errorf("failed to enumerate links of entity %d on %s: %w",
			entity, m.path, err)
	}

	return pads, links, nil
}

// buildGraph wires entity, pad and link descriptors into the object
// graph. Links are registered on both their source and sink pads.
func (m *MediaDevice) buildGraph(entities []mediaEntityDesc, pads [][]mediaPadDesc, links [][]mediaLinkDesc) {
	byID := make(map[uint32]*Entity)

	m.entities = nil
	for i, desc := range entities {
		entity := &Entity{
			ID:       desc.id,
			Name:     cstr(desc.name[:]),
			Function: desc.typ,
			Flags:    desc.flags,
			major:    desc.devMajor(),
			minor:    desc.devMinor(),
			device:   m,
		}
		for _, pd := range pads[i] {
			entity.pads = append(entity.pads, &Pad{
				Entity: entity,
				Index:  uint32(pd.index),
				Flags:  pd.flags,
			})
		}
		byID[entity.ID] = entity
		m.entities = append(m.entities, entity)
	}

	for i := range entities {
		for _, ld := range links[i] {
			// Each link is reported by both endpoint entities;
			// create it from the source side only.
			if ld.source.entity != entities[i].id {
				continue
			}

			source := byID[ld.source.entity]
			sink := byID[ld.sink.entity]
			if source == nil || sink == nil {
				continue
			}
			sourcePad := source.Pad(uint32(ld.source.index))
			sinkPad := sink.Pad(uint32(ld.sink.index))
			if sourcePad == nil || sinkPad == nil {
				continue
			}

			link := &Link{
				Source: sourcePad,
				Sink:   sinkPad,
				Flags:  ld.flags,
				device: m,
			}
			sourcePad.links = append(sourcePad.links, link)
			sinkPad.links = append(sinkPad.links, link)
		}
	}
}

// DisableLinks disables every enabled, non-immutable link on the device.
// The device must be open.
func (m *MediaDevice) DisableLinks() error {
	for _, entity := range m.entities {
		for _, pad := range entity.pads {
			if pad.Flags&PadFlagSource == 0 {
				continue
			}
			for _, link := range pad.links {
				if link.Flags&LinkFlagImmutable != 0 || !link.Enabled() {
					continue
				}
				if err := link.SetEnabled(false); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func (m *MediaDevice) setupLink(link *Link, flags uint32) error {
	if m.fd < 0 {
		return fmt.Errorf("media device %s is not open: %w", m.path, syscall.EBADF)
	}

	desc := mediaLinkDesc{
		source: mediaPadDesc{
			entity: link.Source.Entity.ID,
			index:  uint16(link.Source.Index),
			flags:  PadFlagSource,
		},
		sink: mediaPadDesc{
			entity: link.Sink.Entity.ID,
			index:  uint16(link.Sink.Index),
			flags:  PadFlagSink,
		},
		flags: flags,
	}

	if err := ioctl(m.fd, mediaIocSetupLink, unsafe.Pointer(&desc)); err != nil {
		return fmt.Errorf("failed to setup link %q:%d -> %q:%d on %s: %w",
			link.Source.Entity.Name, link.Source.Index,
			link.Sink.Entity.Name, link.Sink.Index, m.path, err)
	}

	return nil
}

// cstr converts a null-terminated byte slice to a Go string.
func cstr(b []byte) string {
	for i := range b {
		if b[i] == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
