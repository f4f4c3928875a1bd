package camera

import (
	"context"
	"log/slog"
	"sync"

	"github.com/XECDesign/libcamera/internal/events"
	"github.com/XECDesign/libcamera/internal/logging"
	"github.com/XECDesign/libcamera/pkg/linuxav/hotplug"
	"github.com/XECDesign/libcamera/pkg/linuxav/media"
)

// CameraManager coordinates enumeration and pipeline handler matching
// and owns the process's cameras. It is explicitly constructed and has a
// Start/Stop lifecycle; there is no hidden singleton.
type CameraManager struct {
	enumerator *media.Enumerator
	bus        *events.Bus

	mu      sync.Mutex
	started bool
	pipes   []PipelineHandler
	cameras []*Camera

	hotplugCancel context.CancelFunc
	hotplugDone   chan struct{}

	log *slog.Logger
}

// NewCameraManager creates an idle camera manager.
func NewCameraManager() *CameraManager {
	return &CameraManager{
		enumerator: media.NewEnumerator(),
		bus:        events.New(),
		log:        logging.GetLogger("camera"),
	}
}

// Bus returns the manager's event bus. Asynchronous consumers subscribe
// here; the in-order completion path is the camera callbacks.
func (m *CameraManager) Bus() *events.Bus {
	return m.bus
}

// Start enumerates the media devices on the system and runs every
// registered pipeline handler factory against them, collecting the
// cameras the handlers register. It also starts the hotplug monitor
// when netlink is available.
func (m *CameraManager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil
	}

	if err := m.enumerator.Scan(); err != nil {
		return err
	}

	for _, factory := range registeredFactories() {
		pipe := factory.fn(m)
		if !pipe.Match(m.enumerator) {
			continue
		}
		m.pipes = append(m.pipes, pipe)
		m.log.Info("pipeline handler matched", "pipeline", factory.name)
	}

	m.startHotplug()
	m.started = true
	m.log.Info("camera manager started", "cameras", len(m.cameras))

	return nil
}

// Stop shuts the manager down. Cameras must have been stopped and
// released by the application.
func (m *CameraManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return
	}

	if m.hotplugCancel != nil {
		m.hotplugCancel()
		<-m.hotplugDone
		m.hotplugCancel = nil
	}

	m.started = false
	m.log.Info("camera manager stopped")
}

// Cameras returns all registered cameras in registration order.
func (m *CameraManager) Cameras() []*Camera {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]*Camera(nil), m.cameras...)
}

// Get returns the camera with the given name, or nil.
func (m *CameraManager) Get(name string) *Camera {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, cam := range m.cameras {
		if cam.Name() == name {
			return cam
		}
	}
	return nil
}

// addCamera registers a camera constructed by a pipeline handler. Called
// through Pipeline.RegisterCamera during Match, with the manager lock
// already held by Start.
func (m *CameraManager) addCamera(cam *Camera) {
	m.cameras = append(m.cameras, cam)
	m.bus.Publish(events.CameraAddedEvent{
		Camera:   cam.Name(),
		Pipeline: cam.pipe.Name(),
	})
}

// startHotplug launches the netlink uevent monitor for media devices.
// Hotplug is best effort: cameras are enumerated once at Start, the
// monitor only surfaces topology changes on the bus.
func (m *CameraManager) startHotplug() {
	monitor, err := hotplug.NewMonitor(hotplug.SubsystemMedia)
	if err != nil {
		m.log.Debug("hotplug monitor unavailable", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.hotplugCancel = cancel
	m.hotplugDone = make(chan struct{})

	ch := make(chan hotplug.Event, 16)
	go func() {
		defer close(m.hotplugDone)
		defer monitor.Close()
		_ = monitor.Run(ctx, ch)
	}()
	go func() {
		for ev := range ch {
			m.log.Info("media device hotplug", "action", ev.Action, "devnode", ev.DevNode())
			m.bus.Publish(events.MediaDeviceHotplugEvent{
				Action:  ev.Action,
				DevPath: ev.DevNode(),
			})
		}
	}()
}
