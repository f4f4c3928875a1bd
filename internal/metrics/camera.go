// Package metrics provides Prometheus metrics for the camera framework,
// fed from the manager's event bus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/XECDesign/libcamera/internal/events"
)

var (
	camerasRegistered = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "libcamera",
		Subsystem: "manager",
		Name:      "cameras",
		Help:      "Number of registered cameras",
	})

	buffersCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "libcamera",
		Subsystem: "capture",
		Name:      "buffers_completed_total",
		Help:      "Completed buffers per camera and status",
	}, []string{"camera", "status"})

	requestsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "libcamera",
		Subsystem: "capture",
		Name:      "requests_completed_total",
		Help:      "Completed capture requests per camera and status",
	}, []string{"camera", "status"})

	hotplugEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "libcamera",
		Subsystem: "manager",
		Name:      "media_hotplug_events_total",
		Help:      "Media device hotplug events per action",
	}, []string{"action"})
)

// Observe subscribes the Prometheus collectors to the bus. The returned
// function unsubscribes them.
func Observe(bus *events.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(func(events.CameraAddedEvent) {
			camerasRegistered.Inc()
		}),
		bus.Subscribe(func(events.CameraRemovedEvent) {
			camerasRegistered.Dec()
		}),
		bus.Subscribe(func(e events.BufferCompletedEvent) {
			buffersCompleted.WithLabelValues(e.Camera, e.Status).Inc()
		}),
		bus.Subscribe(func(e events.RequestCompletedEvent) {
			requestsCompleted.WithLabelValues(e.Camera, e.Status).Inc()
		}),
		bus.Subscribe(func(e events.MediaDeviceHotplugEvent) {
			hotplugEvents.WithLabelValues(e.Action).Inc()
		}),
	}

	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// Handler returns the Prometheus metrics HTTP handler. It serves all
// promauto-registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
