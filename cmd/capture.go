package cmd

import (
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/XECDesign/libcamera/camera"
	"github.com/XECDesign/libcamera/internal/logging"
	"github.com/XECDesign/libcamera/internal/metrics"
	"github.com/XECDesign/libcamera/pkg/linuxav/v4l2"

	// Register the pipeline handlers.
	_ "github.com/XECDesign/libcamera/pipeline/ipu3"
)

// CreateCaptureCmd creates the capture command.
func CreateCaptureCmd() *cobra.Command {
	var cameraName string
	var frames int64
	var timeoutMs uint
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture frames from a camera",
		Long: `Acquires a camera, configures it with its default video recording ` +
			`configuration, and captures frames by cycling requests over the ` +
			`allocated buffers until the frame target or the timeout is reached.`,
		Run: func(_ *cobra.Command, _ []string) {
			logger := logging.GetLogger("cli")

			manager := camera.NewCameraManager()

			if metricsAddr != "" {
				unsub := metrics.Observe(manager.Bus())
				defer unsub()
				go func() {
					if err := http.ListenAndServe(metricsAddr, metrics.Handler()); err != nil {
						logger.Warn("metrics endpoint failed", "error", err)
					}
				}()
			}

			if err := manager.Start(); err != nil {
				logger.Error("Failed to start camera manager", "error", err)
				os.Exit(1)
			}
			defer manager.Stop()

			cam := pickCamera(manager, cameraName)
			if cam == nil {
				logger.Error("No such camera", "camera", cameraName)
				os.Exit(1)
			}

			captured, err := runCapture(cam, frames, timeoutMs)
			if err != nil {
				logger.Error("Capture failed", "camera", cam.Name(), "error", err)
				os.Exit(1)
			}

			fmt.Printf("%s: captured %d frames\n", cam.Name(), captured)
		},
	}

	cmd.Flags().StringVar(&cameraName, "camera", "", "Camera name (defaults to the first camera)")
	cmd.Flags().Int64Var(&frames, "frames", 8, "Number of frames to capture")
	cmd.Flags().UintVar(&timeoutMs, "timeout-ms", 5000, "Give up after this many milliseconds")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	return cmd
}

func pickCamera(manager *camera.CameraManager, name string) *camera.Camera {
	if name != "" {
		return manager.Get(name)
	}

	cameras := manager.Cameras()
	if len(cameras) == 0 {
		return nil
	}
	return cameras[0]
}

// runCapture drives the capture loop: one request per buffer, each
// completed request re-queued with the same buffer until the frame
// target is reached.
func runCapture(cam *camera.Camera, frames int64, timeoutMs uint) (int64, error) {
	if err := cam.Acquire(); err != nil {
		return 0, err
	}
	defer cam.Release()

	config := cam.GenerateConfiguration(camera.RoleVideoRecording)
	if len(config) == 0 {
		return 0, fmt.Errorf("no default configuration: %w", camera.ErrNoDevice)
	}
	if err := cam.Configure(config); err != nil {
		return 0, err
	}

	if err := cam.AllocateBuffers(); err != nil {
		return 0, err
	}
	defer cam.FreeBuffers()

	stream := cam.Streams()[0]
	cfg := stream.Configuration()
	logging.GetLogger("cli").Info("capture configured",
		"camera", cam.Name(), "width", cfg.Width, "height", cfg.Height,
		"format", v4l2.FormatFourCC(cfg.PixelFormat), "buffers", cfg.BufferCount)

	var completed int64
	var once sync.Once
	done := make(chan struct{})

	disconnect := cam.ConnectRequestCompleted(func(req *camera.Request) {
		if req.Status() != camera.RequestComplete {
			return
		}

		n := atomic.AddInt64(&completed, 1)
		if n >= frames {
			once.Do(func() { close(done) })
			return
		}

		// Recycle the completed buffer into a fresh request.
		buffer := req.FindBuffer(stream)
		next := cam.CreateRequest()
		if next == nil {
			return
		}
		if err := next.AddBuffer(stream, stream.CreateBuffer(buffer.Index)); err != nil {
			return
		}
		_ = cam.QueueRequest(next)
	})
	defer disconnect()

	if err := cam.Start(); err != nil {
		return 0, err
	}

	count := stream.Configuration().BufferCount
	for i := 0; i < int(count); i++ {
		req := cam.CreateRequest()
		if req == nil {
			break
		}
		if err := req.AddBuffer(stream, stream.CreateBuffer(i)); err != nil {
			cam.Stop()
			return 0, err
		}
		if err := cam.QueueRequest(req); err != nil {
			cam.Stop()
			return 0, err
		}
	}

	timeout := camera.NewTimer()
	timeout.Start(timeoutMs)

	select {
	case <-done:
	case <-timeout.Timeout():
	}
	timeout.Stop()

	if err := cam.Stop(); err != nil {
		return atomic.LoadInt64(&completed), err
	}

	return atomic.LoadInt64(&completed), nil
}
