package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/XECDesign/libcamera/camera"
	"github.com/XECDesign/libcamera/internal/logging"

	// Register the pipeline handlers.
	_ "github.com/XECDesign/libcamera/pipeline/ipu3"
)

// CreateListCmd creates the list command.
func CreateListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the cameras available on the system",
		Run: func(_ *cobra.Command, _ []string) {
			logger := logging.GetLogger("cli")

			manager := camera.NewCameraManager()
			if err := manager.Start(); err != nil {
				logger.Error("Failed to start camera manager", "error", err)
				os.Exit(1)
			}
			defer manager.Stop()

			cameras := manager.Cameras()
			if len(cameras) == 0 {
				fmt.Println("No cameras available")
				return
			}

			for i, cam := range cameras {
				fmt.Printf("%d: %s\n", i, cam.Name())
			}
		},
	}
}
