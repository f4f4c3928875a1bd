package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/XECDesign/libcamera/internal/logging"
	"github.com/XECDesign/libcamera/pkg/linuxav/media"
)

// CreateTopologyCmd creates the topology command.
func CreateTopologyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topology",
		Short: "Dump the media graph of every media device",
		Run: func(_ *cobra.Command, _ []string) {
			logger := logging.GetLogger("cli")

			enum := media.NewEnumerator()
			if err := enum.Scan(); err != nil {
				logger.Error("Failed to enumerate media devices", "error", err)
				os.Exit(1)
			}

			devices := enum.Devices()
			if len(devices) == 0 {
				fmt.Println("No media devices found")
				return
			}

			for _, dev := range devices {
				fmt.Printf("%s: %s (%s)\n", dev.Path(), dev.Driver(), dev.Model())
				for _, entity := range dev.Entities() {
					fmt.Printf("  entity %d: %q function %#x\n",
						entity.ID, entity.Name, entity.Function)
					for _, pad := range entity.Pads() {
						direction := "source"
						if pad.Flags&media.PadFlagSink != 0 {
							direction = "sink"
						}
						fmt.Printf("    pad %d [%s]\n", pad.Index, direction)
						for _, link := range pad.Links() {
							if link.Source != pad {
								continue
							}
							state := "disabled"
							if link.Enabled() {
								state = "enabled"
							}
							fmt.Printf("      -> %q:%d [%s]\n",
								link.Sink.Entity.Name, link.Sink.Index, state)
						}
					}
				}
			}
		},
	}
}
