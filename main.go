package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/XECDesign/libcamera/cmd"
	"github.com/XECDesign/libcamera/internal/config"
	"github.com/XECDesign/libcamera/internal/logging"
	"github.com/XECDesign/libcamera/internal/version"
)

// Options holds the global CLI options with toml and env mappings.
type Options struct {
	Config        string
	LoggingLevel  string `toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat string `toml:"logging.format" env:"LOGGING_FORMAT"`
}

func main() {
	opts := &Options{}

	root := &cobra.Command{
		Use:     "cam",
		Short:   "Inspect and capture from framework-managed cameras",
		Version: version.String(),
	}

	root.PersistentFlags().StringVarP(&opts.Config, "config", "c", "config.toml",
		"Path to configuration file")
	root.PersistentFlags().StringVar(&opts.LoggingLevel, "logging-level", "",
		"Global logging level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.LoggingFormat, "logging-format", "",
		"Logging format (text, json)")

	root.PersistentPreRun = func(_ *cobra.Command, _ []string) {
		// CLI args > env vars > config file. The flags were parsed
		// into opts already; re-apply them over the file/env values.
		pf := root.PersistentFlags()
		cliLevel, cliFormat := opts.LoggingLevel, opts.LoggingFormat
		_ = config.LoadConfig(opts, nil)
		if pf.Changed("logging-level") {
			opts.LoggingLevel = cliLevel
		}
		if pf.Changed("logging-format") {
			opts.LoggingFormat = cliFormat
		}

		loggingCfg := config.LoadLoggingConfig(opts.Config)

		if opts.LoggingLevel != "" {
			loggingCfg.Level = opts.LoggingLevel
		}
		if opts.LoggingFormat != "" {
			loggingCfg.Format = opts.LoggingFormat
		}
		logging.Initialize(loggingCfg)

		// Reload module log levels when the config file changes.
		watcher := config.NewWatcher(opts.Config, func() {
			logging.Initialize(config.LoadLoggingConfig(opts.Config))
		}, logging.GetLogger("config"))
		if err := watcher.Start(); err != nil {
			logging.GetLogger("config").Debug("config watcher not started", "error", err)
		}
	}

	root.AddCommand(cmd.CreateListCmd())
	root.AddCommand(cmd.CreateTopologyCmd())
	root.AddCommand(cmd.CreateCaptureCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
