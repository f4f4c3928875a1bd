// Package logging provides structured logging with per-module log level
// configuration.
//
// The logging system uses Go's slog package with automatic output
// routing: logs go to the systemd journal when available, to stdout when
// a terminal, pipe or file is connected, and to both when both are
// available.
//
// Initialize the logging system once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",      // Global log level: debug, info, warn, error
//		Format: "text",      // Output format: text or json
//		Modules: map[string]string{
//			"ipu3": "debug", // Per-module overrides
//			"v4l2": "warn",
//		},
//	})
//
// Get a logger for your module:
//
//	logger := logging.GetLogger("ipu3")
//	logger.Info("registered camera", "camera", name)
//
// Module levels can be changed at runtime through Initialize; the
// framework's config watcher reloads the [logging] TOML table on file
// changes.
//
// When journald is present, logs are tagged for filtering:
//
//	journalctl -t libcamera MODULE=ipu3
package logging
