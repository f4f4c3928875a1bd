package logging

import (
	"context"
	"log/slog"
	"testing"
)

func resetState() {
	mutex.Lock()
	moduleLoggers = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	isInitialized = false
	mutex.Unlock()
}

func TestModuleLevelOverride(t *testing.T) {
	resetState()

	// Global info level, ipu3 at debug, v4l2 at warn.
	Initialize(Config{
		Level:  "info",
		Format: "text",
		Modules: map[string]string{
			"ipu3": "debug",
			"v4l2": "warn",
		},
	})

	tests := []struct {
		module    string
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{"ipu3", true, true, true},
		{"v4l2", false, false, true},
		{"camera", false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			handler := GetLogger(tt.module).Handler()

			gotDebug := handler.Enabled(context.Background(), slog.LevelDebug)
			gotInfo := handler.Enabled(context.Background(), slog.LevelInfo)
			gotWarn := handler.Enabled(context.Background(), slog.LevelWarn)

			if gotDebug != tt.wantDebug {
				t.Errorf("module %q: Debug enabled = %v, want %v", tt.module, gotDebug, tt.wantDebug)
			}
			if gotInfo != tt.wantInfo {
				t.Errorf("module %q: Info enabled = %v, want %v", tt.module, gotInfo, tt.wantInfo)
			}
			if gotWarn != tt.wantWarn {
				t.Errorf("module %q: Warn enabled = %v, want %v", tt.module, gotWarn, tt.wantWarn)
			}
		})
	}
}

func TestReinitializeChangesLevels(t *testing.T) {
	resetState()

	Initialize(Config{Level: "info", Format: "text"})

	logger := GetLogger("pipeline")
	if logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug should be disabled at info level")
	}

	// Reinitialize with a module override; the existing logger's level
	// var must pick it up.
	Initialize(Config{
		Level:   "info",
		Format:  "text",
		Modules: map[string]string{"pipeline": "debug"},
	})

	logger = GetLogger("pipeline")
	if !logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug should be enabled after reload")
	}
}

func TestGetLoggerBeforeInitialize(t *testing.T) {
	resetState()

	logger := GetLogger("early")
	if logger == nil {
		t.Fatal("GetLogger before Initialize returned nil")
	}
	if !logger.Handler().Enabled(context.Background(), slog.LevelInfo) {
		t.Error("default level should be info")
	}
	if logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be disabled by default")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  *slog.Level
	}{
		{"debug", levelPtr(slog.LevelDebug)},
		{"INFO", levelPtr(slog.LevelInfo)},
		{"warn", levelPtr(slog.LevelWarn)},
		{"warning", levelPtr(slog.LevelWarn)},
		{"error", levelPtr(slog.LevelError)},
		{"verbose", nil},
		{"", nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLevel(tt.input)
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
			if got != nil && *got != *tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, *got, *tt.want)
			}
		})
	}
}

func levelPtr(l slog.Level) *slog.Level {
	return &l
}
