package logging

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
)

// handler routes log records to the outputs available on the system:
// stdout (text or json) and the systemd journal. Routing is decided once
// at construction; the level follows the module's LevelVar so Initialize
// can retune levels at runtime.
type handler struct {
	level  slog.Leveler
	stdout slog.Handler // nil when stdout is unavailable

	journal bool
	attrs   []slog.Attr
	prefix  string // journal field prefix accumulated from groups
}

func newHandler(format string, level slog.Leveler) slog.Handler {
	h := &handler{
		level:   level,
		journal: journal.Enabled(),
	}

	if isStdoutAvailable() {
		opts := &slog.HandlerOptions{Level: level}
		if format == "json" {
			h.stdout = slog.NewJSONHandler(os.Stdout, opts)
		} else {
			h.stdout = slog.NewTextHandler(os.Stdout, opts)
		}
	}

	return h
}

// Enabled implements slog.Handler.
func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	if h.stdout != nil {
		_ = h.stdout.Handle(ctx, r.Clone())
	}
	if h.journal {
		h.sendToJournal(r)
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	if h.stdout != nil {
		nh.stdout = h.stdout.WithAttrs(attrs)
	}
	nh.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &nh
}

// WithGroup implements slog.Handler.
func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	if h.stdout != nil {
		nh.stdout = h.stdout.WithGroup(name)
	}
	nh.prefix = h.prefix + strings.ToUpper(name) + "_"
	return &nh
}

// sendToJournal writes the record as a journal entry with one uppercased
// field per attribute, so entries can be filtered with e.g.
// journalctl -t libcamera MODULE=ipu3.
func (h *handler) sendToJournal(r slog.Record) {
	priority := journalPriority(r.Level)

	fields := map[string]string{
		"PRIORITY":          strconv.Itoa(int(priority)),
		"SYSLOG_IDENTIFIER": "libcamera",
	}
	for _, attr := range h.attrs {
		journalField(fields, attr, h.prefix)
	}
	r.Attrs(func(attr slog.Attr) bool {
		journalField(fields, attr, h.prefix)
		return true
	})

	_ = journal.Send(r.Message, priority, fields)
}

func journalPriority(level slog.Level) journal.Priority {
	switch {
	case level >= slog.LevelError:
		return journal.PriErr
	case level >= slog.LevelWarn:
		return journal.PriWarning
	case level >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

// journalField flattens an attribute into the field map. Groups become
// key prefixes.
func journalField(fields map[string]string, attr slog.Attr, prefix string) {
	if attr.Equal(slog.Attr{}) {
		return
	}

	key := prefix + strings.ToUpper(attr.Key)
	if attr.Value.Kind() == slog.KindGroup {
		for _, a := range attr.Value.Group() {
			journalField(fields, a, key+"_")
		}
		return
	}

	fields[key] = attr.Value.String()
}

// isStdoutAvailable checks if stdout is connected to a terminal, pipe,
// socket, or file.
func isStdoutAvailable() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return (mode&os.ModeCharDevice) != 0 || (mode&os.ModeNamedPipe) != 0 ||
		(mode&os.ModeSocket) != 0 || mode.IsRegular()
}
