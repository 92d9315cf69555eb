// Package sessionlog keeps the warnings and errors of the running session in
// memory so the window can show them.
//
// TeeHandler sits in front of the process slog handler and copies records at
// or above a threshold into a Buffer. The UI fetches a Buffer snapshot after
// each "updated" ping.
package sessionlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
)

// Sink receives one teed record. It runs synchronously inside the logging
// call and must not log at or above the tee threshold itself.
type Sink func(Entry)

// TeeHandler forwards every record to base and hands records at or above
// minLevel to sink. Enabled is decided by base alone.
type TeeHandler struct {
	base     slog.Handler
	sink     Sink
	minLevel slog.Level
	group    string // dot-separated slog group, reported as Entry.Source
	attrs    []slog.Attr
}

// NewTeeHandler wraps base. A nil sink makes the handler a plain pass-through.
func NewTeeHandler(base slog.Handler, minLevel slog.Level, sink Sink) *TeeHandler {
	return &TeeHandler{base: base, sink: sink, minLevel: minLevel}
}

func (h *TeeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

// Handle writes to base first; the sink still sees the record when base
// fails so the UI learns about problems writing the log file too.
func (h *TeeHandler) Handle(ctx context.Context, record slog.Record) error {
	err := h.base.Handle(ctx, record)
	if h.sink == nil || record.Level < h.minLevel {
		return err
	}

	entry := Entry{
		Time:    record.Time,
		Level:   levelName(record.Level),
		Message: record.Message,
		Source:  h.group,
		Detail:  h.detail(record),
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				// stderr, not slog: logging here would re-enter this handler.
				fmt.Fprintf(os.Stderr, "[session-log] sink panicked: %v\n%s\n", r, debug.Stack())
			}
		}()
		h.sink(entry)
	}()
	return err
}

func (h *TeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := *h
	clone.base = h.base.WithAttrs(attrs)
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

func (h *TeeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.base = h.base.WithGroup(name)
	if h.group != "" {
		clone.group = h.group + "." + name
	} else {
		clone.group = name
	}
	return &clone
}

// detail renders the handler and record attributes as "k=v k=v". Stack
// traces are left to the log file.
func (h *TeeHandler) detail(record slog.Record) string {
	var b strings.Builder
	write := func(a slog.Attr) bool {
		if a.Key == "stack" {
			return true
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(a.Key)
		b.WriteByte('=')
		b.WriteString(a.Value.Resolve().String())
		return true
	}
	for _, a := range h.attrs {
		write(a)
	}
	record.Attrs(write)
	return b.String()
}

func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}
