// Package logging configures the process-wide slog logger and hands out
// component loggers.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

var level = new(slog.LevelVar)

// Init installs a text or JSON handler on stderr as the slog default.
// levelStr is one of "debug", "info", "warn", "error" (default "info").
func Init(levelStr, format string) {
	InitWriter(os.Stderr, levelStr, format)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, levelStr, format string) {
	level.Set(ParseLevel(levelStr))

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// For returns a logger tagged with component. It resolves slog.Default()
// on every call, so package-level loggers follow later Init or
// CaptureForTest calls.
func For(component string) *slog.Logger {
	return slog.New(&componentHandler{component: component})
}

// SetLevel changes the log level at runtime.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// ParseLevel maps a level name to a slog.Level. Unknown names map to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// componentHandler tags records with component and forwards them to
// whatever handler is the slog default at the time of the call. Attrs and
// groups added through With and WithGroup are replayed onto that handler
// in order.
type componentHandler struct {
	component string
	chain     []func(slog.Handler) slog.Handler
}

func (h *componentHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return slog.Default().Handler().Enabled(ctx, l)
}

func (h *componentHandler) Handle(ctx context.Context, r slog.Record) error {
	next := slog.Default().Handler().WithAttrs([]slog.Attr{slog.String("component", h.component)})
	for _, wrap := range h.chain {
		next = wrap(next)
	}
	return next.Handle(ctx, r)
}

func (h *componentHandler) with(wrap func(slog.Handler) slog.Handler) *componentHandler {
	chain := make([]func(slog.Handler) slog.Handler, len(h.chain), len(h.chain)+1)
	copy(chain, h.chain)
	return &componentHandler{component: h.component, chain: append(chain, wrap)}
}

func (h *componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.with(func(next slog.Handler) slog.Handler { return next.WithAttrs(attrs) })
}

func (h *componentHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.with(func(next slog.Handler) slog.Handler { return next.WithGroup(name) })
}
