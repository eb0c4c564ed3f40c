package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Entry is one captured log record with its attributes flattened. Keys
// inside groups are joined with dots, e.g. "req.id".
type Entry struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// Component returns the component tag set by For, or "".
func (e Entry) Component() string {
	s, _ := e.Attrs["component"].(string)
	return s
}

// Capture collects log entries for test assertions.
type Capture struct {
	mu        sync.Mutex
	entries   []Entry
	prev      *slog.Logger
	prevLevel slog.Level
}

// CaptureForTest installs a capturing handler as the slog default at debug
// level. Call Restore when done.
func CaptureForTest() *Capture {
	c := &Capture{
		prev:      slog.Default(),
		prevLevel: level.Level(),
	}
	slog.SetDefault(slog.New(&captureHandler{capture: c}))
	SetLevel(slog.LevelDebug)
	return c
}

// Restore reinstates the previous default logger and level.
func (c *Capture) Restore() {
	slog.SetDefault(c.prev)
	level.Set(c.prevLevel)
}

// Entries returns a copy of everything captured so far.
func (c *Capture) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Find returns the first entry at lvl whose message contains msg.
func (c *Capture) Find(lvl slog.Level, msg string) (Entry, bool) {
	for _, e := range c.Entries() {
		if e.Level == lvl && strings.Contains(e.Message, msg) {
			return e, true
		}
	}
	return Entry{}, false
}

// Count returns the number of entries at lvl.
func (c *Capture) Count(lvl slog.Level) int {
	n := 0
	for _, e := range c.Entries() {
		if e.Level == lvl {
			n++
		}
	}
	return n
}

// From returns the entries logged by component.
func (c *Capture) From(component string) []Entry {
	var out []Entry
	for _, e := range c.Entries() {
		if e.Component() == component {
			out = append(out, e)
		}
	}
	return out
}

type captureHandler struct {
	capture *Capture
	prefix  string
	attrs   map[string]any
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for k, v := range h.attrs {
		attrs[k] = v
	}
	r.Attrs(func(a slog.Attr) bool {
		flatten(attrs, h.prefix, a)
		return true
	})
	h.capture.mu.Lock()
	defer h.capture.mu.Unlock()
	h.capture.entries = append(h.capture.entries, Entry{Level: r.Level, Message: r.Message, Attrs: attrs})
	return nil
}

func (h *captureHandler) WithAttrs(as []slog.Attr) slog.Handler {
	attrs := make(map[string]any, len(h.attrs)+len(as))
	for k, v := range h.attrs {
		attrs[k] = v
	}
	for _, a := range as {
		flatten(attrs, h.prefix, a)
	}
	return &captureHandler{capture: h.capture, prefix: h.prefix, attrs: attrs}
}

func (h *captureHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &captureHandler{capture: h.capture, prefix: h.prefix + name + ".", attrs: h.attrs}
}

func flatten(dst map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, g := range v.Group() {
			flatten(dst, p, g)
		}
		return
	}
	if a.Key == "" {
		return
	}
	dst[prefix+a.Key] = v.Any()
}
