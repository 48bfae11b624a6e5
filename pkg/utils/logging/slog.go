// Package logging provides the colorized console slog.Handler the
// node's CLI installs: timestamp, padded level, source location, the
// message, then any attributes as key=value pairs.
package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// PrettyHandlerOptions configures a PrettyHandler.
type PrettyHandlerOptions struct {
	SlogOpts   slog.HandlerOptions
	UseColor   bool
	ShowSource bool
	TimeFormat string
	LevelWidth int
}

// DefaultOptions returns the options the CLI starts from.
func DefaultOptions() PrettyHandlerOptions {
	return PrettyHandlerOptions{
		SlogOpts:   slog.HandlerOptions{Level: slog.LevelInfo},
		UseColor:   true,
		ShowSource: true,
		TimeFormat: time.RFC3339,
		LevelWidth: 7,
	}
}

// PrettyHandler renders records as single console lines. Handlers
// derived via WithAttrs/WithGroup share the writer and its mutex, so
// interleaved lines never tear.
type PrettyHandler struct {
	opts   PrettyHandlerOptions
	writer io.Writer
	mu     *sync.Mutex
	prefix string // dotted group path applied to attribute keys
	attrs  []slog.Attr

	paint map[slog.Level]*color.Color
	dim   *color.Color
}

// NewPrettyHandler builds a handler writing to w. A nil opts uses
// DefaultOptions.
func NewPrettyHandler(w io.Writer, opts *PrettyHandlerOptions) *PrettyHandler {
	if opts == nil {
		d := DefaultOptions()
		opts = &d
	}
	if opts.TimeFormat == "" {
		opts.TimeFormat = time.RFC3339
	}
	if opts.LevelWidth < 5 {
		opts.LevelWidth = 7
	}

	h := &PrettyHandler{
		opts:   *opts,
		writer: w,
		mu:     &sync.Mutex{},
	}
	h.paint = map[slog.Level]*color.Color{
		slog.LevelDebug: color.New(color.FgMagenta),
		slog.LevelInfo:  color.New(color.FgBlue),
		slog.LevelWarn:  color.New(color.FgYellow),
		slog.LevelError: color.New(color.FgRed),
	}
	h.dim = color.New(color.FgHiBlack)
	return h
}

func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.SlogOpts.Level.Level()
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	buf := bufPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		bufPool.Put(buf)
	}()

	buf.WriteString(h.colored(h.dim, r.Time.Format(h.opts.TimeFormat)))
	buf.WriteString(" | ")

	level := fmt.Sprintf("%-*s", h.opts.LevelWidth, strings.ToUpper(r.Level.String()))
	if c, ok := h.paint[r.Level]; ok {
		level = h.colored(c, level)
	}
	buf.WriteString(level)
	buf.WriteString(" | ")

	if h.opts.ShowSource {
		if src := sourceOf(r.PC); src != "" {
			buf.WriteString(h.colored(h.dim, src))
			buf.WriteString(" | ")
		}
	}

	buf.WriteString(r.Message)

	for _, attr := range h.attrs {
		h.writeAttr(buf, h.prefix, attr)
	}
	r.Attrs(func(attr slog.Attr) bool {
		h.writeAttr(buf, h.prefix, attr)
		return true
	})

	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.writer.Write(buf.Bytes())
	return err
}

func (h *PrettyHandler) writeAttr(buf *bytes.Buffer, prefix string, attr slog.Attr) {
	value := attr.Value.Resolve()
	key := attr.Key
	if prefix != "" {
		key = prefix + "." + key
	}

	if value.Kind() == slog.KindGroup {
		for _, nested := range value.Group() {
			h.writeAttr(buf, key, nested)
		}
		return
	}

	buf.WriteByte(' ')
	buf.WriteString(h.colored(h.dim, key+"="))
	buf.WriteString(fmt.Sprintf("%v", value.Any()))
}

func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	next := h.clone()
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return next
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := h.clone()
	if next.prefix != "" {
		next.prefix += "." + name
	} else {
		next.prefix = name
	}
	return next
}

func (h *PrettyHandler) clone() *PrettyHandler {
	next := *h
	next.attrs = append([]slog.Attr(nil), h.attrs...)
	return &next
}

func (h *PrettyHandler) colored(c *color.Color, s string) string {
	if !h.opts.UseColor {
		return s
	}
	return c.Sprint(s)
}

func sourceOf(pc uintptr) string {
	if pc == 0 {
		return ""
	}
	frames := runtime.CallersFrames([]uintptr{pc})
	frame, _ := frames.Next()
	if frame.File == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)
}
