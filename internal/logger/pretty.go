package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset  = "\033[0m"
	ansiDim    = "\033[2m"
	ansiCyan   = "\033[36m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiRed    = "\033[31m"
)

// PrettyHandler renders records as "[15:04:05] LEVEL message key=value".
type PrettyHandler struct {
	opts  slog.HandlerOptions
	attrs []slog.Attr
	group string

	mu sync.Mutex
	w  io.Writer
}

// NewPrettyHandler creates a colored terminal handler.
func NewPrettyHandler(w io.Writer, opts *slog.HandlerOptions) *PrettyHandler {
	h := &PrettyHandler{w: w}
	if opts != nil {
		h.opts = *opts
	}
	if h.opts.Level == nil {
		h.opts.Level = slog.LevelInfo
	}
	return h
}

func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(ansiDim)
	b.WriteByte('[')
	b.WriteString(r.Time.Format(time.TimeOnly))
	b.WriteByte(']')
	b.WriteString(ansiReset)
	b.WriteByte(' ')
	b.WriteString(levelColor(r.Level))
	b.WriteString(fmt.Sprintf("%-5s", r.Level.String()))
	b.WriteString(ansiReset)
	b.WriteByte(' ')
	b.WriteString(r.Message)

	for _, a := range h.attrs {
		h.appendAttr(&b, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.appendAttr(&b, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := h.clone()
	c.attrs = append(c.attrs, attrs...)
	return c
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	c := h.clone()
	if c.group == "" {
		c.group = name
	} else {
		c.group = c.group + "." + name
	}
	return c
}

func (h *PrettyHandler) clone() *PrettyHandler {
	return &PrettyHandler{
		opts:  h.opts,
		attrs: append([]slog.Attr(nil), h.attrs...),
		group: h.group,
		w:     h.w,
	}
}

func (h *PrettyHandler) appendAttr(b *strings.Builder, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if h.group != "" {
		key = h.group + "." + key
	}
	b.WriteByte(' ')
	b.WriteString(ansiCyan)
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(ansiReset)
	v := a.Value.String()
	if strings.ContainsAny(v, " \t\"") {
		v = strconv.Quote(v)
	}
	b.WriteString(v)
}

func levelColor(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return ansiRed
	case l >= slog.LevelWarn:
		return ansiYellow
	case l >= slog.LevelInfo:
		return ansiGreen
	default:
		return ansiDim
	}
}
