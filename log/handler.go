package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// terminalHandler is a minimal slog.Handler rendering "key=value" pairs on
// one line, color-free, safe for concurrent use by every background thread
// (expiry, ban lurker, fetch workers) logging at once.
type terminalHandler struct {
	mu  *sync.Mutex
	out io.Writer
	ctx []slog.Attr
}

func newTerminalHandler(out io.Writer) *terminalHandler {
	return &terminalHandler{mu: new(sync.Mutex), out: out}
}

func (h *terminalHandler) Enabled(_ context.Context, level slog.Level) bool { return true }

func (h *terminalHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	buf := make([]byte, 0, 128)
	buf = append(buf, r.Time.Format(time.RFC3339)...)
	buf = append(buf, ' ')
	buf = append(buf, levelName(r.Level)...)
	buf = append(buf, ' ')
	buf = append(buf, r.Message...)
	for _, a := range h.ctx {
		buf = appendAttr(buf, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		buf = appendAttr(buf, a)
		return true
	})
	buf = append(buf, '\n')
	_, err := h.out.Write(buf)
	return err
}

func appendAttr(buf []byte, a slog.Attr) []byte {
	buf = append(buf, ' ')
	buf = append(buf, a.Key...)
	buf = append(buf, '=')
	return append(buf, fmt.Sprint(a.Value.Any())...)
}

func levelName(l slog.Level) string {
	switch {
	case l <= levelTrace:
		return "TRACE"
	case l < slog.LevelInfo:
		return "DEBUG"
	case l < slog.LevelWarn:
		return "INFO "
	case l < slog.LevelError:
		return "WARN "
	case l < levelCrit:
		return "ERROR"
	default:
		return "CRIT "
	}
}

func (h *terminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	n := &terminalHandler{mu: h.mu, out: h.out, ctx: append(append([]slog.Attr{}, h.ctx...), attrs...)}
	return n
}

func (h *terminalHandler) WithGroup(name string) slog.Handler {
	// Groups are not used by this module's call sites; return unchanged.
	return h
}
