package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"
)

// TextHandler writes log lines optimized for local debugging where each log
// line has an instance ID to allow filtering by a specific logging concern.
type TextHandler struct {
	instanceID string
	mu         *sync.Mutex // Serialize writes to attrs
	attrs      []slog.Attr
}

func NewTextHandler() *TextHandler {
	return &TextHandler{
		mu:         &sync.Mutex{},
		instanceID: "root",
	}
}

func (h *TextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= globalLevel.Level()
}

func (h *TextHandler) Handle(ctx context.Context, r slog.Record) error {
	buf := make([]byte, 0, 1024)
	buf = fmt.Appendf(buf, "%s ", time.Now().Format("2006/01/02 15:04:05"))
	buf = fmt.Appendf(buf, "%s ", r.Level.String())
	buf = fmt.Appendf(buf, "[%s] ", h.instanceID)
	buf = fmt.Appendf(buf, "%s", r.Message)

	for _, a := range h.attrs {
		buf = appendAttr(buf, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		buf = appendAttr(buf, a)
		return true
	})

	fmt.Fprintln(os.Stderr, string(buf))
	return nil
}

func (h *TextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Set the instance ID to a special logger member and remove it from the
	// attrs. It should be the first item in attrs.
	nextHandler := h.clone()
	for i, a := range attrs {
		if a.Key == "instanceID" {
			nextHandler.instanceID = a.Value.String()
			attrs = slices.Delete(slices.Clone(attrs), i, i+1)
			break
		}
	}

	nextHandler.attrs = append(nextHandler.attrs, attrs...)
	return nextHandler
}

func (h *TextHandler) WithGroup(name string) slog.Handler {
	panic("groups not supported")
}

func (h *TextHandler) clone() *TextHandler {
	return &TextHandler{
		mu:         h.mu,
		instanceID: h.instanceID,
		attrs:      slices.Clone(h.attrs),
	}
}

func appendAttr(buf []byte, a slog.Attr) []byte {
	s := a.Value.String()
	if strings.ContainsAny(s, " =") || s == "" {
		return fmt.Appendf(buf, " %s=%q", a.Key, s)
	}
	return fmt.Appendf(buf, " %s=%s", a.Key, s)
}
