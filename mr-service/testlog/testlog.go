// Package testlog provides a log handler for unit tests.
package testlog

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

// Testing is the subset of testing.TB the test logger needs.
type Testing interface {
	Logf(format string, args ...any)
	Helper()
}

// Logger returns a logger which routes all output to the unit test log of t,
// so log lines are attributed to the test that emitted them and are shown
// only when the test fails or runs verbose.
func Logger(t Testing, level slog.Level) log.Logger {
	h := &handler{
		t:   t,
		buf: new(bytes.Buffer),
		mu:  new(sync.Mutex),
	}
	h.inner = log.NewTerminalHandlerWithLevel(h.buf, level, false)
	return log.NewLogger(h)
}

type handler struct {
	t     Testing
	mu    *sync.Mutex
	buf   *bytes.Buffer
	inner slog.Handler
}

func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	h.t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.inner.Handle(ctx, r); err != nil {
		return err
	}
	for _, line := range strings.Split(strings.TrimSuffix(h.buf.String(), "\n"), "\n") {
		h.t.Logf("%s", line)
	}
	h.buf.Reset()
	return nil
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &handler{t: h.t, mu: h.mu, buf: h.buf, inner: h.inner.WithAttrs(attrs)}
}

func (h *handler) WithGroup(name string) slog.Handler {
	return &handler{t: h.t, mu: h.mu, buf: h.buf, inner: h.inner.WithGroup(name)}
}
