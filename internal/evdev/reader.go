package evdev

import (
	"errors"
	"log/slog"

	"tabletd/internal/tablet"
)

// ErrUnsupported is returned where evdev is not available.
var ErrUnsupported = errors.New("evdev: not supported on this platform")

// ReaderOptions configures a Reader.
type ReaderOptions struct {
	Geometry  Geometry
	IDs       *IDAllocator
	EventSize int
	Grab      bool
	Logger    *slog.Logger
}

// SubmitFunc receives translated notifications. An error stops the
// reader.
type SubmitFunc func(tablet.Notification) error

// removeTools submits Removed for every tool the translator announced.
// Failures are logged since the seat then keeps a stale record.
func removeTools(t *Translator, submit SubmitFunc, logger *slog.Logger) {
	t.Close(func(n tablet.Notification) {
		if err := submit(n); err != nil {
			logger.Debug("tool removal not delivered", "tool", n.Target(), "error", err)
		}
	})
}
