package tablet

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Observer is notified about seat activity. It exists for metrics.
type Observer interface {
	FrameFlushed(d time.Duration, events int)
	FrameDropped(reason error)
	ButtonsDiscarded(n int)
	ToolsChanged(live int)
}

type nopObserver struct{}

func (nopObserver) FrameFlushed(time.Duration, int) {}
func (nopObserver) FrameDropped(error)              {}
func (nopObserver) ButtonsDiscarded(int)            {}
func (nopObserver) ToolsChanged(int)                {}

// SeatOptions configures a Seat. Windows is required.
type SeatOptions struct {
	Windows  WindowRegistry
	Sink     EventSink
	Buttons  ButtonHandler
	Release  func(ToolID)
	Observer Observer
	Logger   *slog.Logger
}

// Seat is the aggregation context of one input seat: the tool registry
// plus the collaborators frames are resolved against and delivered to.
// A Seat must only be used from one goroutine.
type Seat struct {
	tools    *Registry
	windows  WindowRegistry
	sink     EventSink
	buttons  ButtonHandler
	release  func(ToolID)
	observer Observer
	logger   *slog.Logger
}

// NewSeat creates a seat with an empty registry.
func NewSeat(opts SeatOptions) *Seat {
	s := &Seat{
		tools:    NewRegistry(),
		windows:  opts.Windows,
		sink:     opts.Sink,
		buttons:  opts.Buttons,
		release:  opts.Release,
		observer: opts.Observer,
		logger:   opts.Logger,
	}
	if s.sink == nil {
		s.sink = EventSinkFunc(func(Event) {})
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Registry exposes the seat's tool registry.
func (s *Seat) Registry() *Registry {
	return s.tools
}

// Handle applies one notification. Errors concern only the addressed
// tool; the seat stays usable.
func (s *Seat) Handle(n Notification) error {
	switch n := n.(type) {
	case ToolAdded:
		deviceID, err := s.tools.Register(n.Tool)
		if err != nil {
			return err
		}
		s.logger.Debug("tool added", "tool", n.Tool, "device", deviceID)
		s.observer.ToolsChanged(s.tools.Len())
		return nil
	case ToolUpdate:
		return s.apply(n.Tool, n.Update)
	default:
		return fmt.Errorf("unsupported notification %T", n)
	}
}

func (s *Seat) flush(rec *ToolRecord) {
	start := time.Now()
	res, err := rec.Flush(s.windows)
	if err != nil {
		if errors.Is(err, ErrUnresolvedSurface) {
			s.logger.Debug("frame dropped", "tool", rec.id, "device", rec.deviceID, "error", err)
		}
		s.observer.FrameDropped(err)
		return
	}

	for _, ev := range res.Events {
		s.sink.PushEvent(ev)
	}
	if len(res.Buttons) > 0 {
		if s.buttons != nil {
			s.buttons.ToolButtons(rec.deviceID, res.Window, res.Position, res.Buttons)
		} else {
			s.observer.ButtonsDiscarded(len(res.Buttons))
		}
	}
	s.observer.FrameFlushed(time.Since(start), len(res.Events))
}
