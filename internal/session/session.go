// Package session runs a tablet seat on a single processing goroutine.
//
// Notifications from every input source are funneled through one FIFO
// queue, so per-tool order is preserved and the seat never needs locking.
// Other goroutines reach the seat through Do.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"tabletd/internal/metrics"
	"tabletd/internal/tablet"
)

var (
	// ErrAlreadyRunning is returned by a second concurrent Run.
	ErrAlreadyRunning = errors.New("session already running")
	// ErrClosed is returned once Run has returned.
	ErrClosed = errors.New("session closed")
)

// Config holds session settings.
type Config struct {
	Seat             string
	QueueSize        int
	SubscriberBuffer int
}

// DefaultConfig returns the settings the daemon starts with.
func DefaultConfig() Config {
	return Config{Seat: "seat0", QueueSize: 256, SubscriberBuffer: 64}
}

// Options wires the session's collaborators.
type Options struct {
	// Windows is required.
	Windows tablet.WindowRegistry

	// Sinks receive every event in emission order.
	Sinks []tablet.EventSink

	Buttons tablet.ButtonHandler
	Release func(tablet.ToolID)
	Metrics *metrics.TabletMetrics
	Logger  *slog.Logger

	// Tap sees every notification before the seat does. The trace
	// recorder hooks in here.
	Tap func(tablet.Notification)

	// Lifecycle is told when a tool finishes describing itself and when
	// it is removed.
	Lifecycle Lifecycle
}

// Lifecycle observes tools coming and going. Calls are made on the
// processing goroutine and must not block.
type Lifecycle interface {
	ToolDescribed(info tablet.ToolInfo)
	ToolRemoved(info tablet.ToolInfo)
}

// Status is a point-in-time view of the session.
type Status struct {
	Seat        string `json:"seat"`
	Running     bool   `json:"running"`
	Tools       int    `json:"tools"`
	Queued      int    `json:"queued"`
	Subscribers int    `json:"subscribers"`
	Processed   uint64 `json:"processed"`
	Rejected    uint64 `json:"rejected"`
}

type call struct {
	fn   func(*tablet.Seat)
	done chan struct{}
}

// Session owns a tablet.Seat and the goroutine that drives it.
type Session struct {
	cfg     Config
	seat    *tablet.Seat
	hub     *Hub
	metrics *metrics.TabletMetrics
	logger  *slog.Logger
	tap     func(tablet.Notification)
	life    Lifecycle

	queue chan tablet.Notification
	calls chan call

	// owner is held by whichever goroutine drives the seat: Run for its
	// whole lifetime, or a Process/Do caller while the loop is not running.
	owner     sync.Mutex
	running   atomic.Bool
	closeOnce sync.Once
	closed    chan struct{}

	processed atomic.Uint64
	rejected  atomic.Uint64
}

// New builds a session. The seat is created immediately; nothing runs
// until Run is called.
func New(cfg Config, opts Options) (*Session, error) {
	if opts.Windows == nil {
		return nil, errors.New("session: window registry is required")
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.SubscriberBuffer < 1 {
		cfg.SubscriberBuffer = DefaultConfig().SubscriberBuffer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("seat", cfg.Seat)

	s := &Session{
		cfg:     cfg,
		metrics: opts.Metrics,
		logger:  logger,
		tap:     opts.Tap,
		life:    opts.Lifecycle,
		queue:   make(chan tablet.Notification, cfg.QueueSize),
		calls:   make(chan call),
		closed:  make(chan struct{}),
	}

	var onDrop func(int)
	if opts.Metrics != nil {
		onDrop = opts.Metrics.SubscriberDropped
	}
	s.hub = NewHub(cfg.SubscriberBuffer, onDrop)

	sinks := append(tablet.MultiSink{}, opts.Sinks...)
	sinks = append(sinks, s.hub)
	seatOpts := tablet.SeatOptions{
		Windows: opts.Windows,
		Sink:    sinks,
		Buttons: opts.Buttons,
		Release: opts.Release,
		Logger:  logger,
	}
	if opts.Metrics != nil {
		seatOpts.Sink = append(sinks, opts.Metrics)
		seatOpts.Observer = opts.Metrics
	}
	s.seat = tablet.NewSeat(seatOpts)
	return s, nil
}

// Run processes notifications until ctx is cancelled. Subscriber
// channels are closed when it returns.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)
	s.owner.Lock()
	defer s.owner.Unlock()
	defer s.shutdown()

	s.logger.Info("session started", "queue", s.cfg.QueueSize)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session stopped", "processed", s.processed.Load())
			return nil
		case n := <-s.queue:
			s.handle(n)
		case c := <-s.calls:
			for i := len(s.queue); i > 0; i-- {
				s.handle(<-s.queue)
			}
			c.fn(s.seat)
			close(c.done)
		}
	}
}

func (s *Session) shutdown() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.hub.Close()
	})
}

// Submit enqueues a notification. It blocks only while the queue is full.
func (s *Session) Submit(ctx context.Context, n tablet.Notification) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	select {
	case s.queue <- n:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
		return ErrClosed
	}
}

// Process handles a notification synchronously on the caller's
// goroutine. It must not be mixed with a running Run loop; replay uses it.
func (s *Session) Process(n tablet.Notification) error {
	if s.running.Load() {
		return fmt.Errorf("process: %w", ErrAlreadyRunning)
	}
	s.owner.Lock()
	defer s.owner.Unlock()
	return s.handle(n)
}

func (s *Session) handle(n tablet.Notification) error {
	if s.tap != nil {
		s.tap(n)
	}

	var update tablet.Update
	if u, ok := n.(tablet.ToolUpdate); ok {
		update = u.Update
	}
	// The record is gone once Removed is applied.
	var removed *tablet.ToolInfo
	if _, ok := update.(tablet.Removed); ok && s.life != nil {
		if rec, err := s.seat.Registry().Lookup(n.Target()); err == nil {
			info := rec.Info()
			removed = &info
		}
	}

	err := s.seat.Handle(n)
	s.processed.Add(1)
	if s.metrics != nil {
		s.metrics.Notification(err)
	}
	if err != nil {
		s.rejected.Add(1)
		s.logger.Warn("notification rejected", "tool", n.Target(), "type", fmt.Sprintf("%T", n), "error", err)
		return err
	}

	if s.life != nil {
		switch update.(type) {
		case tablet.Done:
			if rec, err := s.seat.Registry().Lookup(n.Target()); err == nil {
				s.life.ToolDescribed(rec.Info())
			}
		case tablet.Removed:
			if removed != nil {
				s.life.ToolRemoved(*removed)
			}
		}
	}
	return nil
}

// Do runs fn on the processing goroutine and waits for it. fn observes
// every notification submitted before Do was called. When the loop is
// not running fn runs on the caller's goroutine.
func (s *Session) Do(ctx context.Context, fn func(*tablet.Seat)) error {
	if !s.running.Load() {
		s.owner.Lock()
		defer s.owner.Unlock()
		select {
		case <-s.closed:
			return ErrClosed
		default:
		}
		fn(s.seat)
		return nil
	}
	c := call{fn: fn, done: make(chan struct{})}
	select {
	case s.calls <- c:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
		return ErrClosed
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tools returns a snapshot of the registered tools.
func (s *Session) Tools(ctx context.Context) ([]tablet.ToolInfo, error) {
	var tools []tablet.ToolInfo
	err := s.Do(ctx, func(seat *tablet.Seat) {
		tools = seat.Registry().Tools()
	})
	return tools, err
}

// Status reports queue and registry state.
func (s *Session) Status(ctx context.Context) (Status, error) {
	st := Status{
		Seat:        s.cfg.Seat,
		Running:     s.running.Load(),
		Queued:      len(s.queue),
		Subscribers: s.hub.Len(),
		Processed:   s.processed.Load(),
		Rejected:    s.rejected.Load(),
	}
	err := s.Do(ctx, func(seat *tablet.Seat) {
		st.Tools = seat.Registry().Len()
	})
	return st, err
}

// Subscribe registers a channel subscriber. Call Unsubscribe when done.
func (s *Session) Subscribe() *ChannelSink {
	return s.hub.Subscribe()
}

// Unsubscribe removes and closes a subscriber.
func (s *Session) Unsubscribe(c *ChannelSink) {
	s.hub.Unsubscribe(c)
}
