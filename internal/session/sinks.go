package session

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"tabletd/internal/tablet"
)

// ChannelSink delivers events to one subscriber. Sends never block: when
// the buffer is full the event is dropped and counted.
type ChannelSink struct {
	ch      chan tablet.Event
	dropped atomic.Uint64
	onDrop  func(int)
}

// Events returns the receive side. It is closed on Unsubscribe or when
// the session stops.
func (c *ChannelSink) Events() <-chan tablet.Event {
	return c.ch
}

// Dropped returns the number of events this subscriber missed.
func (c *ChannelSink) Dropped() uint64 {
	return c.dropped.Load()
}

func (c *ChannelSink) PushEvent(ev tablet.Event) {
	select {
	case c.ch <- ev:
	default:
		c.dropped.Add(1)
		if c.onDrop != nil {
			c.onDrop(1)
		}
	}
}

// Hub fans events out to channel subscribers.
type Hub struct {
	mu     sync.Mutex
	subs   map[*ChannelSink]struct{}
	buffer int
	onDrop func(int)
	closed bool
}

// NewHub creates a hub whose subscribers buffer up to buffer events.
func NewHub(buffer int, onDrop func(int)) *Hub {
	return &Hub{
		subs:   make(map[*ChannelSink]struct{}),
		buffer: buffer,
		onDrop: onDrop,
	}
}

// Subscribe adds a subscriber. On a closed hub the returned sink's
// channel is already closed.
func (h *Hub) Subscribe() *ChannelSink {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := &ChannelSink{ch: make(chan tablet.Event, h.buffer), onDrop: h.onDrop}
	if h.closed {
		close(c.ch)
		return c
	}
	h.subs[c] = struct{}{}
	return c
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(c *ChannelSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[c]; !ok {
		return
	}
	delete(h.subs, c)
	close(c.ch)
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) PushEvent(ev tablet.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.subs {
		c.PushEvent(ev)
	}
}

// Close closes every subscriber. Later subscriptions get closed channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.subs {
		close(c.ch)
	}
	h.subs = make(map[*ChannelSink]struct{})
}

// LogSink logs every event at debug level.
type LogSink struct {
	Logger *slog.Logger
}

func (l LogSink) PushEvent(ev tablet.Event) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		"kind", ev.Kind(),
		"device", ev.Device(),
		"window", ev.Window(),
		"x", ev.Location().X,
		"y", ev.Location().Y,
	}
	if m, ok := ev.(tablet.PointerMoved); ok {
		attrs = append(attrs, "force", m.Source.Force, "tool", m.Source.Type)
	}
	logger.Debug("pointer event", attrs...)
}
