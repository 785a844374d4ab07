package metrics

import (
	"errors"
	"time"

	"tabletd/internal/tablet"
)

// TabletMetrics holds the seat and session metrics. It implements
// tablet.Observer and tablet.EventSink.
type TabletMetrics struct {
	registry *Registry

	NotificationsTotal *Counter
	UnknownToolTotal   *Counter
	FramesTotal        *Counter
	UnresolvedTotal    *Counter
	NoPositionTotal    *Counter
	DiscardedButtons   *Counter
	SubscriberDrops    *Counter
	EnteredTotal       *Counter
	MovedTotal         *Counter
	LeftTotal          *Counter
	ActiveTools        *Gauge
	FlushDuration      *Histogram
}

// NewTabletMetrics registers every tabletd metric on registry.
func NewTabletMetrics(registry *Registry) *TabletMetrics {
	if registry == nil {
		registry = NewRegistry("tabletd")
	}
	events := func(kind tablet.EventKind) *Counter {
		return registry.RegisterCounter("pointer_events_total",
			"Pointer events emitted, by kind", Labels{"kind": string(kind)})
	}
	return &TabletMetrics{
		registry: registry,
		NotificationsTotal: registry.RegisterCounter("notifications_total",
			"Notifications processed by the seat", nil),
		UnknownToolTotal: registry.RegisterCounter("unknown_tool_total",
			"Notifications addressed to a tool that is not registered", nil),
		FramesTotal: registry.RegisterCounter("frames_total",
			"Frames flushed with a resolvable position", nil),
		UnresolvedTotal: registry.RegisterCounter("frames_unresolved_total",
			"Frames dropped because the surface did not resolve to a window", nil),
		NoPositionTotal: registry.RegisterCounter("frames_no_position_total",
			"Frames dropped because the tool never reported a position", nil),
		DiscardedButtons: registry.RegisterCounter("button_transitions_discarded_total",
			"Button transitions flushed without a button handler", nil),
		SubscriberDrops: registry.RegisterCounter("subscriber_drops_total",
			"Events dropped for subscribers that fell behind", nil),
		EnteredTotal: events(tablet.KindEntered),
		MovedTotal:   events(tablet.KindMoved),
		LeftTotal:    events(tablet.KindLeft),
		ActiveTools: registry.RegisterGauge("active_tools",
			"Tools currently registered on the seat", nil),
		FlushDuration: registry.RegisterHistogram("flush_duration_seconds",
			"Time spent flushing one frame", nil, DurationBuckets),
	}
}

// Registry returns the registry the metrics live in.
func (m *TabletMetrics) Registry() *Registry {
	return m.registry
}

// Notification counts one handled notification and its outcome.
func (m *TabletMetrics) Notification(err error) {
	m.NotificationsTotal.Inc()
	if errors.Is(err, tablet.ErrUnknownTool) {
		m.UnknownToolTotal.Inc()
	}
}

// SubscriberDropped counts events a slow subscriber missed.
func (m *TabletMetrics) SubscriberDropped(n int) {
	m.SubscriberDrops.Add(uint64(n))
}

// PushEvent counts an emitted event.
func (m *TabletMetrics) PushEvent(ev tablet.Event) {
	switch ev.Kind() {
	case tablet.KindEntered:
		m.EnteredTotal.Inc()
	case tablet.KindMoved:
		m.MovedTotal.Inc()
	case tablet.KindLeft:
		m.LeftTotal.Inc()
	}
}

func (m *TabletMetrics) FrameFlushed(d time.Duration, _ int) {
	m.FramesTotal.Inc()
	m.FlushDuration.ObserveDuration(d)
}

func (m *TabletMetrics) FrameDropped(reason error) {
	if errors.Is(reason, tablet.ErrUnresolvedSurface) {
		m.UnresolvedTotal.Inc()
		return
	}
	m.NoPositionTotal.Inc()
}

func (m *TabletMetrics) ButtonsDiscarded(n int) {
	m.DiscardedButtons.Add(uint64(n))
}

func (m *TabletMetrics) ToolsChanged(live int) {
	m.ActiveTools.Set(int64(live))
}
