package metrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabletd/internal/tablet"
)

func TestRegistryDeduplicates(t *testing.T) {
	r := NewRegistry("test")
	a := r.RegisterCounter("x_total", "x", Labels{"kind": "a"})
	b := r.RegisterCounter("x_total", "x", Labels{"kind": "b"})
	again := r.RegisterCounter("x_total", "x", Labels{"kind": "a"})

	assert.NotSame(t, a, b)
	assert.Same(t, a, again)
}

func TestHistogramBuckets(t *testing.T) {
	r := NewRegistry("")
	h := r.RegisterHistogram("latency", "l", nil, []float64{1, 2})
	h.Observe(0.5)
	h.Observe(1)
	h.Observe(1.5)
	h.Observe(3)

	assert.Equal(t, uint64(4), h.Count())
	assert.InDelta(t, 6.0, h.Sum(), 1e-9)

	var buf bytes.Buffer
	require.NoError(t, r.WritePrometheus(&buf))
	out := buf.String()
	assert.Contains(t, out, `latency_bucket{le="1"} 2`)
	assert.Contains(t, out, `latency_bucket{le="2"} 3`)
	assert.Contains(t, out, `latency_bucket{le="+Inf"} 4`)
	assert.Contains(t, out, "latency_count 4")
}

func TestTabletMetricsObserver(t *testing.T) {
	m := NewTabletMetrics(nil)
	var _ tablet.Observer = m
	var _ tablet.EventSink = m

	m.Notification(nil)
	m.Notification(fmt.Errorf("tool 9: %w", tablet.ErrUnknownTool))
	m.FrameDropped(fmt.Errorf("surface 3: %w", tablet.ErrUnresolvedSurface))
	m.FrameDropped(fmt.Errorf("no position"))
	m.FrameFlushed(time.Microsecond, 2)
	m.ButtonsDiscarded(3)
	m.ToolsChanged(2)
	m.PushEvent(tablet.PointerEntered{})
	m.PushEvent(tablet.PointerMoved{})
	m.PushEvent(tablet.PointerMoved{})

	assert.Equal(t, uint64(2), m.NotificationsTotal.Value())
	assert.Equal(t, uint64(1), m.UnknownToolTotal.Value())
	assert.Equal(t, uint64(1), m.UnresolvedTotal.Value())
	assert.Equal(t, uint64(1), m.NoPositionTotal.Value())
	assert.Equal(t, uint64(1), m.FramesTotal.Value())
	assert.Equal(t, uint64(3), m.DiscardedButtons.Value())
	assert.Equal(t, int64(2), m.ActiveTools.Value())
	assert.Equal(t, uint64(1), m.EnteredTotal.Value())
	assert.Equal(t, uint64(2), m.MovedTotal.Value())
	assert.Equal(t, uint64(0), m.LeftTotal.Value())
}

func TestHTTPHandler(t *testing.T) {
	m := NewTabletMetrics(nil)
	m.PushEvent(tablet.PointerLeft{})
	h := m.Registry().HTTPHandler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `tabletd_pointer_events_total{kind="left"} 1`)
	assert.Equal(t, 1, bytes.Count(rec.Body.Bytes(), []byte("# TYPE tabletd_pointer_events_total counter")))

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Accept", "application/json")
	h.ServeHTTP(rec, req)

	var out map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, float64(1), out[`tabletd_pointer_events_total{kind="left"}`]["value"])
}
