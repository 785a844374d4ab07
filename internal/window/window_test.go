package window

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabletd/internal/tablet"
)

func TestMapAndResolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Map(1, 100, 1.5))

	w, ok := r.WindowFor(1)
	require.True(t, ok)
	assert.Equal(t, tablet.WindowID(100), w)

	scale, ok := r.ScaleFactor(100)
	require.True(t, ok)
	assert.Equal(t, 1.5, scale)

	_, ok = r.WindowFor(2)
	assert.False(t, ok)
}

func TestInvalidScale(t *testing.T) {
	r := NewRegistry()
	assert.ErrorIs(t, r.Map(1, 100, 0), ErrInvalidScale)
	assert.ErrorIs(t, r.Map(1, 100, -1), ErrInvalidScale)

	require.NoError(t, r.Map(1, 100, 1))
	assert.ErrorIs(t, r.SetScale(100, 0), ErrInvalidScale)
	assert.Error(t, r.SetScale(200, 2), "unknown window")
}

func TestRemoveDropsSurfaces(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Map(1, 100, 1))
	require.NoError(t, r.Map(2, 100, 1))
	require.NoError(t, r.Map(3, 200, 2))

	r.Remove(100)
	_, ok := r.WindowFor(1)
	assert.False(t, ok)
	_, ok = r.WindowFor(2)
	assert.False(t, ok)
	_, ok = r.ScaleFactor(100)
	assert.False(t, ok)

	w, ok := r.WindowFor(3)
	assert.True(t, ok)
	assert.Equal(t, tablet.WindowID(200), w)
	assert.Len(t, r.Windows(), 1)
}

// A torn-down window makes the seat drop frames instead of failing.
func TestSeatDropsFramesForRemovedWindow(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Map(1, 100, 2))

	var events []tablet.Event
	seat := tablet.NewSeat(tablet.SeatOptions{
		Windows: r,
		Sink:    tablet.EventSinkFunc(func(ev tablet.Event) { events = append(events, ev) }),
	})
	for _, n := range []tablet.Notification{
		tablet.ToolAdded{Tool: 1},
		tablet.ToolUpdate{Tool: 1, Update: tablet.ProximityIn{Surface: 1}},
		tablet.ToolUpdate{Tool: 1, Update: tablet.Motion{X: 3, Y: 4}},
		tablet.ToolUpdate{Tool: 1, Update: tablet.Frame{}},
	} {
		require.NoError(t, seat.Handle(n))
	}
	require.Len(t, events, 2)
	assert.Equal(t, tablet.PhysicalPosition{X: 6, Y: 8}, events[0].Location())

	r.Remove(100)
	events = nil
	require.NoError(t, seat.Handle(tablet.ToolUpdate{Tool: 1, Update: tablet.Motion{X: 5, Y: 5}}))
	require.NoError(t, seat.Handle(tablet.ToolUpdate{Tool: 1, Update: tablet.Frame{}}))
	assert.Empty(t, events)
}
