package tablet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWindows struct {
	surfaces map[SurfaceID]WindowID
	scales   map[WindowID]float64
}

func newFakeWindows() *fakeWindows {
	return &fakeWindows{
		surfaces: map[SurfaceID]WindowID{1: 100},
		scales:   map[WindowID]float64{100: 1.0},
	}
}

func (w *fakeWindows) WindowFor(s SurfaceID) (WindowID, bool) {
	id, ok := w.surfaces[s]
	return id, ok
}

func (w *fakeWindows) ScaleFactor(id WindowID) (float64, bool) {
	scale, ok := w.scales[id]
	return scale, ok
}

type recordingSink struct {
	events []Event
}

func (s *recordingSink) PushEvent(ev Event) { s.events = append(s.events, ev) }

func (s *recordingSink) take() []Event {
	evs := s.events
	s.events = nil
	return evs
}

type recordingButtons struct {
	calls [][]ButtonTransition
}

func (b *recordingButtons) ToolButtons(_ DeviceID, _ WindowID, _ PhysicalPosition, t []ButtonTransition) {
	b.calls = append(b.calls, t)
}

func newTestSeat(t *testing.T) (*Seat, *fakeWindows, *recordingSink) {
	t.Helper()
	windows := newFakeWindows()
	sink := &recordingSink{}
	seat := NewSeat(SeatOptions{Windows: windows, Sink: sink})
	return seat, windows, sink
}

func handleAll(t *testing.T, seat *Seat, ns ...Notification) {
	t.Helper()
	for _, n := range ns {
		require.NoError(t, seat.Handle(n))
	}
}

func upd(tool ToolID, u Update) Notification {
	return ToolUpdate{Tool: tool, Update: u}
}

func TestScenarioEnterAndMove(t *testing.T) {
	seat, _, sink := newTestSeat(t)

	handleAll(t, seat,
		ToolAdded{Tool: 7},
		upd(7, ProximityIn{Surface: 1}),
		upd(7, Motion{X: 10, Y: 20}),
		upd(7, Pressure{Value: 32767}),
		upd(7, Frame{}),
	)

	evs := sink.take()
	require.Len(t, evs, 2)

	entered, ok := evs[0].(PointerEntered)
	require.True(t, ok, "first event should be entered, got %T", evs[0])
	assert.Equal(t, DeviceID(0), entered.DeviceID)
	assert.Equal(t, WindowID(100), entered.WindowID)
	assert.Equal(t, PhysicalPosition{X: 10, Y: 20}, entered.Position)
	assert.Equal(t, ToolKindPen, entered.Tool)

	moved, ok := evs[1].(PointerMoved)
	require.True(t, ok, "second event should be moved, got %T", evs[1])
	assert.Equal(t, DeviceID(0), moved.DeviceID)
	assert.Equal(t, PhysicalPosition{X: 10, Y: 20}, moved.Position)
	assert.InDelta(t, 0.49999, moved.Source.Force, 1e-4)
	assert.Nil(t, moved.Source.Twist)
	assert.Nil(t, moved.Source.Tilt)

	// Scenario continues: proximity out with no motion since last frame.
	handleAll(t, seat,
		upd(7, ProximityOut{}),
		upd(7, Frame{}),
	)
	evs = sink.take()
	require.Len(t, evs, 1)
	left, ok := evs[0].(PointerLeft)
	require.True(t, ok)
	assert.Equal(t, PhysicalPosition{X: 10, Y: 20}, left.Position)
	assert.Equal(t, DeviceID(0), left.DeviceID)
}

func TestEventOrderIsFixed(t *testing.T) {
	seat, _, sink := newTestSeat(t)

	// Leave is reported before enter within the frame; emission order
	// must not follow arrival order.
	handleAll(t, seat,
		ToolAdded{Tool: 1},
		upd(1, Motion{X: 1, Y: 1}),
		upd(1, ProximityOut{}),
		upd(1, TiltChanged{X: 5, Y: -5}),
		upd(1, ProximityIn{Surface: 1}),
		upd(1, Frame{}),
	)

	evs := sink.take()
	require.Len(t, evs, 3)
	assert.Equal(t, KindEntered, evs[0].Kind())
	assert.Equal(t, KindMoved, evs[1].Kind())
	assert.Equal(t, KindLeft, evs[2].Kind())

	// The proximity-in came last, so the tool is still over the surface.
	handleAll(t, seat,
		upd(1, Motion{X: 5, Y: 5}),
		upd(1, Frame{}),
	)
	evs = sink.take()
	require.Len(t, evs, 1)
	assert.Equal(t, KindMoved, evs[0].Kind())
}

func TestProximityOutLastClearsSurface(t *testing.T) {
	seat, _, sink := newTestSeat(t)
	handleAll(t, seat,
		ToolAdded{Tool: 1},
		upd(1, ProximityIn{Surface: 1}),
		upd(1, Motion{X: 1, Y: 1}),
		upd(1, Frame{}),
	)
	sink.take()

	handleAll(t, seat,
		upd(1, ProximityIn{Surface: 1}),
		upd(1, ProximityOut{}),
		upd(1, Frame{}),
	)
	evs := sink.take()
	require.Len(t, evs, 2)
	assert.Equal(t, KindLeft, evs[1].Kind())

	handleAll(t, seat,
		upd(1, Motion{X: 2, Y: 2}),
		upd(1, Frame{}),
	)
	assert.Empty(t, sink.take(), "tool left the surface")
}

func TestAtMostOneEventPerKind(t *testing.T) {
	seat, _, sink := newTestSeat(t)
	handleAll(t, seat, ToolAdded{Tool: 1})
	for i := 0; i < 5; i++ {
		handleAll(t, seat,
			upd(1, ProximityIn{Surface: 1}),
			upd(1, Motion{X: float64(i), Y: float64(i)}),
			upd(1, Pressure{Value: uint32(i * 1000)}),
			upd(1, Rotation{Degrees: float64(i)}),
		)
	}
	handleAll(t, seat, upd(1, Frame{}))

	counts := map[EventKind]int{}
	for _, ev := range sink.take() {
		counts[ev.Kind()]++
	}
	assert.Equal(t, map[EventKind]int{KindEntered: 1, KindMoved: 1}, counts)
}

func TestLastWriterWins(t *testing.T) {
	seat, _, sink := newTestSeat(t)
	handleAll(t, seat,
		ToolAdded{Tool: 1},
		upd(1, ProximityIn{Surface: 1}),
		upd(1, Motion{X: 1, Y: 1}),
		upd(1, Motion{X: 3, Y: 4}),
		upd(1, Pressure{Value: 0}),
		upd(1, Pressure{Value: 65535}),
		upd(1, Frame{}),
	)
	evs := sink.take()
	require.Len(t, evs, 2)
	moved := evs[1].(PointerMoved)
	assert.Equal(t, PhysicalPosition{X: 3, Y: 4}, moved.Position)
	assert.InDelta(t, 1.0, moved.Source.Force, 1e-9)
}

func TestFlushWithoutPositionEmitsNothing(t *testing.T) {
	seat, _, sink := newTestSeat(t)
	handleAll(t, seat,
		ToolAdded{Tool: 1},
		upd(1, ProximityIn{Surface: 1}),
		upd(1, Pressure{Value: 100}),
		upd(1, Frame{}),
	)
	assert.Empty(t, sink.take())

	// Flags survive the aborted frame and are delivered once a position
	// shows up.
	handleAll(t, seat,
		upd(1, Motion{X: 2, Y: 2}),
		upd(1, Frame{}),
	)
	evs := sink.take()
	require.Len(t, evs, 2)
	assert.Equal(t, KindEntered, evs[0].Kind())
	assert.Equal(t, KindMoved, evs[1].Kind())
}

func TestFlushWithoutFlagsEmitsNothing(t *testing.T) {
	seat, _, sink := newTestSeat(t)
	handleAll(t, seat,
		ToolAdded{Tool: 1},
		upd(1, ProximityIn{Surface: 1}),
		upd(1, Motion{X: 2, Y: 2}),
		upd(1, Frame{}),
	)
	require.Len(t, sink.take(), 2)

	handleAll(t, seat, upd(1, Frame{}))
	assert.Empty(t, sink.take())
}

func TestPressureDefaultsToFullForce(t *testing.T) {
	seat, _, sink := newTestSeat(t)
	handleAll(t, seat,
		ToolAdded{Tool: 1},
		upd(1, ProximityIn{Surface: 1}),
		upd(1, Motion{X: 2, Y: 2}),
		upd(1, Frame{}),
	)
	evs := sink.take()
	require.Len(t, evs, 2)
	assert.Equal(t, 1.0, evs[1].(PointerMoved).Source.Force)
}

func TestMovePayloadCarriesTiltAndTwist(t *testing.T) {
	seat, _, sink := newTestSeat(t)
	handleAll(t, seat,
		ToolAdded{Tool: 1},
		upd(1, ToolClassified{Type: ToolTypeEraser}),
		upd(1, ProximityIn{Surface: 1}),
		upd(1, Motion{X: 2, Y: 2}),
		upd(1, TiltChanged{X: 12.5, Y: -3}),
		upd(1, Rotation{Degrees: 90}),
		upd(1, Frame{}),
	)
	evs := sink.take()
	require.Len(t, evs, 2)
	assert.Equal(t, ToolKindEraser, evs[0].(PointerEntered).Tool)

	src := evs[1].(PointerMoved).Source
	assert.Equal(t, ToolKindEraser, src.Type)
	require.NotNil(t, src.Twist)
	assert.Equal(t, 90.0, *src.Twist)
	require.NotNil(t, src.Tilt)
	assert.Equal(t, Tilt{X: 12.5, Y: -3}, *src.Tilt)
}

func TestScaleFactorApplied(t *testing.T) {
	seat, windows, sink := newTestSeat(t)
	windows.scales[100] = 2.0
	handleAll(t, seat,
		ToolAdded{Tool: 1},
		upd(1, ProximityIn{Surface: 1}),
		upd(1, Motion{X: 10.5, Y: 20}),
		upd(1, Frame{}),
	)
	evs := sink.take()
	require.NotEmpty(t, evs)
	assert.Equal(t, PhysicalPosition{X: 21, Y: 40}, evs[0].Location())
}

func TestUnresolvedSurfaceDropsFrameSilently(t *testing.T) {
	seat, windows, sink := newTestSeat(t)
	handleAll(t, seat,
		ToolAdded{Tool: 1},
		upd(1, ProximityIn{Surface: 9}),
		upd(1, Motion{X: 1, Y: 1}),
	)
	require.NoError(t, seat.Handle(upd(1, Frame{})))
	assert.Empty(t, sink.take())

	// Once the window appears the pending flags are still there.
	windows.surfaces[9] = 100
	handleAll(t, seat, upd(1, Frame{}))
	assert.Len(t, sink.take(), 2)
}

func TestFrameBeforeProximityDropsSilently(t *testing.T) {
	seat, _, sink := newTestSeat(t)
	handleAll(t, seat,
		ToolAdded{Tool: 1},
		upd(1, Motion{X: 1, Y: 1}),
		upd(1, Frame{}),
	)
	assert.Empty(t, sink.take())
}

func TestRemovedToolIsUnknown(t *testing.T) {
	var released []ToolID
	sink := &recordingSink{}
	seat := NewSeat(SeatOptions{
		Windows: newFakeWindows(),
		Sink:    sink,
		Release: func(id ToolID) { released = append(released, id) },
	})

	handleAll(t, seat,
		ToolAdded{Tool: 3},
		upd(3, ProximityIn{Surface: 1}),
		upd(3, Motion{X: 1, Y: 1}),
		upd(3, Removed{}),
	)
	assert.Equal(t, []ToolID{3}, released)

	_, err := seat.Registry().Lookup(3)
	assert.True(t, errors.Is(err, ErrUnknownTool))

	err = seat.Handle(upd(3, Frame{}))
	assert.ErrorIs(t, err, ErrUnknownTool)
	assert.Empty(t, sink.take())

	err = seat.Handle(upd(3, Removed{}))
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestUpdateForUnannouncedTool(t *testing.T) {
	seat, _, _ := newTestSeat(t)
	err := seat.Handle(upd(42, Motion{X: 1, Y: 1}))
	assert.ErrorIs(t, err, ErrUnknownTool)

	// The seat keeps working for other tools.
	handleAll(t, seat, ToolAdded{Tool: 1})
	assert.Equal(t, 1, seat.Registry().Len())
}

func TestDeviceIDsAreMonotonic(t *testing.T) {
	seat, _, _ := newTestSeat(t)
	handleAll(t, seat, ToolAdded{Tool: 10}, ToolAdded{Tool: 11})

	a, err := seat.Registry().Lookup(10)
	require.NoError(t, err)
	b, err := seat.Registry().Lookup(11)
	require.NoError(t, err)
	assert.Equal(t, DeviceID(0), a.DeviceID())
	assert.Equal(t, DeviceID(1), b.DeviceID())

	handleAll(t, seat, upd(10, Removed{}), ToolAdded{Tool: 12})
	c, err := seat.Registry().Lookup(12)
	require.NoError(t, err)
	assert.Equal(t, DeviceID(2), c.DeviceID(), "ids must not be reused after removal")
}

func TestDuplicateAnnouncement(t *testing.T) {
	seat, _, _ := newTestSeat(t)
	handleAll(t, seat, ToolAdded{Tool: 1})
	assert.ErrorIs(t, seat.Handle(ToolAdded{Tool: 1}), ErrDuplicateTool)
}

func TestButtonTransitionsReachHandler(t *testing.T) {
	buttons := &recordingButtons{}
	seat := NewSeat(SeatOptions{Windows: newFakeWindows(), Buttons: buttons})

	handleAll(t, seat,
		ToolAdded{Tool: 1},
		upd(1, ProximityIn{Surface: 1}),
		upd(1, Motion{X: 1, Y: 1}),
		upd(1, Down{}),
		upd(1, ButtonChanged{Code: CodeStylus, State: Pressed}),
		upd(1, ButtonChanged{Code: 0x110, State: Released}),
		upd(1, Up{}),
		upd(1, Frame{}),
	)
	require.Len(t, buttons.calls, 1)
	assert.Equal(t, []ButtonTransition{
		{Button: Button{Kind: ButtonContact}, State: Pressed},
		{Button: Button{Kind: Button1}, State: Pressed},
		{Button: Button{Kind: ButtonOther, Code: 0x110}, State: Released},
		{Button: Button{Kind: ButtonContact}, State: Released},
	}, buttons.calls[0])

	// The queue was cleared by the flush.
	handleAll(t, seat, upd(1, Frame{}))
	assert.Len(t, buttons.calls, 1)
}

func TestButtonFromCode(t *testing.T) {
	tests := []struct {
		code uint32
		want Button
	}{
		{0x14b, Button{Kind: Button1}},
		{0x14c, Button{Kind: Button2}},
		{0x149, Button{Kind: Button3}},
		{0x110, Button{Kind: ButtonOther, Code: 0x110}},
		{0x2ff, Button{Kind: ButtonOther, Code: 0x2ff}},
		{0x1014b, Button{Kind: ButtonOther, Code: 0x1014b}},
		{0xffffffff, Button{Kind: ButtonOther, Code: 0xffffffff}},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, ButtonFromCode(tt.code))
			assert.Equal(t, tt.want, ButtonFromCode(tt.code), "mapping must be stable")
		})
	}
}

func TestRegistryTools(t *testing.T) {
	seat, _, _ := newTestSeat(t)
	handleAll(t, seat,
		ToolAdded{Tool: 5},
		ToolAdded{Tool: 2},
		upd(5, ToolClassified{Type: ToolTypeEraser}),
		upd(5, HardwareSerial{Serial: 0xabc}),
		upd(5, CapabilityAdvertised{Capability: CapabilityPressure}),
		upd(5, CapabilityAdvertised{Capability: CapabilityTilt}),
		upd(5, Done{}),
		upd(2, ProximityIn{Surface: 1}),
	)

	tools := seat.Registry().Tools()
	require.Len(t, tools, 2)
	assert.Equal(t, ToolID(5), tools[0].Tool)
	assert.Equal(t, "eraser", tools[0].Type)
	assert.Equal(t, ToolKindEraser, tools[0].Kind)
	assert.Equal(t, uint64(0xabc), tools[0].HardwareSerial)
	assert.Equal(t, []string{"pressure", "tilt"}, tools[0].Capabilities)
	assert.True(t, tools[0].Described)
	assert.False(t, tools[0].InProximity)

	assert.Equal(t, ToolID(2), tools[1].Tool)
	assert.Equal(t, ToolKindPen, tools[1].Kind)
	assert.True(t, tools[1].InProximity)
}

func TestParseToolType(t *testing.T) {
	for i := ToolTypePen; i <= ToolTypeLens; i++ {
		got, err := ParseToolType(i.String())
		require.NoError(t, err)
		assert.Equal(t, i, got)
	}
	_, err := ParseToolType("crayon")
	assert.Error(t, err)
}
