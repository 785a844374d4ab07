package evdev

import (
	"bytes"
	"encoding/binary"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabletd/internal/tablet"
)

func encode(ev InputEvent, size int) []byte {
	b := make([]byte, size)
	usec := ev.Time.Nanosecond() / 1000
	if size == 24 {
		binary.LittleEndian.PutUint64(b[0:8], uint64(ev.Time.Unix()))
		binary.LittleEndian.PutUint64(b[8:16], uint64(usec))
		binary.LittleEndian.PutUint16(b[16:18], ev.Type)
		binary.LittleEndian.PutUint16(b[18:20], ev.Code)
		binary.LittleEndian.PutUint32(b[20:24], uint32(ev.Value))
		return b
	}
	binary.LittleEndian.PutUint32(b[0:4], uint32(ev.Time.Unix()))
	binary.LittleEndian.PutUint32(b[4:8], uint32(usec))
	binary.LittleEndian.PutUint16(b[8:10], ev.Type)
	binary.LittleEndian.PutUint16(b[10:12], ev.Code)
	binary.LittleEndian.PutUint32(b[12:16], uint32(ev.Value))
	return b
}

func TestParserLayouts(t *testing.T) {
	when := time.Unix(1700000000, 250000*1000)
	in := []InputEvent{
		{Time: when, Type: EvAbs, Code: AbsX, Value: 1234},
		{Time: when, Type: EvAbs, Code: AbsTiltX, Value: -30},
		{Time: when, Type: EvSyn, Code: SynReport},
	}

	for _, size := range []int{16, 24} {
		var stream []byte
		for _, ev := range in {
			stream = append(stream, encode(ev, size)...)
		}

		p, err := NewParser(size)
		require.NoError(t, err)

		var out []InputEvent
		// Split mid-event to exercise buffering.
		p.Feed(stream[:size+3], func(ev InputEvent) { out = append(out, ev) })
		require.Len(t, out, 1)
		p.Feed(stream[size+3:], func(ev InputEvent) { out = append(out, ev) })
		require.Len(t, out, 3, "size %d", size)

		for i := range in {
			assert.Equal(t, in[i].Type, out[i].Type)
			assert.Equal(t, in[i].Code, out[i].Code)
			assert.Equal(t, in[i].Value, out[i].Value)
			assert.True(t, in[i].Time.Equal(out[i].Time))
		}
	}
}

func TestParserGuessesSize(t *testing.T) {
	p, err := NewParser(0)
	require.NoError(t, err)
	var n int
	p.Feed(append(encode(InputEvent{Type: EvKey}, 16), encode(InputEvent{Type: EvSyn}, 16)...),
		func(InputEvent) { n++ })
	assert.Equal(t, 16, p.Size())
	assert.Equal(t, 2, n)

	_, err = NewParser(20)
	assert.Error(t, err)
}

type collector struct {
	out []tablet.Notification
}

func (c *collector) emit(n tablet.Notification) { c.out = append(c.out, n) }

func (c *collector) updates() []tablet.Update {
	var us []tablet.Update
	for _, n := range c.out {
		if u, ok := n.(tablet.ToolUpdate); ok {
			us = append(us, u.Update)
		}
	}
	return us
}

func testGeometry() Geometry {
	return Geometry{
		Surface: 4,
		Width:   200,
		Height:  100,
		Axes: map[uint16]AxisRange{
			AbsX:        {Min: 0, Max: 1000},
			AbsY:        {Min: 0, Max: 1000},
			AbsPressure: {Min: 0, Max: 1023},
			AbsTiltX:    {Min: -64, Max: 63},
		},
	}
}

func TestTranslatorPenStroke(t *testing.T) {
	tr := NewTranslator(testGeometry(), nil)
	c := &collector{}
	feed := func(typ, code uint16, value int32) {
		tr.Translate(InputEvent{Type: typ, Code: code, Value: value}, c.emit)
	}

	// The kernel sends axes before the tool key within a report.
	feed(EvAbs, AbsX, 500)
	feed(EvAbs, AbsY, 250)
	feed(EvKey, BtnToolPen, 1)
	feed(EvSyn, SynReport, 0)

	require.Len(t, c.out, 8)
	assert.Equal(t, tablet.ToolAdded{Tool: 1}, c.out[0])
	assert.Equal(t, []tablet.Update{
		tablet.ToolClassified{Type: tablet.ToolTypePen},
		tablet.CapabilityAdvertised{Capability: tablet.CapabilityTilt},
		tablet.CapabilityAdvertised{Capability: tablet.CapabilityPressure},
		tablet.Done{},
		tablet.ProximityIn{Serial: 1, Surface: 4},
		tablet.Motion{X: 100, Y: 25},
		tablet.Frame{},
	}, c.updates())

	c.out = nil
	feed(EvAbs, AbsPressure, 1023)
	feed(EvAbs, AbsTiltX, -30)
	feed(EvKey, BtnTouch, 1)
	feed(EvKey, BtnStylus, 1)
	feed(EvSyn, SynReport, 0)
	assert.Equal(t, []tablet.Update{
		tablet.Pressure{Value: 65535},
		tablet.TiltChanged{X: -30, Y: 0},
		tablet.Down{Serial: 2},
		tablet.ButtonChanged{Serial: 3, Code: BtnStylus, State: tablet.Pressed},
		tablet.Frame{},
	}, c.updates())

	c.out = nil
	feed(EvKey, BtnToolPen, 0)
	feed(EvSyn, SynReport, 0)
	assert.Equal(t, []tablet.Update{tablet.ProximityOut{}, tablet.Frame{}}, c.updates())

	c.out = nil
	tr.Close(c.emit)
	assert.Equal(t, []tablet.Notification{tablet.ToolUpdate{Tool: 1, Update: tablet.Removed{}}}, c.out)
}

func TestTranslatorEraserGetsOwnTool(t *testing.T) {
	ids := &IDAllocator{}
	tr := NewTranslator(testGeometry(), ids)
	c := &collector{}
	tr.Translate(InputEvent{Type: EvKey, Code: BtnToolPen, Value: 1}, c.emit)
	tr.Translate(InputEvent{Type: EvSyn, Code: SynReport}, c.emit)
	tr.Translate(InputEvent{Type: EvKey, Code: BtnToolPen, Value: 0}, c.emit)
	tr.Translate(InputEvent{Type: EvKey, Code: BtnToolRubber, Value: 1}, c.emit)
	tr.Translate(InputEvent{Type: EvSyn, Code: SynReport}, c.emit)

	assert.Equal(t, []tablet.ToolID{1, 2}, tr.Tools())
	assert.Contains(t, c.out, tablet.ToolUpdate{Tool: 2, Update: tablet.ToolClassified{Type: tablet.ToolTypeEraser}})
	assert.Contains(t, c.out, tablet.ToolUpdate{Tool: 1, Update: tablet.ProximityOut{}})

	// A second device shares the allocator.
	other := NewTranslator(testGeometry(), ids)
	other.Translate(InputEvent{Type: EvKey, Code: BtnToolPen, Value: 1}, c.emit)
	other.Translate(InputEvent{Type: EvSyn, Code: SynReport}, c.emit)
	assert.Equal(t, []tablet.ToolID{3}, other.Tools())
}

func TestTranslatorSynDropped(t *testing.T) {
	tr := NewTranslator(testGeometry(), nil)
	c := &collector{}
	tr.Translate(InputEvent{Type: EvKey, Code: BtnToolPen, Value: 1}, c.emit)
	tr.Translate(InputEvent{Type: EvSyn, Code: SynDropped}, c.emit)
	tr.Translate(InputEvent{Type: EvSyn, Code: SynReport}, c.emit)
	assert.Empty(t, c.out)

	// Everything up to and including the next report is discarded.
	tr.Translate(InputEvent{Type: EvSyn, Code: SynDropped}, c.emit)
	tr.Translate(InputEvent{Type: EvAbs, Code: AbsX, Value: 500}, c.emit)
	tr.Translate(InputEvent{Type: EvKey, Code: BtnToolPen, Value: 1}, c.emit)
	tr.Translate(InputEvent{Type: EvSyn, Code: SynReport}, c.emit)
	assert.Empty(t, c.out)
	assert.Empty(t, tr.Tools())

	tr.Translate(InputEvent{Type: EvAbs, Code: AbsY, Value: 250}, c.emit)
	tr.Translate(InputEvent{Type: EvKey, Code: BtnToolPen, Value: 1}, c.emit)
	tr.Translate(InputEvent{Type: EvSyn, Code: SynReport}, c.emit)
	assert.Contains(t, c.updates(), tablet.Update(tablet.Motion{X: 0, Y: 25}))
}

func TestRemoveToolsLogsFailedSubmit(t *testing.T) {
	tr := NewTranslator(testGeometry(), nil)
	tr.Translate(InputEvent{Type: EvKey, Code: BtnToolPen, Value: 1}, func(tablet.Notification) {})
	tr.Translate(InputEvent{Type: EvSyn, Code: SynReport}, func(tablet.Notification) {})

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	var attempts int
	removeTools(tr, func(tablet.Notification) error {
		attempts++
		return errors.New("session closed")
	}, logger)

	assert.Equal(t, 1, attempts)
	assert.Contains(t, buf.String(), "tool removal not delivered")
	assert.Contains(t, buf.String(), "session closed")
	assert.Empty(t, tr.Tools())
}

func TestTranslatorFeedsSeat(t *testing.T) {
	windows := staticWindows{surface: 4, window: 40, scale: 2}
	var events []tablet.Event
	seat := tablet.NewSeat(tablet.SeatOptions{
		Windows: windows,
		Sink:    tablet.EventSinkFunc(func(ev tablet.Event) { events = append(events, ev) }),
	})
	tr := NewTranslator(testGeometry(), nil)
	handle := func(n tablet.Notification) { require.NoError(t, seat.Handle(n)) }

	tr.Translate(InputEvent{Type: EvAbs, Code: AbsX, Value: 1000}, handle)
	tr.Translate(InputEvent{Type: EvAbs, Code: AbsY, Value: 1000}, handle)
	tr.Translate(InputEvent{Type: EvKey, Code: BtnToolPen, Value: 1}, handle)
	tr.Translate(InputEvent{Type: EvSyn, Code: SynReport}, handle)

	require.Len(t, events, 2)
	assert.Equal(t, tablet.PhysicalPosition{X: 400, Y: 200}, events[1].Location())
	assert.Equal(t, 1.0, events[1].(tablet.PointerMoved).Source.Force)

	tr.Close(handle)
	assert.Equal(t, 0, seat.Registry().Len())
}

type staticWindows struct {
	surface tablet.SurfaceID
	window  tablet.WindowID
	scale   float64
}

func (s staticWindows) WindowFor(id tablet.SurfaceID) (tablet.WindowID, bool) {
	return s.window, id == s.surface
}

func (s staticWindows) ScaleFactor(id tablet.WindowID) (float64, bool) {
	return s.scale, id == s.window
}

const devicesFixture = `I: Bus=0003 Vendor=056a Product=0357 Version=0110
N: Name="Wacom Intuos Pro M Pen"
P: Phys=usb-0000:00:14.0-1/input0
H: Handlers=mouse2 event14
B: PROP=1
B: EV=1b
B: KEY=1c03 0 0 0 0 0
B: ABS=1000d000003
B: MSC=11

I: Bus=0011 Vendor=0001 Product=0001 Version=ab41
N: Name="AT Translated Set 2 keyboard"
P: Phys=isa0060/serio0/input0
H: Handlers=sysrq kbd event3 leds
B: EV=120013
B: KEY=402000000 3803078f800d001 feffffdfffefffff fffffffffffffffe
`

func TestParseDevices(t *testing.T) {
	devices, err := ParseDevices(strings.NewReader(devicesFixture))
	require.NoError(t, err)
	require.Len(t, devices, 2)

	pen := devices[0]
	assert.Equal(t, "Wacom Intuos Pro M Pen", pen.Name)
	assert.Equal(t, "/dev/input/event14", pen.Path())
	assert.True(t, pen.HasKey(BtnToolPen))
	assert.True(t, pen.HasKey(BtnToolRubber))
	assert.True(t, pen.HasKey(BtnTouch))
	assert.True(t, pen.IsPenTablet())

	kbd := devices[1]
	assert.Equal(t, "/dev/input/event3", kbd.Path())
	assert.False(t, kbd.IsPenTablet())
}
