package bus

import (
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabletd/internal/tablet"
)

func TestSignalForEntered(t *testing.T) {
	sig := SignalFor(tablet.PointerEntered{
		DeviceID: 2,
		WindowID: 100,
		Position: tablet.PhysicalPosition{X: 10, Y: 20},
		Tool:     tablet.ToolKindEraser,
	})
	assert.Equal(t, MemberEntered, sig.Member)
	assert.Equal(t, []any{int64(2), uint64(100), 10.0, 20.0, false, "eraser"}, sig.Args)
}

func TestSignalForMoved(t *testing.T) {
	twist := 90.0
	sig := SignalFor(tablet.PointerMoved{
		DeviceID: 0,
		WindowID: 1,
		Position: tablet.PhysicalPosition{X: 1, Y: 2},
		Source: tablet.ToolState{
			Force: 0.5,
			Twist: &twist,
			Tilt:  &tablet.Tilt{X: 5, Y: -5},
			Type:  tablet.ToolKindPen,
		},
	})
	require.Equal(t, MemberMoved, sig.Member)
	require.Len(t, sig.Args, 8)
	assert.Equal(t, 0.5, sig.Args[6])

	extras, ok := sig.Args[7].(map[string]dbus.Variant)
	require.True(t, ok)
	assert.Equal(t, 5.0, extras["tilt_x"].Value())
	assert.Equal(t, -5.0, extras["tilt_y"].Value())
	assert.Equal(t, 90.0, extras["twist"].Value())

	plain := SignalFor(tablet.PointerMoved{Source: tablet.ToolState{Force: 1}})
	assert.Empty(t, plain.Args[7])
}

func TestSignalForLeft(t *testing.T) {
	sig := SignalFor(tablet.PointerLeft{DeviceID: 1, WindowID: 5, Tool: tablet.ToolKindPen})
	assert.Equal(t, MemberLeft, sig.Member)
	assert.Equal(t, "pen", sig.Args[5])
}

type fakeConn struct {
	emitted []string
	fail    bool
	closed  bool
}

func (c *fakeConn) Emit(path dbus.ObjectPath, name string, values ...any) error {
	if c.fail {
		return errors.New("bus gone")
	}
	c.emitted = append(c.emitted, string(path)+" "+name)
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func TestPublisherEmits(t *testing.T) {
	conn := &fakeConn{}
	p := NewPublisher(conn, DefaultName, DefaultPath, nil)

	var sink tablet.EventSink = p
	sink.PushEvent(tablet.PointerEntered{})
	sink.PushEvent(tablet.PointerMoved{})
	sink.PushEvent(tablet.PointerLeft{})

	assert.Equal(t, []string{
		"/org/tabletd/Pointer org.tabletd.Pointer.Entered",
		"/org/tabletd/Pointer org.tabletd.Pointer.Moved",
		"/org/tabletd/Pointer org.tabletd.Pointer.Left",
	}, conn.emitted)
	assert.Equal(t, uint64(3), p.Emitted())

	conn.fail = true
	sink.PushEvent(tablet.PointerLeft{})
	assert.Equal(t, uint64(1), p.Failed())

	require.NoError(t, p.Close())
	assert.True(t, conn.closed)
}
