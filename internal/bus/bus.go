// Package bus publishes pointer events as D-Bus signals.
package bus

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/godbus/dbus/v5"

	"tabletd/internal/tablet"
)

// Defaults for the published object.
const (
	DefaultName = "org.tabletd.Pointer"
	DefaultPath = "/org/tabletd/Pointer"
)

// Signal members.
const (
	MemberEntered = "Entered"
	MemberMoved   = "Moved"
	MemberLeft    = "Left"
)

// ErrNameTaken is returned when another process owns the bus name.
var ErrNameTaken = errors.New("bus name already taken")

// Signal is a signal ready to be emitted.
type Signal struct {
	Member string
	Args   []any
}

// SignalFor maps a pointer event onto its signal.
//
//	Entered(x device, t window, d x, d y, b primary, s tool)
//	Moved(x device, t window, d x, d y, b primary, s tool, d force, a{sv} extras)
//	Left(x device, t window, d x, d y, b primary, s tool)
//
// Moved extras carry "tilt_x", "tilt_y" and "twist" when the tool
// reported them.
func SignalFor(ev tablet.Event) Signal {
	pos := ev.Location()
	head := []any{int64(ev.Device()), uint64(ev.Window()), pos.X, pos.Y}

	switch e := ev.(type) {
	case tablet.PointerEntered:
		return Signal{Member: MemberEntered, Args: append(head, e.Primary, string(e.Tool))}
	case tablet.PointerLeft:
		return Signal{Member: MemberLeft, Args: append(head, e.Primary, string(e.Tool))}
	case tablet.PointerMoved:
		extras := make(map[string]dbus.Variant)
		if e.Source.Tilt != nil {
			extras["tilt_x"] = dbus.MakeVariant(e.Source.Tilt.X)
			extras["tilt_y"] = dbus.MakeVariant(e.Source.Tilt.Y)
		}
		if e.Source.Twist != nil {
			extras["twist"] = dbus.MakeVariant(*e.Source.Twist)
		}
		return Signal{
			Member: MemberMoved,
			Args:   append(head, e.Primary, string(e.Source.Type), e.Source.Force, extras),
		}
	}
	return Signal{}
}

// Conn is the part of a bus connection the publisher needs.
type Conn interface {
	Emit(path dbus.ObjectPath, name string, values ...any) error
	Close() error
}

// Publisher implements tablet.EventSink by emitting signals.
type Publisher struct {
	conn   Conn
	iface  string
	path   dbus.ObjectPath
	logger *slog.Logger

	emitted atomic.Uint64
	failed  atomic.Uint64
}

// Connect claims name on the session bus and returns a publisher for
// path. The interface name equals the bus name.
func Connect(name, path string, logger *slog.Logger) (*Publisher, error) {
	objPath := dbus.ObjectPath(path)
	if !objPath.IsValid() {
		return nil, fmt.Errorf("invalid object path %q", path)
	}

	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect to session bus: %w", err)
	}

	reply, err := conn.RequestName(name, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("%s: %w", name, ErrNameTaken)
	}

	return NewPublisher(conn, name, objPath, logger), nil
}

// NewPublisher wraps an existing connection.
func NewPublisher(conn Conn, iface string, path dbus.ObjectPath, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		iface:  iface,
		path:   path,
		logger: logger.With("component", "bus"),
	}
}

// PushEvent emits the signal for ev. Failures are logged and counted;
// the bus never slows the seat down.
func (p *Publisher) PushEvent(ev tablet.Event) {
	sig := SignalFor(ev)
	if sig.Member == "" {
		return
	}
	if err := p.conn.Emit(p.path, p.iface+"."+sig.Member, sig.Args...); err != nil {
		if p.failed.Add(1) == 1 {
			p.logger.Warn("emit failed", "signal", sig.Member, "error", err)
		}
		return
	}
	p.emitted.Add(1)
}

// Emitted returns the number of signals sent.
func (p *Publisher) Emitted() uint64 { return p.emitted.Load() }

// Failed returns the number of signals that could not be sent.
func (p *Publisher) Failed() uint64 { return p.failed.Load() }

// Close releases the connection.
func (p *Publisher) Close() error {
	return p.conn.Close()
}
