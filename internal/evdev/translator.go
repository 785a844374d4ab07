package evdev

import (
	"sync/atomic"

	"tabletd/internal/tablet"
)

// AxisRange is the value range the kernel reports for one axis.
type AxisRange struct {
	Min int32
	Max int32
}

// normalize maps v onto 0..1, clamping out-of-range values.
func (r AxisRange) normalize(v int32) float64 {
	if r.Max <= r.Min {
		return 0
	}
	if v < r.Min {
		v = r.Min
	}
	if v > r.Max {
		v = r.Max
	}
	return float64(v-r.Min) / float64(r.Max-r.Min)
}

// Geometry describes how device axes map onto the logical surface.
type Geometry struct {
	Surface tablet.SurfaceID
	Width   float64
	Height  float64

	// Axes holds the kernel ranges by ABS code. Missing axes fall back to
	// DefaultAxes.
	Axes map[uint16]AxisRange
}

// DefaultAxes are used for axes the device did not describe.
var DefaultAxes = map[uint16]AxisRange{
	AbsX:        {Min: 0, Max: 1},
	AbsY:        {Min: 0, Max: 1},
	AbsZ:        {Min: -900, Max: 899},
	AbsPressure: {Min: 0, Max: 4095},
}

func (g Geometry) axis(code uint16) AxisRange {
	if r, ok := g.Axes[code]; ok {
		return r
	}
	return DefaultAxes[code]
}

// IDAllocator hands out tool handles. Share one across devices so handles
// stay unique per seat.
type IDAllocator struct {
	next atomic.Uint32
}

// Next returns a fresh tool handle, starting at 1.
func (a *IDAllocator) Next() tablet.ToolID {
	return tablet.ToolID(a.next.Add(1))
}

// report collects one SYN_REPORT worth of input.
type report struct {
	toolsIn  []tablet.ToolType
	toolsOut []tablet.ToolType
	// keyed updates keep arrival order
	keys     []tablet.Update
	motion   bool
	pressure *uint32
	tiltX    *float64
	tiltY    *float64
	rotation *float64
	distance *uint32
	serial   *uint64
}

// Translator converts the raw events of one tablet device into tablet
// notifications. Axis values are coalesced per report; a Frame follows
// every report that touched a tool. A Translator is not safe for
// concurrent use.
type Translator struct {
	geo   Geometry
	ids   *IDAllocator
	tools map[tablet.ToolType]tablet.ToolID
	order []tablet.ToolID

	active    tablet.ToolID
	hasActive bool
	x, y      float64
	tilt      tablet.TiltChanged
	serial    uint32
	pending   report
	// dropping discards input until the SYN_REPORT that ends a
	// SYN_DROPPED gap.
	dropping bool
}

// NewTranslator creates a translator. ids may be nil for a private
// allocator.
func NewTranslator(geo Geometry, ids *IDAllocator) *Translator {
	if ids == nil {
		ids = &IDAllocator{}
	}
	return &Translator{
		geo:   geo,
		ids:   ids,
		tools: make(map[tablet.ToolType]tablet.ToolID),
	}
}

// Translate consumes one input event. Notifications are passed to emit
// when a report completes.
func (t *Translator) Translate(ev InputEvent, emit func(tablet.Notification)) {
	if t.dropping {
		if ev.Type == EvSyn && ev.Code == SynReport {
			t.dropping = false
		}
		return
	}
	switch ev.Type {
	case EvKey:
		t.key(ev.Code, ev.Value)
	case EvAbs:
		t.abs(ev.Code, ev.Value)
	case EvMsc:
		if ev.Code == MscSerial {
			s := uint64(uint32(ev.Value))
			t.pending.serial = &s
		}
	case EvSyn:
		switch ev.Code {
		case SynReport:
			var ms uint32
			if !ev.Time.IsZero() {
				ms = uint32(ev.Time.UnixMilli())
			}
			t.flush(ms, emit)
		case SynDropped:
			// The kernel lost events; everything up to the next report
			// is unusable.
			t.pending = report{}
			t.dropping = true
		}
	}
}

func (t *Translator) key(code uint16, value int32) {
	if code >= BtnToolPen && code <= BtnToolLens {
		typ := tablet.ToolType(code - BtnToolPen)
		if value != 0 {
			t.pending.toolsIn = append(t.pending.toolsIn, typ)
		} else {
			t.pending.toolsOut = append(t.pending.toolsOut, typ)
		}
		return
	}

	// Auto-repeat (value 2) carries no transition.
	if value == 2 {
		return
	}
	state := tablet.Released
	if value != 0 {
		state = tablet.Pressed
	}
	switch code {
	case BtnTouch:
		t.serial++
		if state == tablet.Pressed {
			t.pending.keys = append(t.pending.keys, tablet.Down{Serial: t.serial})
		} else {
			t.pending.keys = append(t.pending.keys, tablet.Up{})
		}
	case BtnStylus, BtnStylus2, BtnStylus3:
		t.serial++
		t.pending.keys = append(t.pending.keys, tablet.ButtonChanged{
			Serial: t.serial,
			Code:   uint32(code),
			State:  state,
		})
	}
}

func (t *Translator) abs(code uint16, value int32) {
	switch code {
	case AbsX:
		t.x = t.geo.axis(AbsX).normalize(value) * t.geo.Width
		t.pending.motion = true
	case AbsY:
		t.y = t.geo.axis(AbsY).normalize(value) * t.geo.Height
		t.pending.motion = true
	case AbsPressure:
		p := uint32(t.geo.axis(AbsPressure).normalize(value)*65535 + 0.5)
		t.pending.pressure = &p
	case AbsTiltX:
		deg := float64(value)
		t.pending.tiltX = &deg
	case AbsTiltY:
		deg := float64(value)
		t.pending.tiltY = &deg
	case AbsZ:
		deg := t.geo.axis(AbsZ).normalize(value) * 360
		t.pending.rotation = &deg
	case AbsDistance:
		d := uint32(max(value, 0))
		t.pending.distance = &d
	}
}

func (t *Translator) flush(ms uint32, emit func(tablet.Notification)) {
	r := t.pending
	t.pending = report{}

	var touched []tablet.ToolID
	touch := func(id tablet.ToolID) {
		for _, seen := range touched {
			if seen == id {
				return
			}
		}
		touched = append(touched, id)
	}
	send := func(id tablet.ToolID, u tablet.Update) {
		emit(tablet.ToolUpdate{Tool: id, Update: u})
		touch(id)
	}

	for _, typ := range r.toolsIn {
		id := t.announce(typ, emit)
		t.serial++
		send(id, tablet.ProximityIn{Serial: t.serial, Surface: t.geo.Surface})
		t.active, t.hasActive = id, true
	}

	if t.hasActive {
		id := t.active
		if r.serial != nil {
			send(id, tablet.HardwareSerial{Serial: *r.serial})
		}
		if r.motion {
			send(id, tablet.Motion{X: t.x, Y: t.y})
		}
		if r.pressure != nil {
			send(id, tablet.Pressure{Value: *r.pressure})
		}
		if r.tiltX != nil || r.tiltY != nil {
			if r.tiltX != nil {
				t.tilt.X = *r.tiltX
			}
			if r.tiltY != nil {
				t.tilt.Y = *r.tiltY
			}
			send(id, t.tilt)
		}
		if r.rotation != nil {
			send(id, tablet.Rotation{Degrees: *r.rotation})
		}
		if r.distance != nil {
			send(id, tablet.Distance{Value: *r.distance})
		}
		for _, u := range r.keys {
			send(id, u)
		}
	}

	for _, typ := range r.toolsOut {
		id, ok := t.tools[typ]
		if !ok {
			continue
		}
		send(id, tablet.ProximityOut{})
		if t.hasActive && t.active == id {
			t.hasActive = false
		}
	}

	for _, id := range touched {
		emit(tablet.ToolUpdate{Tool: id, Update: tablet.Frame{Time: ms}})
	}
}

// announce returns the handle for typ, announcing the tool on first use.
func (t *Translator) announce(typ tablet.ToolType, emit func(tablet.Notification)) tablet.ToolID {
	if id, ok := t.tools[typ]; ok {
		return id
	}
	id := t.ids.Next()
	t.tools[typ] = id
	t.order = append(t.order, id)
	emit(tablet.ToolAdded{Tool: id})
	emit(tablet.ToolUpdate{Tool: id, Update: tablet.ToolClassified{Type: typ}})
	for _, c := range capabilitiesOf(t.geo) {
		emit(tablet.ToolUpdate{Tool: id, Update: tablet.CapabilityAdvertised{Capability: c}})
	}
	emit(tablet.ToolUpdate{Tool: id, Update: tablet.Done{}})
	return id
}

func capabilitiesOf(g Geometry) []tablet.Capability {
	var caps []tablet.Capability
	if _, ok := g.Axes[AbsTiltX]; ok {
		caps = append(caps, tablet.CapabilityTilt)
	}
	if _, ok := g.Axes[AbsPressure]; ok {
		caps = append(caps, tablet.CapabilityPressure)
	}
	if _, ok := g.Axes[AbsDistance]; ok {
		caps = append(caps, tablet.CapabilityDistance)
	}
	if _, ok := g.Axes[AbsZ]; ok {
		caps = append(caps, tablet.CapabilityRotation)
	}
	return caps
}

// Close emits Removed for every tool this device announced.
func (t *Translator) Close(emit func(tablet.Notification)) {
	for _, id := range t.order {
		emit(tablet.ToolUpdate{Tool: id, Update: tablet.Removed{}})
	}
	t.tools = make(map[tablet.ToolType]tablet.ToolID)
	t.order = nil
	t.hasActive = false
}

// Tools returns the handles announced so far, in announcement order.
func (t *Translator) Tools() []tablet.ToolID {
	return append([]tablet.ToolID{}, t.order...)
}
