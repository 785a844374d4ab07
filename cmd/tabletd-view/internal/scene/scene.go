// Package scene keeps the per-device pointer state the viewer draws.
package scene

import (
	"cmp"
	"slices"
	"sync"

	"tabletd/internal/tablet"
)

// TrailLength is how many past positions each pointer keeps.
const TrailLength = 64

// Pointer is the last known state of one device.
type Pointer struct {
	Device   tablet.DeviceID
	Window   tablet.WindowID
	Position tablet.PhysicalPosition
	Force    float64
	Tool     tablet.ToolKind
	Primary  bool
	// Present is false after the pointer left; the last position stays.
	Present bool
	Trail   []tablet.PhysicalPosition
}

// Scene collects pointer events. It implements tablet.EventSink and is
// safe for concurrent use: events arrive from a replay or socket goroutine
// while frames are drawn on the window goroutine.
type Scene struct {
	mu       sync.Mutex
	pointers map[tablet.DeviceID]*Pointer
	events   int
	onChange func()
}

// New creates an empty scene. onChange, if set, runs after every event.
func New(onChange func()) *Scene {
	return &Scene{
		pointers: make(map[tablet.DeviceID]*Pointer),
		onChange: onChange,
	}
}

// PushEvent applies one pointer event.
func (s *Scene) PushEvent(ev tablet.Event) {
	s.mu.Lock()
	p, ok := s.pointers[ev.Device()]
	if !ok {
		p = &Pointer{Device: ev.Device(), Force: 1}
		s.pointers[ev.Device()] = p
	}
	p.Window = ev.Window()
	p.Position = ev.Location()

	switch e := ev.(type) {
	case tablet.PointerEntered:
		p.Present, p.Primary, p.Tool = true, e.Primary, e.Tool
		p.Trail = p.Trail[:0]
	case tablet.PointerMoved:
		p.Present, p.Primary = true, e.Primary
		p.Force, p.Tool = e.Source.Force, e.Source.Type
	case tablet.PointerLeft:
		p.Present, p.Tool = false, e.Tool
	}
	if len(p.Trail) == TrailLength {
		p.Trail = slices.Delete(p.Trail, 0, 1)
	}
	p.Trail = append(p.Trail, p.Position)
	s.events++
	cb := s.onChange
	s.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// Pointers returns copies of every pointer ordered by device.
func (s *Scene) Pointers() []Pointer {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Pointer, 0, len(s.pointers))
	for _, p := range s.pointers {
		cp := *p
		cp.Trail = slices.Clone(p.Trail)
		out = append(out, cp)
	}
	slices.SortFunc(out, func(a, b Pointer) int { return cmp.Compare(a.Device, b.Device) })
	return out
}

// Events returns how many events were applied.
func (s *Scene) Events() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

// Reset forgets every pointer.
func (s *Scene) Reset() {
	s.mu.Lock()
	clear(s.pointers)
	s.events = 0
	s.mu.Unlock()
}

// Radius returns the circle radius for p: base when untouched, growing
// linearly with force up to base+span.
func Radius(p Pointer, base, span float64) float64 {
	f := min(max(p.Force, 0), 1)
	return base + f*span
}
