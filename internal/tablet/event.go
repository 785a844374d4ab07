package tablet

// EventKind names the three pointer events.
type EventKind string

const (
	KindEntered EventKind = "entered"
	KindMoved   EventKind = "moved"
	KindLeft    EventKind = "left"
)

// Event is a pointer event produced by a frame.
type Event interface {
	Kind() EventKind
	Device() DeviceID
	Window() WindowID
	Location() PhysicalPosition
	isEvent()
}

// ToolState is the per-move payload of a tool pointer.
type ToolState struct {
	// Force is the normalized pressure, 1.0 when the tool never
	// reported pressure.
	Force float64  `json:"force"`
	Twist *float64 `json:"twist,omitempty"`
	Tilt  *Tilt    `json:"tilt,omitempty"`
	Type  ToolKind `json:"type"`
}

// PointerEntered is emitted when a tool comes into proximity of a window.
type PointerEntered struct {
	DeviceID DeviceID         `json:"device"`
	WindowID WindowID         `json:"window"`
	Position PhysicalPosition `json:"position"`
	Primary  bool             `json:"primary"`
	Tool     ToolKind         `json:"tool"`
}

// PointerMoved is emitted when any continuous tool property changed.
type PointerMoved struct {
	DeviceID DeviceID         `json:"device"`
	WindowID WindowID         `json:"window"`
	Position PhysicalPosition `json:"position"`
	Primary  bool             `json:"primary"`
	Source   ToolState        `json:"source"`
}

// PointerLeft is emitted when a tool leaves proximity.
type PointerLeft struct {
	DeviceID DeviceID         `json:"device"`
	WindowID WindowID         `json:"window"`
	Position PhysicalPosition `json:"position"`
	Primary  bool             `json:"primary"`
	Tool     ToolKind         `json:"tool"`
}

func (PointerEntered) Kind() EventKind { return KindEntered }
func (PointerMoved) Kind() EventKind   { return KindMoved }
func (PointerLeft) Kind() EventKind    { return KindLeft }

func (e PointerEntered) Device() DeviceID { return e.DeviceID }
func (e PointerMoved) Device() DeviceID   { return e.DeviceID }
func (e PointerLeft) Device() DeviceID    { return e.DeviceID }

func (e PointerEntered) Window() WindowID { return e.WindowID }
func (e PointerMoved) Window() WindowID   { return e.WindowID }
func (e PointerLeft) Window() WindowID    { return e.WindowID }

func (e PointerEntered) Location() PhysicalPosition { return e.Position }
func (e PointerMoved) Location() PhysicalPosition   { return e.Position }
func (e PointerLeft) Location() PhysicalPosition    { return e.Position }

func (PointerEntered) isEvent() {}
func (PointerMoved) isEvent()   {}
func (PointerLeft) isEvent()    {}

// EventSink receives the events of every frame in emission order.
type EventSink interface {
	PushEvent(ev Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ev Event)

func (f EventSinkFunc) PushEvent(ev Event) { f(ev) }

// MultiSink fans events out to several sinks in order.
type MultiSink []EventSink

func (m MultiSink) PushEvent(ev Event) {
	for _, s := range m {
		s.PushEvent(ev)
	}
}

// ButtonHandler receives the button transitions collected during a frame
// that produced a resolvable pointer position. Without a handler the
// transitions are discarded when the frame is flushed.
type ButtonHandler interface {
	ToolButtons(device DeviceID, window WindowID, position PhysicalPosition, transitions []ButtonTransition)
}

// WindowRegistry resolves surfaces to windows and their scale factors.
type WindowRegistry interface {
	WindowFor(surface SurfaceID) (WindowID, bool)
	ScaleFactor(window WindowID) (float64, bool)
}
