// Package tablet aggregates per-tool stylus updates into pointer events.
//
// A tablet protocol reports tool state one property at a time: motion,
// pressure, tilt, rotation, proximity and buttons each arrive as their own
// update. The protocol then sends a frame marker that closes a logically
// atomic group of updates. This package keeps one ToolRecord per live tool,
// applies updates to it, and turns each frame into at most one entered,
// one moved and one left event, always in that order.
//
// All state is owned by a Seat, which must be driven from a single
// goroutine. See internal/session for the processing loop.
package tablet

import "fmt"

// ToolID is the opaque protocol handle of a tool. It is stable for the
// lifetime of the tool.
type ToolID uint32

// SurfaceID identifies the surface a tool is in proximity of.
type SurfaceID uint32

// WindowID identifies an application window resolved from a surface.
type WindowID uint64

// DeviceID is the small integer the registry hands out to each announced
// tool. Ids are assigned in announcement order and never reused.
type DeviceID int64

// ToolType is the hardware tool type reported by the protocol.
type ToolType int

const (
	ToolTypePen ToolType = iota
	ToolTypeEraser
	ToolTypeBrush
	ToolTypePencil
	ToolTypeAirbrush
	ToolTypeFinger
	ToolTypeMouse
	ToolTypeLens
)

var toolTypeNames = [...]string{"pen", "eraser", "brush", "pencil", "airbrush", "finger", "mouse", "lens"}

// String returns the protocol name of the tool type.
func (t ToolType) String() string {
	if t < 0 || int(t) >= len(toolTypeNames) {
		return fmt.Sprintf("tooltype(%d)", int(t))
	}
	return toolTypeNames[t]
}

// ParseToolType is the inverse of ToolType.String.
func ParseToolType(s string) (ToolType, error) {
	for i, name := range toolTypeNames {
		if name == s {
			return ToolType(i), nil
		}
	}
	return ToolTypePen, fmt.Errorf("unknown tool type: %q", s)
}

// ToolKind is the classification handed to applications.
type ToolKind string

const (
	ToolKindPen    ToolKind = "pen"
	ToolKindEraser ToolKind = "eraser"
)

// Capability is a hardware feature advertised by a tool.
type Capability int

const (
	CapabilityTilt Capability = iota + 1
	CapabilityPressure
	CapabilityDistance
	CapabilityRotation
	CapabilitySlider
	CapabilityWheel
)

var capabilityNames = map[Capability]string{
	CapabilityTilt:     "tilt",
	CapabilityPressure: "pressure",
	CapabilityDistance: "distance",
	CapabilityRotation: "rotation",
	CapabilitySlider:   "slider",
	CapabilityWheel:    "wheel",
}

func (c Capability) String() string {
	if name, ok := capabilityNames[c]; ok {
		return name
	}
	return fmt.Sprintf("capability(%d)", int(c))
}

// ParseCapability is the inverse of Capability.String.
func ParseCapability(s string) (Capability, error) {
	for c, name := range capabilityNames {
		if name == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown capability: %q", s)
}

// LogicalPosition is a device-independent surface coordinate.
type LogicalPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ToPhysical scales the position by a window scale factor.
func (p LogicalPosition) ToPhysical(scale float64) PhysicalPosition {
	return PhysicalPosition{X: p.X * scale, Y: p.Y * scale}
}

// PhysicalPosition is a coordinate in display pixels.
type PhysicalPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Tilt is the pair of tilt angles in degrees.
type Tilt struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ButtonState is the pressed/released state of a button transition.
type ButtonState int

const (
	Released ButtonState = iota
	Pressed
)

func (s ButtonState) String() string {
	if s == Pressed {
		return "pressed"
	}
	return "released"
}

// ButtonKind is the logical identity of a tool button.
type ButtonKind int

const (
	ButtonContact ButtonKind = iota
	Button1
	Button2
	Button3
	ButtonOther
)

// Linux input button codes for the three well-known stylus buttons.
const (
	CodeStylus  = 0x14b // BTN_STYLUS
	CodeStylus2 = 0x14c // BTN_STYLUS2
	CodeStylus3 = 0x149 // BTN_STYLUS3
)

// Button is a logical tool button. Code is only meaningful for
// ButtonOther and holds the raw hardware code.
type Button struct {
	Kind ButtonKind
	Code uint32
}

// ButtonFromCode maps a hardware button code to its logical identity.
func ButtonFromCode(code uint32) Button {
	switch code {
	case CodeStylus:
		return Button{Kind: Button1}
	case CodeStylus2:
		return Button{Kind: Button2}
	case CodeStylus3:
		return Button{Kind: Button3}
	default:
		return Button{Kind: ButtonOther, Code: code}
	}
}

func (b Button) String() string {
	switch b.Kind {
	case ButtonContact:
		return "contact"
	case Button1:
		return "button1"
	case Button2:
		return "button2"
	case Button3:
		return "button3"
	default:
		return fmt.Sprintf("other(%#x)", b.Code)
	}
}

// ButtonTransition is a single press or release collected during a frame.
type ButtonTransition struct {
	Button Button
	State  ButtonState
}
