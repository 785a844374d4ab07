// Package evdev turns Linux evdev tablet streams into tablet notifications.
package evdev

// Event types.
const (
	EvSyn = 0x00
	EvKey = 0x01
	EvAbs = 0x03
	EvMsc = 0x04
)

// Synchronization codes.
const (
	SynReport  = 0x00
	SynDropped = 0x03
)

// Tool and button key codes.
const (
	BtnToolPen      = 0x140
	BtnToolRubber   = 0x141
	BtnToolBrush    = 0x142
	BtnToolPencil   = 0x143
	BtnToolAirbrush = 0x144
	BtnToolFinger   = 0x145
	BtnToolMouse    = 0x146
	BtnToolLens     = 0x147
	BtnStylus3      = 0x149
	BtnTouch        = 0x14a
	BtnStylus       = 0x14b
	BtnStylus2      = 0x14c
)

// Absolute axes.
const (
	AbsX        = 0x00
	AbsY        = 0x01
	AbsZ        = 0x02
	AbsPressure = 0x18
	AbsDistance = 0x19
	AbsTiltX    = 0x1a
	AbsTiltY    = 0x1b
)

// MscSerial carries the tool's hardware serial on Wacom devices.
const MscSerial = 0x00
