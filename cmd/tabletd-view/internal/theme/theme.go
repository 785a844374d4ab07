package theme

import (
	"image/color"
	"runtime"

	"gioui.org/unit"
	"gioui.org/widget/material"

	"tabletd/internal/tablet"
)

// Palette defines the viewer colors.
type Palette struct {
	Background color.NRGBA
	Surface    color.NRGBA
	Text       color.NRGBA
	TextMuted  color.NRGBA
	Border     color.NRGBA
	Trail      color.NRGBA

	// Tools colors pointers by tool kind; Other covers the rest.
	Pen    color.NRGBA
	Eraser color.NRGBA
	Other  color.NRGBA
}

// Config defines sizes.
type Config struct {
	Padding      unit.Dp
	SidebarWidth unit.Dp
	// PointerBase and PointerSpan size the pointer circle: base radius at
	// zero force, base+span at full force.
	PointerBase unit.Dp
	PointerSpan unit.Dp
	TrailRadius unit.Dp
	FontTitle   unit.Sp
}

// Theme wraps the material theme with viewer styling.
type Theme struct {
	*material.Theme
	Palette Palette
	Config  Config
}

// NewTheme creates a theme for the current OS.
func NewTheme(mtheme *material.Theme) *Theme {
	t := &Theme{Theme: mtheme}
	t.Palette = Palette{
		Background: color.NRGBA{R: 0x20, G: 0x20, B: 0x20, A: 0xFF},
		Surface:    color.NRGBA{R: 0x2C, G: 0x2C, B: 0x2C, A: 0xFF},
		Text:       color.NRGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF},
		TextMuted:  color.NRGBA{R: 0xA0, G: 0xA0, B: 0xA0, A: 0xFF},
		Border:     color.NRGBA{R: 0x40, G: 0x40, B: 0x40, A: 0xFF},
		Trail:      color.NRGBA{R: 0x80, G: 0x80, B: 0x80, A: 0x80},
		Pen:        color.NRGBA{R: 0x00, G: 0x78, B: 0xD4, A: 0xFF},
		Eraser:     color.NRGBA{R: 0xE8, G: 0x11, B: 0x23, A: 0xFF},
		Other:      color.NRGBA{R: 0xFF, G: 0xB9, B: 0x00, A: 0xFF},
	}
	t.Config = Config{
		Padding:      unit.Dp(16),
		SidebarWidth: unit.Dp(240),
		PointerBase:  unit.Dp(4),
		PointerSpan:  unit.Dp(20),
		TrailRadius:  unit.Dp(1.5),
		FontTitle:    unit.Sp(20),
	}
	if runtime.GOOS == "darwin" {
		t.Palette.Pen = color.NRGBA{R: 0x0A, G: 0x84, B: 0xFF, A: 0xFF}
		t.Config.Padding = unit.Dp(20)
	}
	return t
}

// ToolColor picks the pointer color for a tool kind. Pointers that left
// are drawn at a quarter opacity.
func (t *Theme) ToolColor(kind tablet.ToolKind, present bool) color.NRGBA {
	c := t.Palette.Other
	switch kind {
	case tablet.ToolKindPen:
		c = t.Palette.Pen
	case tablet.ToolKindEraser:
		c = t.Palette.Eraser
	}
	if !present {
		c.A /= 4
	}
	return c
}
