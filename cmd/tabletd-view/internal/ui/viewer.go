package ui

import (
	"fmt"
	"image"
	"image/color"

	"gioui.org/layout"
	"gioui.org/op/clip"
	"gioui.org/op/paint"
	"gioui.org/unit"
	"gioui.org/widget"
	"gioui.org/widget/material"

	"tabletd/cmd/tabletd-view/internal/scene"
	"tabletd/cmd/tabletd-view/internal/theme"
)

// Viewer draws a scene: a sidebar listing devices and a canvas with one
// circle per pointer.
type Viewer struct {
	theme  *theme.Theme
	scene  *scene.Scene
	source string

	devices widget.List
}

// NewViewer creates a viewer. source labels where events come from.
func NewViewer(t *theme.Theme, s *scene.Scene, source string) *Viewer {
	return &Viewer{
		theme:  t,
		scene:  s,
		source: source,
		devices: widget.List{
			List: layout.List{Axis: layout.Vertical},
		},
	}
}

// Layout renders the viewer.
func (v *Viewer) Layout(gtx layout.Context) layout.Dimensions {
	paint.Fill(gtx.Ops, v.theme.Palette.Background)
	pointers := v.scene.Pointers()

	return layout.Flex{Axis: layout.Horizontal}.Layout(gtx,
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			w := gtx.Dp(v.theme.Config.SidebarWidth)
			gtx.Constraints.Min.X, gtx.Constraints.Max.X = w, w
			return v.layoutSidebar(gtx, pointers)
		}),
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			size := image.Pt(gtx.Dp(1), gtx.Constraints.Max.Y)
			paint.FillShape(gtx.Ops, v.theme.Palette.Border, clip.Rect{Max: size}.Op())
			return layout.Dimensions{Size: size}
		}),
		layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
			return v.layoutCanvas(gtx, pointers)
		}),
	)
}

func (v *Viewer) layoutSidebar(gtx layout.Context, pointers []scene.Pointer) layout.Dimensions {
	th := v.theme
	return layout.UniformInset(th.Config.Padding).Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				title := material.H6(th.Theme, "TABLETD")
				title.Color = th.Palette.Pen
				title.TextSize = th.Config.FontTitle
				return title.Layout(gtx)
			}),
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				l := material.Caption(th.Theme, fmt.Sprintf("%s, %d events", v.source, v.scene.Events()))
				l.Color = th.Palette.TextMuted
				return l.Layout(gtx)
			}),
			layout.Rigid(layout.Spacer{Height: unit.Dp(24)}.Layout),
			layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
				return material.List(th.Theme, &v.devices).Layout(gtx, len(pointers), func(gtx layout.Context, i int) layout.Dimensions {
					return v.layoutDevice(gtx, pointers[i])
				})
			}),
		)
	})
}

func (v *Viewer) layoutDevice(gtx layout.Context, p scene.Pointer) layout.Dimensions {
	th := v.theme
	state := "left"
	if p.Present {
		state = fmt.Sprintf("force %.2f", p.Force)
	}
	text := fmt.Sprintf("device %d  %s\nwindow %d  (%.1f, %.1f)\n%s", p.Device, p.Tool, p.Window, p.Position.X, p.Position.Y, state)
	return layout.Inset{Bottom: unit.Dp(12)}.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		l := material.Body2(th.Theme, text)
		l.Color = th.ToolColor(p.Tool, true)
		if !p.Present {
			l.Color = th.Palette.TextMuted
		}
		return l.Layout(gtx)
	})
}

// layoutCanvas draws pointers at their physical window coordinates.
func (v *Viewer) layoutCanvas(gtx layout.Context, pointers []scene.Pointer) layout.Dimensions {
	th := v.theme
	size := gtx.Constraints.Max
	defer clip.Rect{Max: size}.Push(gtx.Ops).Pop()
	paint.Fill(gtx.Ops, th.Palette.Surface)

	if len(pointers) == 0 {
		layout.Center.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
			l := material.Body1(th.Theme, "waiting for pointer events")
			l.Color = th.Palette.TextMuted
			return l.Layout(gtx)
		})
		return layout.Dimensions{Size: size}
	}

	trail := float64(gtx.Dp(th.Config.TrailRadius))
	base := float64(gtx.Dp(th.Config.PointerBase))
	span := float64(gtx.Dp(th.Config.PointerSpan))
	for _, p := range pointers {
		for _, pos := range p.Trail {
			fillCircle(gtx, pos.X, pos.Y, trail, th.Palette.Trail)
		}
		fillCircle(gtx, p.Position.X, p.Position.Y, scene.Radius(p, base, span), th.ToolColor(p.Tool, p.Present))
	}
	return layout.Dimensions{Size: size}
}

func fillCircle(gtx layout.Context, x, y, r float64, c color.NRGBA) {
	rect := image.Rect(int(x-r), int(y-r), int(x+r+0.5), int(y+r+0.5))
	paint.FillShape(gtx.Ops, c, clip.Ellipse(rect).Op(gtx.Ops))
}
