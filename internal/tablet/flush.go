package tablet

import (
	"errors"
	"fmt"
)

var errNoPosition = errors.New("tool has no position")

// FrameResult is the outcome of flushing one tool record.
type FrameResult struct {
	Window   WindowID
	Position PhysicalPosition
	Events   []Event
	Buttons  []ButtonTransition
}

// Flush turns the record's accumulated state into pointer events.
//
// It fails with ErrUnresolvedSurface when the record's surface does not
// resolve to a live window, and with an internal error when no position
// was ever reported. In both cases the record is left untouched so a later
// frame can still deliver the pending changes.
func (r *ToolRecord) Flush(windows WindowRegistry) (FrameResult, error) {
	if r.surface == nil {
		return FrameResult{}, fmt.Errorf("tool %d has no surface: %w", r.id, ErrUnresolvedSurface)
	}
	window, ok := windows.WindowFor(*r.surface)
	if !ok {
		return FrameResult{}, fmt.Errorf("surface %d: %w", *r.surface, ErrUnresolvedSurface)
	}
	scale, ok := windows.ScaleFactor(window)
	if !ok {
		return FrameResult{}, fmt.Errorf("window %d: %w", window, ErrUnresolvedSurface)
	}
	if r.position == nil {
		return FrameResult{}, errNoPosition
	}

	res := FrameResult{
		Window:   window,
		Position: r.position.ToPhysical(scale),
	}
	kind := r.Kind()

	if r.entered {
		r.entered = false
		res.Events = append(res.Events, PointerEntered{
			DeviceID: r.deviceID,
			WindowID: window,
			Position: res.Position,
			Primary:  true,
			Tool:     kind,
		})
	}
	if r.moved {
		r.moved = false
		state := ToolState{Force: r.force(), Type: kind}
		if r.rotation != nil {
			twist := *r.rotation
			state.Twist = &twist
		}
		if r.tilt != nil {
			tilt := *r.tilt
			state.Tilt = &tilt
		}
		res.Events = append(res.Events, PointerMoved{
			DeviceID: r.deviceID,
			WindowID: window,
			Position: res.Position,
			Primary:  true,
			Source:   state,
		})
	}
	if r.left {
		r.left = false
		res.Events = append(res.Events, PointerLeft{
			DeviceID: r.deviceID,
			WindowID: window,
			Position: res.Position,
			Primary:  true,
			Tool:     kind,
		})
		// A proximity-in after the out in the same frame keeps the surface.
		if !r.near {
			r.surface = nil
		}
	}

	if len(r.buttons) > 0 {
		res.Buttons = r.buttons
		r.buttons = nil
	}
	return res, nil
}
