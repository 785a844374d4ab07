// Package window keeps the surface to window table the tablet seat
// resolves frames against.
package window

import (
	"errors"
	"fmt"
	"sync"

	"tabletd/internal/tablet"
)

// ErrInvalidScale is returned for scale factors that are not positive.
var ErrInvalidScale = errors.New("scale factor must be positive")

// Info describes one mapped window.
type Info struct {
	Window   tablet.WindowID    `json:"window"`
	Scale    float64            `json:"scale"`
	Surfaces []tablet.SurfaceID `json:"surfaces"`
}

// Registry implements tablet.WindowRegistry. It is safe for concurrent
// use: the window side may change scale factors while the seat resolves
// frames.
type Registry struct {
	mu       sync.RWMutex
	surfaces map[tablet.SurfaceID]tablet.WindowID
	scales   map[tablet.WindowID]float64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		surfaces: make(map[tablet.SurfaceID]tablet.WindowID),
		scales:   make(map[tablet.WindowID]float64),
	}
}

// Map binds a surface to a window and sets the window's scale factor.
func (r *Registry) Map(surface tablet.SurfaceID, window tablet.WindowID, scale float64) error {
	if scale <= 0 {
		return fmt.Errorf("map surface %d: %w", surface, ErrInvalidScale)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.surfaces[surface] = window
	r.scales[window] = scale
	return nil
}

// SetScale updates the scale factor of a known window.
func (r *Registry) SetScale(window tablet.WindowID, scale float64) error {
	if scale <= 0 {
		return fmt.Errorf("window %d: %w", window, ErrInvalidScale)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.scales[window]; !ok {
		return fmt.Errorf("window %d is not mapped", window)
	}
	r.scales[window] = scale
	return nil
}

// Unmap forgets a surface. The window stays known.
func (r *Registry) Unmap(surface tablet.SurfaceID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.surfaces, surface)
}

// Remove tears a window down together with every surface bound to it.
func (r *Registry) Remove(window tablet.WindowID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.scales, window)
	for s, w := range r.surfaces {
		if w == window {
			delete(r.surfaces, s)
		}
	}
}

// WindowFor resolves a surface.
func (r *Registry) WindowFor(surface tablet.SurfaceID) (tablet.WindowID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.surfaces[surface]
	return w, ok
}

// ScaleFactor returns the scale factor of a live window.
func (r *Registry) ScaleFactor(window tablet.WindowID) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scales[window]
	return s, ok
}

// Windows lists every known window with its surfaces.
func (r *Registry) Windows() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byWindow := make(map[tablet.WindowID]*Info, len(r.scales))
	out := make([]Info, 0, len(r.scales))
	for w, scale := range r.scales {
		byWindow[w] = &Info{Window: w, Scale: scale}
	}
	for s, w := range r.surfaces {
		if info, ok := byWindow[w]; ok {
			info.Surfaces = append(info.Surfaces, s)
		}
	}
	for _, info := range byWindow {
		out = append(out, *info)
	}
	return out
}
