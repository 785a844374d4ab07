package tablet

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrUnknownTool is returned when an update addresses a tool that was
	// never announced or has already been removed. It indicates an
	// ordering bug upstream of the seat.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrDuplicateTool is returned when a live tool is announced again.
	ErrDuplicateTool = errors.New("tool already registered")

	// ErrUnresolvedSurface marks a frame whose surface has no live window.
	// It never leaves the package: such frames are dropped silently.
	ErrUnresolvedSurface = errors.New("surface has no window")
)

// Registry maps tool handles to their records. It is not safe for
// concurrent use; the owning Seat serializes all access.
type Registry struct {
	tools  map[ToolID]*ToolRecord
	nextID DeviceID
}

// NewRegistry creates an empty registry. The first registered tool gets
// device id 0.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[ToolID]*ToolRecord)}
}

// Register creates a record for a newly announced tool.
func (r *Registry) Register(id ToolID) (DeviceID, error) {
	if _, ok := r.tools[id]; ok {
		return 0, fmt.Errorf("register tool %d: %w", id, ErrDuplicateTool)
	}
	deviceID := r.nextID
	r.nextID++
	r.tools[id] = newToolRecord(id, deviceID)
	return deviceID, nil
}

// Lookup returns the record for a live tool.
func (r *Registry) Lookup(id ToolID) (*ToolRecord, error) {
	rec, ok := r.tools[id]
	if !ok {
		return nil, fmt.Errorf("tool %d: %w", id, ErrUnknownTool)
	}
	return rec, nil
}

// Unregister removes a tool. Its device id is not handed out again.
func (r *Registry) Unregister(id ToolID) error {
	if _, ok := r.tools[id]; !ok {
		return fmt.Errorf("unregister tool %d: %w", id, ErrUnknownTool)
	}
	delete(r.tools, id)
	return nil
}

// Len returns the number of live tools.
func (r *Registry) Len() int {
	return len(r.tools)
}

// Tools returns a snapshot of every live tool ordered by device id.
func (r *Registry) Tools() []ToolInfo {
	infos := make([]ToolInfo, 0, len(r.tools))
	for _, rec := range r.tools {
		infos = append(infos, rec.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Device < infos[j].Device
	})
	return infos
}
