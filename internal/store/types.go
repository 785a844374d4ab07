// Package store keeps a SQLite journal of pointer events and tools.
package store

import "tabletd/internal/tablet"

// EventRecord is one journaled pointer event.
type EventRecord struct {
	ID          int64            `json:"id"`
	TimestampNs int64            `json:"timestamp_ns"`
	Kind        tablet.EventKind `json:"kind"`
	Device      tablet.DeviceID  `json:"device"`
	Window      tablet.WindowID  `json:"window"`
	X           float64          `json:"x"`
	Y           float64          `json:"y"`
	Primary     bool             `json:"primary"`
	Tool        tablet.ToolKind  `json:"tool"`

	// Set on moved events only.
	Force *float64 `json:"force,omitempty"`
	Twist *float64 `json:"twist,omitempty"`
	TiltX *float64 `json:"tilt_x,omitempty"`
	TiltY *float64 `json:"tilt_y,omitempty"`
}

// ToolRecord is one journaled tool.
type ToolRecord struct {
	Device         tablet.DeviceID `json:"device"`
	Tool           tablet.ToolID   `json:"tool"`
	Type           string          `json:"type"`
	Kind           tablet.ToolKind `json:"kind"`
	HardwareSerial uint64          `json:"hardware_serial,omitempty"`
	HardwareID     uint64          `json:"hardware_id,omitempty"`
	Capabilities   []string        `json:"capabilities,omitempty"`
	AddedNs        int64           `json:"added_ns"`
	RemovedNs      *int64          `json:"removed_ns,omitempty"`
}

// Query selects journaled events. Zero fields do not filter.
type Query struct {
	Kind    tablet.EventKind
	Device  *tablet.DeviceID
	Window  *tablet.WindowID
	SinceNs int64
	UntilNs int64
	// Limit caps the result; the newest events are returned in ascending
	// order.
	Limit int
}
