package tablet

// maxPressure is the top of the protocol pressure range.
const maxPressure = 65535

// ToolRecord accumulates the pending state of one tool between frames.
type ToolRecord struct {
	id       ToolID
	deviceID DeviceID

	surface  *SurfaceID
	position *LogicalPosition
	pressure *uint32
	tilt     *Tilt
	rotation *float64
	toolType *ToolType

	entered bool
	left    bool
	moved   bool
	// near is the direction of the latest proximity transition.
	near bool

	buttons []ButtonTransition

	serial       uint64
	hardwareID   uint64
	capabilities []Capability
	described    bool
}

func newToolRecord(id ToolID, deviceID DeviceID) *ToolRecord {
	return &ToolRecord{id: id, deviceID: deviceID}
}

// ID returns the tool handle.
func (r *ToolRecord) ID() ToolID { return r.id }

// DeviceID returns the device id assigned at registration.
func (r *ToolRecord) DeviceID() DeviceID { return r.deviceID }

// Kind classifies the tool for applications. Anything but an eraser,
// including a tool that never reported its type, is a pen.
func (r *ToolRecord) Kind() ToolKind {
	if r.toolType != nil && *r.toolType == ToolTypeEraser {
		return ToolKindEraser
	}
	return ToolKindPen
}

// Pending reports whether any flag or button transition awaits a frame.
func (r *ToolRecord) Pending() bool {
	return r.entered || r.left || r.moved || len(r.buttons) > 0
}

// Info returns a descriptive snapshot of the record.
func (r *ToolRecord) Info() ToolInfo {
	info := ToolInfo{
		Tool:           r.id,
		Device:         r.deviceID,
		Kind:           r.Kind(),
		HardwareSerial: r.serial,
		HardwareID:     r.hardwareID,
		Described:      r.described,
		InProximity:    r.surface != nil,
	}
	if r.toolType != nil {
		info.Type = r.toolType.String()
	}
	if r.surface != nil {
		s := *r.surface
		info.Surface = &s
	}
	if r.position != nil {
		p := *r.position
		info.Position = &p
	}
	for _, c := range r.capabilities {
		info.Capabilities = append(info.Capabilities, c.String())
	}
	return info
}

func (r *ToolRecord) force() float64 {
	if r.pressure == nil {
		return 1.0
	}
	return float64(*r.pressure) / maxPressure
}

// ToolInfo is a read-only view of a ToolRecord.
type ToolInfo struct {
	Tool           ToolID           `json:"tool"`
	Device         DeviceID         `json:"device"`
	Type           string           `json:"type,omitempty"`
	Kind           ToolKind         `json:"kind"`
	HardwareSerial uint64           `json:"hardware_serial,omitempty"`
	HardwareID     uint64           `json:"hardware_id,omitempty"`
	Capabilities   []string         `json:"capabilities,omitempty"`
	Described      bool             `json:"described"`
	InProximity    bool             `json:"in_proximity"`
	Surface        *SurfaceID       `json:"surface,omitempty"`
	Position       *LogicalPosition `json:"position,omitempty"`
}
