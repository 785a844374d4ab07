package tablet

// Notification is one item of the seat's input stream: either a tool
// announcement or an update addressed to an announced tool.
type Notification interface {
	// Target returns the tool the notification concerns.
	Target() ToolID
	isNotification()
}

// ToolAdded announces a new tool on the seat.
type ToolAdded struct {
	Tool ToolID
}

// ToolUpdate carries one update for a tool.
type ToolUpdate struct {
	Tool   ToolID
	Update Update
}

func (n ToolAdded) Target() ToolID  { return n.Tool }
func (n ToolUpdate) Target() ToolID { return n.Tool }

func (ToolAdded) isNotification()  {}
func (ToolUpdate) isNotification() {}

// Update is a single property change reported for a tool. The set of
// implementations is closed; Seat.Handle switches over all of them.
type Update interface {
	isUpdate()
}

// ToolClassified reports the hardware tool type.
type ToolClassified struct{ Type ToolType }

// HardwareSerial reports the tool's unique hardware serial.
type HardwareSerial struct{ Serial uint64 }

// HardwareIDWacom reports the Wacom-specific tool id.
type HardwareIDWacom struct{ ID uint64 }

// CapabilityAdvertised reports one capability of the tool.
type CapabilityAdvertised struct{ Capability Capability }

// Done ends the burst of descriptive updates sent after ToolAdded.
type Done struct{}

// ProximityIn reports the tool entering sensing range over a surface.
type ProximityIn struct {
	Serial  uint32
	Surface SurfaceID
}

// ProximityOut reports the tool leaving sensing range.
type ProximityOut struct{}

// Down reports the tool touching the tablet surface.
type Down struct{ Serial uint32 }

// Up reports the tool lifting off the surface.
type Up struct{}

// Motion reports a new logical position.
type Motion struct{ X, Y float64 }

// Pressure reports the raw pressure in the range 0..65535.
type Pressure struct{ Value uint32 }

// Distance reports the raw hover distance. It is not forwarded.
type Distance struct{ Value uint32 }

// TiltChanged reports the tilt angles in degrees.
type TiltChanged struct{ X, Y float64 }

// Rotation reports the barrel rotation in degrees.
type Rotation struct{ Degrees float64 }

// ButtonChanged reports a hardware button transition.
type ButtonChanged struct {
	Serial uint32
	Code   uint32
	State  ButtonState
}

// Frame closes the group of updates delivered since the previous frame.
type Frame struct{ Time uint32 }

// Removed reports the tool going away. The handle is released after the
// record is dropped.
type Removed struct{}

func (ToolClassified) isUpdate()       {}
func (HardwareSerial) isUpdate()       {}
func (HardwareIDWacom) isUpdate()      {}
func (CapabilityAdvertised) isUpdate() {}
func (Done) isUpdate()                 {}
func (ProximityIn) isUpdate()          {}
func (ProximityOut) isUpdate()         {}
func (Down) isUpdate()                 {}
func (Up) isUpdate()                   {}
func (Motion) isUpdate()               {}
func (Pressure) isUpdate()             {}
func (Distance) isUpdate()             {}
func (TiltChanged) isUpdate()          {}
func (Rotation) isUpdate()             {}
func (ButtonChanged) isUpdate()        {}
func (Frame) isUpdate()                {}
func (Removed) isUpdate()              {}
