package tablet

import "fmt"

// apply folds one update into the addressed record. Only Frame emits
// events; every other update just mutates state.
func (s *Seat) apply(id ToolID, u Update) error {
	rec, err := s.tools.Lookup(id)
	if err != nil {
		return err
	}

	switch u := u.(type) {
	case ToolClassified:
		t := u.Type
		rec.toolType = &t
	case HardwareSerial:
		rec.serial = u.Serial
	case HardwareIDWacom:
		rec.hardwareID = u.ID
	case CapabilityAdvertised:
		rec.capabilities = append(rec.capabilities, u.Capability)
	case Done:
		rec.described = true
		s.logger.Debug("tool described", "tool", id, "device", rec.deviceID, "kind", rec.Kind())
	case ProximityIn:
		surface := u.Surface
		rec.surface = &surface
		rec.entered = true
		rec.near = true
	case ProximityOut:
		rec.left = true
		rec.near = false
	case Pressure:
		p := u.Value
		rec.pressure = &p
		rec.moved = true
	case Rotation:
		deg := u.Degrees
		rec.rotation = &deg
		rec.moved = true
	case TiltChanged:
		rec.tilt = &Tilt{X: u.X, Y: u.Y}
		rec.moved = true
	case Motion:
		rec.position = &LogicalPosition{X: u.X, Y: u.Y}
		rec.moved = true
	case Distance:
		// Hover distance is not part of the pointer payload.
	case Down:
		rec.buttons = append(rec.buttons, ButtonTransition{Button: Button{Kind: ButtonContact}, State: Pressed})
	case Up:
		rec.buttons = append(rec.buttons, ButtonTransition{Button: Button{Kind: ButtonContact}, State: Released})
	case ButtonChanged:
		rec.buttons = append(rec.buttons, ButtonTransition{Button: ButtonFromCode(u.Code), State: u.State})
	case Frame:
		s.flush(rec)
	case Removed:
		if err := s.tools.Unregister(id); err != nil {
			return err
		}
		if s.release != nil {
			s.release(id)
		}
		s.logger.Debug("tool removed", "tool", id, "device", rec.deviceID)
		s.observer.ToolsChanged(s.tools.Len())
	default:
		return fmt.Errorf("tool %d: unsupported update %T", id, u)
	}
	return nil
}
