// Package trace reads and writes recorded notification streams.
//
// A trace file holds the window table the recording was made against and
// the notifications in submission order. Files are JSON or YAML and are
// validated against an embedded JSON schema before they are decoded.
package trace

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"tabletd/internal/security"
	"tabletd/internal/tablet"
	"tabletd/internal/window"
)

// Version is the trace format version written by Save.
const Version = 1

const schemaURL = "https://tabletd.dev/schema/trace-v1.json"

//go:embed schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

// ErrInvalid wraps schema violations.
var ErrInvalid = errors.New("invalid trace")

// Step kinds.
const (
	KindAdded        = "added"
	KindType         = "type"
	KindSerial       = "serial"
	KindHardwareID   = "hardware_id"
	KindCapability   = "capability"
	KindDone         = "done"
	KindProximityIn  = "proximity_in"
	KindProximityOut = "proximity_out"
	KindDown         = "down"
	KindUp           = "up"
	KindMotion       = "motion"
	KindPressure     = "pressure"
	KindDistance     = "distance"
	KindTilt         = "tilt"
	KindRotation     = "rotation"
	KindButton       = "button"
	KindFrame        = "frame"
	KindRemoved      = "removed"
)

// Window is one surface mapping of a trace.
type Window struct {
	Surface uint32  `json:"surface" yaml:"surface"`
	Window  uint64  `json:"window" yaml:"window"`
	Scale   float64 `json:"scale" yaml:"scale"`
}

// Step is one recorded notification. Only the fields of its kind are set.
type Step struct {
	Kind       string   `json:"kind" yaml:"kind"`
	Tool       uint32   `json:"tool" yaml:"tool"`
	Surface    *uint32  `json:"surface,omitempty" yaml:"surface,omitempty"`
	Serial     *uint64  `json:"serial,omitempty" yaml:"serial,omitempty"`
	ID         *uint64  `json:"id,omitempty" yaml:"id,omitempty"`
	X          *float64 `json:"x,omitempty" yaml:"x,omitempty"`
	Y          *float64 `json:"y,omitempty" yaml:"y,omitempty"`
	Value      *uint32  `json:"value,omitempty" yaml:"value,omitempty"`
	Degrees    *float64 `json:"degrees,omitempty" yaml:"degrees,omitempty"`
	Code       *uint32  `json:"code,omitempty" yaml:"code,omitempty"`
	State      string   `json:"state,omitempty" yaml:"state,omitempty"`
	Type       string   `json:"type,omitempty" yaml:"type,omitempty"`
	Capability string   `json:"capability,omitempty" yaml:"capability,omitempty"`
	Time       *uint32  `json:"time,omitempty" yaml:"time,omitempty"`
}

// Trace is a decoded trace file.
type Trace struct {
	Version     int      `json:"version" yaml:"version"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Windows     []Window `json:"windows,omitempty" yaml:"windows,omitempty"`
	Steps       []Step   `json:"steps" yaml:"steps"`
}

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add trace schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Load reads and validates a trace file.
func Load(path string) (*Trace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	tr, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tr, nil
}

// Parse validates and decodes a trace. JSON input is accepted since it is
// also valid YAML.
func Parse(data []byte) (*Trace, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode trace: %w", err)
	}
	// Round trip through JSON so the validator sees JSON types.
	canonical, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("normalize trace: %w", err)
	}
	if err := Validate(canonical); err != nil {
		return nil, err
	}

	var tr Trace
	if err := json.Unmarshal(canonical, &tr); err != nil {
		return nil, fmt.Errorf("decode trace: %w", err)
	}
	return &tr, nil
}

// Validate checks JSON trace data against the schema.
func Validate(data []byte) error {
	sch, err := compiledSchema()
	if err != nil {
		return err
	}
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("decode trace: %w", err)
	}
	if err := sch.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Save writes a trace. The format follows the file extension; anything
// other than .yaml or .yml is written as JSON.
func Save(tr *Trace, path string) error {
	if tr.Version == 0 {
		tr.Version = Version
	}
	if tr.Steps == nil {
		tr.Steps = []Step{}
	}

	var (
		data []byte
		err  error
	)
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(tr)
	default:
		data, err = json.MarshalIndent(tr, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}

	if err := security.WriteFileAtomic(path, data, security.PermPrivateFile); err != nil {
		return fmt.Errorf("write trace: %w", err)
	}
	return nil
}

// Notifications maps every step, stopping at the first invalid one.
func (t *Trace) Notifications() ([]tablet.Notification, error) {
	out := make([]tablet.Notification, 0, len(t.Steps))
	for i, st := range t.Steps {
		n, err := st.Notification()
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// Registry builds a window registry from the trace's window table.
func (t *Trace) Registry() (*window.Registry, error) {
	reg := window.NewRegistry()
	for _, w := range t.Windows {
		if err := reg.Map(tablet.SurfaceID(w.Surface), tablet.WindowID(w.Window), w.Scale); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func need[T any](p *T, kind, field string) (T, error) {
	if p == nil {
		var zero T
		return zero, fmt.Errorf("%s step needs %s", kind, field)
	}
	return *p, nil
}

// Notification converts the step into the notification it records.
func (s Step) Notification() (tablet.Notification, error) {
	id := tablet.ToolID(s.Tool)
	if s.Kind == KindAdded {
		return tablet.ToolAdded{Tool: id}, nil
	}
	u, err := s.update()
	if err != nil {
		return nil, err
	}
	return tablet.ToolUpdate{Tool: id, Update: u}, nil
}

func (s Step) update() (tablet.Update, error) {
	switch s.Kind {
	case KindType:
		typ, err := tablet.ParseToolType(s.Type)
		if err != nil {
			return nil, err
		}
		return tablet.ToolClassified{Type: typ}, nil
	case KindSerial:
		serial, err := need(s.Serial, s.Kind, "serial")
		if err != nil {
			return nil, err
		}
		return tablet.HardwareSerial{Serial: serial}, nil
	case KindHardwareID:
		hwID, err := need(s.ID, s.Kind, "id")
		if err != nil {
			return nil, err
		}
		return tablet.HardwareIDWacom{ID: hwID}, nil
	case KindCapability:
		c, err := tablet.ParseCapability(s.Capability)
		if err != nil {
			return nil, err
		}
		return tablet.CapabilityAdvertised{Capability: c}, nil
	case KindDone:
		return tablet.Done{}, nil
	case KindProximityIn:
		surface, err := need(s.Surface, s.Kind, "surface")
		if err != nil {
			return nil, err
		}
		return tablet.ProximityIn{Serial: s.serial32(), Surface: tablet.SurfaceID(surface)}, nil
	case KindProximityOut:
		return tablet.ProximityOut{}, nil
	case KindDown:
		return tablet.Down{Serial: s.serial32()}, nil
	case KindUp:
		return tablet.Up{}, nil
	case KindMotion, KindTilt:
		x, err := need(s.X, s.Kind, "x")
		if err != nil {
			return nil, err
		}
		y, err := need(s.Y, s.Kind, "y")
		if err != nil {
			return nil, err
		}
		if s.Kind == KindTilt {
			return tablet.TiltChanged{X: x, Y: y}, nil
		}
		return tablet.Motion{X: x, Y: y}, nil
	case KindPressure:
		v, err := need(s.Value, s.Kind, "value")
		if err != nil {
			return nil, err
		}
		return tablet.Pressure{Value: v}, nil
	case KindDistance:
		v, err := need(s.Value, s.Kind, "value")
		if err != nil {
			return nil, err
		}
		return tablet.Distance{Value: v}, nil
	case KindRotation:
		deg, err := need(s.Degrees, s.Kind, "degrees")
		if err != nil {
			return nil, err
		}
		return tablet.Rotation{Degrees: deg}, nil
	case KindButton:
		code, err := need(s.Code, s.Kind, "code")
		if err != nil {
			return nil, err
		}
		state := tablet.Released
		switch s.State {
		case "pressed":
			state = tablet.Pressed
		case "released":
		default:
			return nil, fmt.Errorf("invalid button state %q", s.State)
		}
		return tablet.ButtonChanged{Serial: s.serial32(), Code: code, State: state}, nil
	case KindFrame:
		var ms uint32
		if s.Time != nil {
			ms = *s.Time
		}
		return tablet.Frame{Time: ms}, nil
	case KindRemoved:
		return tablet.Removed{}, nil
	}
	return nil, fmt.Errorf("unknown step kind %q", s.Kind)
}

func (s Step) serial32() uint32 {
	if s.Serial == nil {
		return 0
	}
	return uint32(*s.Serial)
}

func ptr[T any](v T) *T { return &v }

// FromNotification records a notification as a step.
func FromNotification(n tablet.Notification) (Step, error) {
	switch n := n.(type) {
	case tablet.ToolAdded:
		return Step{Kind: KindAdded, Tool: uint32(n.Tool)}, nil
	case tablet.ToolUpdate:
		st := Step{Tool: uint32(n.Tool)}
		switch u := n.Update.(type) {
		case tablet.ToolClassified:
			st.Kind, st.Type = KindType, u.Type.String()
		case tablet.HardwareSerial:
			st.Kind, st.Serial = KindSerial, ptr(u.Serial)
		case tablet.HardwareIDWacom:
			st.Kind, st.ID = KindHardwareID, ptr(u.ID)
		case tablet.CapabilityAdvertised:
			st.Kind, st.Capability = KindCapability, u.Capability.String()
		case tablet.Done:
			st.Kind = KindDone
		case tablet.ProximityIn:
			st.Kind = KindProximityIn
			st.Serial = ptr(uint64(u.Serial))
			st.Surface = ptr(uint32(u.Surface))
		case tablet.ProximityOut:
			st.Kind = KindProximityOut
		case tablet.Down:
			st.Kind, st.Serial = KindDown, ptr(uint64(u.Serial))
		case tablet.Up:
			st.Kind = KindUp
		case tablet.Motion:
			st.Kind, st.X, st.Y = KindMotion, ptr(u.X), ptr(u.Y)
		case tablet.Pressure:
			st.Kind, st.Value = KindPressure, ptr(u.Value)
		case tablet.Distance:
			st.Kind, st.Value = KindDistance, ptr(u.Value)
		case tablet.TiltChanged:
			st.Kind, st.X, st.Y = KindTilt, ptr(u.X), ptr(u.Y)
		case tablet.Rotation:
			st.Kind, st.Degrees = KindRotation, ptr(u.Degrees)
		case tablet.ButtonChanged:
			st.Kind = KindButton
			st.Serial = ptr(uint64(u.Serial))
			st.Code = ptr(u.Code)
			st.State = u.State.String()
		case tablet.Frame:
			st.Kind, st.Time = KindFrame, ptr(u.Time)
		case tablet.Removed:
			st.Kind = KindRemoved
		default:
			return Step{}, fmt.Errorf("unsupported update %T", n.Update)
		}
		return st, nil
	}
	return Step{}, fmt.Errorf("unsupported notification %T", n)
}
