// Package ipc implements the tabletd control socket.
//
// The protocol is newline-delimited JSON over a Unix socket. A client
// sends Request objects; the server answers each with a Response carrying
// the same id. A subscribe request turns the connection into an event
// stream: after the acknowledgement every line is a Response whose Event
// field is set, until either side disconnects.
package ipc

import (
	"encoding/json"
	"fmt"
	"io"

	"tabletd/internal/session"
	"tabletd/internal/tablet"
)

// ProtocolVersion is reported by ping.
const ProtocolVersion = 1

// Methods understood by the server.
const (
	MethodPing      = "ping"
	MethodStatus    = "status"
	MethodTools     = "tools"
	MethodSubscribe = "subscribe"
)

// ErrorCode classifies request failures.
type ErrorCode int

const (
	ErrInvalidRequest   ErrorCode = 1
	ErrUnknownMethod    ErrorCode = 2
	ErrInternal         ErrorCode = 3
	ErrPermissionDenied ErrorCode = 4
	ErrUnavailable      ErrorCode = 5
	ErrRateLimited      ErrorCode = 6
)

// Request is one client request.
type Request struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers a request or carries a streamed event.
type Response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
	Event  *EventMessage   `json:"event,omitempty"`
}

// Error is a request failure reported by the server.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("ipc error %d: %s", e.Code, e.Message)
}

// PingResult is the result of ping.
type PingResult struct {
	Protocol int    `json:"protocol"`
	Version  string `json:"version"`
}

// StatusResult is the result of status.
type StatusResult struct {
	session.Status
	Version       string  `json:"version"`
	Clients       int     `json:"clients"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// SubscribeParams narrows a subscription. No kinds means all kinds.
type SubscribeParams struct {
	Kinds []tablet.EventKind `json:"kinds,omitempty"`
}

// EventMessage is a pointer event on the wire.
type EventMessage struct {
	Kind  tablet.EventKind `json:"kind"`
	Event json.RawMessage  `json:"event"`
}

// EncodeEvent wraps ev for the wire.
func EncodeEvent(ev tablet.Event) (*EventMessage, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.Kind(), err)
	}
	return &EventMessage{Kind: ev.Kind(), Event: raw}, nil
}

// Decode restores the pointer event.
func (m *EventMessage) Decode() (tablet.Event, error) {
	var (
		ev  tablet.Event
		err error
	)
	switch m.Kind {
	case tablet.KindEntered:
		var e tablet.PointerEntered
		err = json.Unmarshal(m.Event, &e)
		ev = e
	case tablet.KindMoved:
		var e tablet.PointerMoved
		err = json.Unmarshal(m.Event, &e)
		ev = e
	case tablet.KindLeft:
		var e tablet.PointerLeft
		err = json.Unmarshal(m.Event, &e)
		ev = e
	default:
		return nil, fmt.Errorf("unknown event kind %q", m.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s event: %w", m.Kind, err)
	}
	return ev, nil
}

func newResult(id uint64, v any) (*Response, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return &Response{ID: id, Result: raw}, nil
}

func newError(id uint64, code ErrorCode, msg string) *Response {
	return &Response{ID: id, Error: &Error{Code: code, Message: msg}}
}

// WriteMessage writes v as one JSON line.
func WriteMessage(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
