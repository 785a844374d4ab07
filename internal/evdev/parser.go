package evdev

import (
	"encoding/binary"
	"fmt"
	"time"
)

// InputEvent is one kernel input_event.
type InputEvent struct {
	Time  time.Time
	Type  uint16
	Code  uint16
	Value int32
}

// Parser splits a byte stream into input events. The kernel struct is 24
// bytes with a 64-bit timeval and 16 bytes with a 32-bit one.
type Parser struct {
	size int
	buf  []byte
}

// NewParser creates a parser for size-byte events. A size of 0 guesses
// the layout from the first read.
func NewParser(size int) (*Parser, error) {
	switch size {
	case 0, 16, 24:
		return &Parser{size: size}, nil
	default:
		return nil, fmt.Errorf("evdev: unsupported event size %d", size)
	}
}

// Size returns the event size in use, 0 while still undetermined.
func (p *Parser) Size() int { return p.size }

// Feed appends chunk and calls fn for every complete event. A trailing
// partial event is kept for the next call.
func (p *Parser) Feed(chunk []byte, fn func(InputEvent)) {
	p.buf = append(p.buf, chunk...)
	if p.size == 0 {
		p.size = guessSize(p.buf)
	}
	for p.size != 0 && len(p.buf) >= p.size {
		fn(decode(p.buf[:p.size]))
		p.buf = p.buf[p.size:]
	}
	if len(p.buf) == 0 {
		p.buf = nil
	}
}

// guessSize picks the layout a read of whole events fits. Reads always
// return whole events, so a length divisible only by 16 means 16.
func guessSize(b []byte) int {
	switch {
	case len(b) >= 24 && len(b)%24 == 0:
		return 24
	case len(b) >= 16 && len(b)%16 == 0:
		return 16
	case len(b) >= 24:
		return 24
	default:
		return 0
	}
}

func decode(b []byte) InputEvent {
	var ev InputEvent
	if len(b) == 24 {
		sec := int64(binary.LittleEndian.Uint64(b[0:8]))
		usec := int64(binary.LittleEndian.Uint64(b[8:16]))
		ev.Time = time.Unix(sec, usec*1000)
		ev.Type = binary.LittleEndian.Uint16(b[16:18])
		ev.Code = binary.LittleEndian.Uint16(b[18:20])
		ev.Value = int32(binary.LittleEndian.Uint32(b[20:24]))
		return ev
	}
	sec := int64(int32(binary.LittleEndian.Uint32(b[0:4])))
	usec := int64(int32(binary.LittleEndian.Uint32(b[4:8])))
	ev.Time = time.Unix(sec, usec*1000)
	ev.Type = binary.LittleEndian.Uint16(b[8:10])
	ev.Code = binary.LittleEndian.Uint16(b[10:12])
	ev.Value = int32(binary.LittleEndian.Uint32(b[12:16]))
	return ev
}
