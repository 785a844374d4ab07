//go:build !linux

package evdev

import "context"

// Reader is unavailable off Linux.
type Reader struct{}

// Open always fails with ErrUnsupported.
func Open(path string, opts ReaderOptions) (*Reader, error) {
	return nil, ErrUnsupported
}

// Run always fails with ErrUnsupported.
func (r *Reader) Run(ctx context.Context, submit SubmitFunc) error {
	return ErrUnsupported
}
