//go:build linux

package evdev

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unsafe"

	"golang.org/x/sys/unix"

	"tabletd/internal/tablet"
)

type absInfo struct {
	Value      int32
	Min        int32
	Max        int32
	Fuzz       int32
	Flat       int32
	Resolution int32
}

// ioctl request encoding, the kernel's _IOC macro.
const (
	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30

	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, typ, nr, size uint32) uint {
	return uint(dir<<iocDirShift | typ<<iocTypeShift | nr<<iocNRShift | size<<iocSizeShift)
}

// EVIOCGABS(abs) = _IOR('E', 0x40 + abs, struct input_absinfo)
func eviocgabs(code uint16) uint {
	return ioc(iocRead, 'E', 0x40+uint32(code), uint32(unsafe.Sizeof(absInfo{})))
}

// EVIOCGRAB = _IOW('E', 0x90, int)
var eviocgrab = ioc(iocWrite, 'E', 0x90, uint32(unsafe.Sizeof(int32(0))))

func getAbsInfo(fd int, code uint16) (absInfo, error) {
	var info absInfo
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(eviocgabs(code)), uintptr(unsafe.Pointer(&info)))
	if errno != 0 {
		return absInfo{}, errno
	}
	return info, nil
}

// Reader feeds one evdev node through a Parser and a Translator.
type Reader struct {
	path   string
	fd     int
	opts   ReaderOptions
	parser *Parser
	trans  *Translator
	logger *slog.Logger
}

// Open opens path and reads its axis ranges.
func Open(path string, opts ReaderOptions) (*Reader, error) {
	parser, err := NewParser(opts.EventSize)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("device", path)

	geo := opts.Geometry
	geo.Axes = make(map[uint16]AxisRange)
	for _, code := range []uint16{AbsX, AbsY, AbsZ, AbsPressure, AbsDistance, AbsTiltX, AbsTiltY} {
		info, err := getAbsInfo(fd, code)
		if err != nil || info.Max <= info.Min {
			continue
		}
		geo.Axes[code] = AxisRange{Min: info.Min, Max: info.Max}
	}
	if _, ok := geo.Axes[AbsX]; !ok {
		unix.Close(fd)
		return nil, fmt.Errorf("%s: device reports no ABS_X range", path)
	}

	if opts.Grab {
		if err := unix.IoctlSetInt(fd, eviocgrab, 1); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("grab %s: %w", path, err)
		}
	}

	logger.Info("tablet opened", "axes", len(geo.Axes), "grab", opts.Grab)
	return &Reader{
		path:   path,
		fd:     fd,
		opts:   opts,
		parser: parser,
		trans:  NewTranslator(geo, opts.IDs),
		logger: logger,
	}, nil
}

// Run reads until ctx is cancelled, the device goes away or submit
// fails. Every announced tool is removed before Run returns.
func (r *Reader) Run(ctx context.Context, submit SubmitFunc) error {
	defer unix.Close(r.fd)

	var submitErr error
	emit := func(n tablet.Notification) {
		if submitErr == nil {
			submitErr = submit(n)
		}
	}
	defer func() {
		// Removal must reach the seat even after cancellation.
		removeTools(r.trans, submit, r.logger)
	}()

	buf := make([]byte, 24*64)
	fds := []unix.PollFd{{Fd: int32(r.fd), Events: unix.POLLIN}}
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		n, err := unix.Poll(fds, 200)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("poll %s: %w", r.path, err)
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents&(unix.POLLHUP|unix.POLLERR) != 0 {
			r.logger.Warn("tablet disconnected")
			return nil
		}

		read, err := unix.Read(r.fd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.ENODEV) {
				r.logger.Warn("tablet disconnected")
				return nil
			}
			return fmt.Errorf("read %s: %w", r.path, err)
		}
		r.parser.Feed(buf[:read], func(ev InputEvent) {
			r.trans.Translate(ev, emit)
		})
		if submitErr != nil {
			return submitErr
		}
	}
}
