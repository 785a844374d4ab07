package evdev

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// DevicesFile lists the kernel's input devices.
const DevicesFile = "/proc/bus/input/devices"

// DeviceInfo is one block of DevicesFile.
type DeviceInfo struct {
	Name     string
	Phys     string
	Handlers []string
	key      []uint64 // KEY bitmap, least significant word first
	hasAbs   bool
}

// Path returns the /dev/input node of the device, or "" when it has no
// event handler.
func (d DeviceInfo) Path() string {
	for _, h := range d.Handlers {
		if strings.HasPrefix(h, "event") {
			return "/dev/input/" + h
		}
	}
	return ""
}

// HasKey reports whether the KEY bitmap carries code.
func (d DeviceInfo) HasKey(code uint16) bool {
	word := int(code) / 64
	if word >= len(d.key) {
		return false
	}
	return d.key[word]&(1<<(code%64)) != 0
}

// IsPenTablet reports whether the device advertises a pen tool and
// absolute axes.
func (d DeviceInfo) IsPenTablet() bool {
	return d.hasAbs && d.HasKey(BtnToolPen) && d.Path() != ""
}

// ParseDevices parses the DevicesFile format.
func ParseDevices(r io.Reader) ([]DeviceInfo, error) {
	var (
		devices []DeviceInfo
		cur     DeviceInfo
		started bool
	)
	finish := func() {
		if started {
			devices = append(devices, cur)
		}
		cur, started = DeviceInfo{}, false
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			finish()
			continue
		}
		started = true
		switch {
		case strings.HasPrefix(line, "N: Name="):
			cur.Name = strings.Trim(strings.TrimPrefix(line, "N: Name="), `"`)
		case strings.HasPrefix(line, "P: Phys="):
			cur.Phys = strings.TrimPrefix(line, "P: Phys=")
		case strings.HasPrefix(line, "H: Handlers="):
			cur.Handlers = strings.Fields(strings.TrimPrefix(line, "H: Handlers="))
		case strings.HasPrefix(line, "B: KEY="):
			key, err := parseBitmap(strings.TrimPrefix(line, "B: KEY="))
			if err != nil {
				return nil, fmt.Errorf("device %q: %w", cur.Name, err)
			}
			cur.key = key
		case strings.HasPrefix(line, "B: ABS="):
			cur.hasAbs = strings.Trim(strings.TrimPrefix(line, "B: ABS="), "0 ") != ""
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read devices: %w", err)
	}
	finish()
	return devices, nil
}

// parseBitmap reads the kernel's space separated hex words, most
// significant first.
func parseBitmap(s string) ([]uint64, error) {
	fields := strings.Fields(s)
	words := make([]uint64, len(fields))
	for i, f := range fields {
		w, err := strconv.ParseUint(f, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("bad bitmap word %q: %w", f, err)
		}
		words[len(fields)-1-i] = w
	}
	return words, nil
}

// Discover returns the pen tablets listed in DevicesFile.
func Discover() ([]DeviceInfo, error) {
	f, err := os.Open(DevicesFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	all, err := ParseDevices(f)
	if err != nil {
		return nil, err
	}
	var tablets []DeviceInfo
	for _, d := range all {
		if d.IsPenTablet() {
			tablets = append(tablets, d)
		}
	}
	return tablets, nil
}
