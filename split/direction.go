package split

import (
	"fmt"
	"sort"
	"strings"

	"github.com/inference-sim/copysplit/split/device"
)

// DirectionClass classifies a transfer by where its source and destination live.
type DirectionClass int

const (
	DeviceToDevice DirectionClass = iota
	DeviceToHostUSM
	DeviceToHostNonUSM
	HostUSMToDevice
	HostNonUSMToDevice
	HostToHost
)

var directionNames = map[DirectionClass]string{
	DeviceToDevice:     "d2d",
	DeviceToHostUSM:    "d2h-usm",
	DeviceToHostNonUSM: "d2h",
	HostUSMToDevice:    "h2d-usm",
	HostNonUSMToDevice: "h2d",
	HostToHost:         "h2h",
}

func (d DirectionClass) String() string {
	if name, ok := directionNames[d]; ok {
		return name
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

// ParseDirection accepts the short names printed by String.
func ParseDirection(s string) (DirectionClass, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d, name := range directionNames {
		if name == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown direction %q (valid: %s)", ErrInvalidArgument, s, strings.Join(DirectionNames(), ", "))
}

// DirectionNames returns the accepted direction names, sorted.
func DirectionNames() []string {
	names := make([]string, 0, len(directionNames))
	for _, n := range directionNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ClassifyDirection derives the direction of a copy from src to dst.
func ClassifyDirection(src, dst device.MemoryKind) DirectionClass {
	srcDevice := src == device.MemoryDevice
	dstDevice := dst == device.MemoryDevice
	switch {
	case srcDevice && dstDevice:
		return DeviceToDevice
	case srcDevice && dst == device.MemoryHostUSM:
		return DeviceToHostUSM
	case srcDevice:
		return DeviceToHostNonUSM
	case dstDevice && src == device.MemoryHostUSM:
		return HostUSMToDevice
	case dstDevice:
		return HostNonUSMToDevice
	default:
		return HostToHost
	}
}

// fillDirection classifies a fill by its destination. The pattern is
// supplied by the host, so a fill into device memory is a write to the device.
func fillDirection(dst device.MemoryKind) DirectionClass {
	switch dst {
	case device.MemoryDevice:
		return HostUSMToDevice
	case device.MemoryHostUSM:
		return DeviceToHostUSM
	default:
		return DeviceToHostNonUSM
	}
}

// ToDevice reports a host → device direction.
func (d DirectionClass) ToDevice() bool {
	return d == HostUSMToDevice || d == HostNonUSMToDevice
}

// FromDevice reports a device → host direction.
func (d DirectionClass) FromDevice() bool {
	return d == DeviceToHostUSM || d == DeviceToHostNonUSM
}

// NonUSMHost reports whether one side is a plain host pointer.
func (d DirectionClass) NonUSMHost() bool {
	return d == DeviceToHostNonUSM || d == HostNonUSMToDevice
}
