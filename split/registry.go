package split

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/copysplit/split/device"
)

// LaneGroupID names a direction-specific subset of lanes.
type LaneGroupID int

const (
	// GroupNone is returned when no group serves a transfer.
	GroupNone LaneGroupID = iota
	// GroupWrite serves host → device transfers.
	GroupWrite
	// GroupRead serves device → host transfers.
	GroupRead
)

func (g LaneGroupID) String() string {
	switch g {
	case GroupWrite:
		return "write"
	case GroupRead:
		return "read"
	default:
		return "none"
	}
}

// LaneGroupRegistry owns the split lanes of one device and partitions them
// into direction groups. Lookups never mutate it.
type LaneGroupRegistry struct {
	lanes    []*EngineLane
	groups   map[LaneGroupID][]*EngineLane
	degraded bool
	reason   string
}

// NewLaneGroupRegistry builds lanes from the device's link copy engines.
// Engines are filtered by cfg.EngineMask and truncated to the largest power
// of two not above cfg.LaneCount (or the number available when LaneCount is
// 0). Fewer engines than requested is reported as degraded, not as an error.
func NewLaneGroupRegistry(dev device.Device, cfg Config) (*LaneGroupRegistry, error) {
	caps := dev.Capabilities()
	available := make([]int, 0, len(caps.LinkCopyEngines))
	for _, ordinal := range caps.LinkCopyEngines {
		if cfg.EngineMask != 0 && (ordinal >= 32 || cfg.EngineMask&(1<<uint(ordinal)) == 0) {
			continue
		}
		available = append(available, ordinal)
	}

	want := cfg.LaneCount
	if want == 0 {
		want = min(len(available), MaxLanes)
	}
	n := floorPowerOfTwo(min(want, len(available)))

	r := &LaneGroupRegistry{groups: make(map[LaneGroupID][]*EngineLane)}
	switch {
	case n == 0:
		r.degraded = true
		r.reason = "no copy engines available for split lanes"
	case n < want:
		r.degraded = true
		r.reason = fmt.Sprintf("device exposes %d usable copy engines, %d requested; using %d lanes", len(available), want, n)
	}
	if r.degraded {
		logrus.Warnf("split: degraded lane registry: %s", r.reason)
	}

	for i := 0; i < n; i++ {
		lane, err := NewEngineLane(dev, i, available[i], false)
		if err != nil {
			return nil, err
		}
		r.lanes = append(r.lanes, lane)
	}
	if n == 0 {
		return r, nil
	}

	writeMask, readMask := defaultGroupMasks(n)
	if cfg.WriteGroupMask != 0 {
		writeMask = cfg.WriteGroupMask
	}
	if cfg.ReadGroupMask != 0 {
		readMask = cfg.ReadGroupMask
	}
	r.groups[GroupWrite] = r.selectLanes(writeMask)
	r.groups[GroupRead] = r.selectLanes(readMask)
	return r, nil
}

// defaultGroupMasks gives writes the lower half of the lanes and reads the
// upper half. A single lane serves both.
func defaultGroupMasks(n int) (write, read uint32) {
	all := uint32(uint64(1)<<uint(n) - 1)
	if n == 1 {
		return all, all
	}
	write = uint32(uint64(1)<<uint(n/2) - 1)
	return write, all &^ write
}

func (r *LaneGroupRegistry) selectLanes(mask uint32) []*EngineLane {
	var out []*EngineLane
	for i, lane := range r.lanes {
		if mask&(1<<uint(i)) != 0 {
			out = append(out, lane)
		}
	}
	return out
}

func floorPowerOfTwo(n int) int {
	if n <= 0 {
		return 0
	}
	p := 1
	for p*2 <= n {
		p *= 2
	}
	return p
}

// LanesFor returns the ordered lanes of a group (nil for GroupNone).
func (r *LaneGroupRegistry) LanesFor(group LaneGroupID) []*EngineLane {
	return r.groups[group]
}

// Lanes returns every lane in index order.
func (r *LaneGroupRegistry) Lanes() []*EngineLane {
	return r.lanes
}

// LaneCount returns the number of lanes built.
func (r *LaneGroupRegistry) LaneCount() int {
	return len(r.lanes)
}

// Degraded reports whether fewer lanes than configured could be built.
func (r *LaneGroupRegistry) Degraded() bool {
	return r.degraded
}

// DegradedReason explains Degraded; empty when not degraded.
func (r *LaneGroupRegistry) DegradedReason() string {
	return r.reason
}
