package split

import (
	"fmt"
	"math/bits"
	"strings"
	"time"

	"github.com/inference-sim/copysplit/split/device"
)

// SubmissionMode is the discipline of the caller's issuing lane.
type SubmissionMode int

const (
	// SynchronousBlocking returns only after the whole transfer completed.
	SynchronousBlocking SubmissionMode = iota
	// AsynchronousOrdered returns after appending; split lanes wait on a
	// barrier signaled behind the caller's prior work.
	AsynchronousOrdered
	// AsynchronousRelaxed returns after appending; split lanes wait on the
	// caller's dependencies directly and no barrier is used.
	AsynchronousRelaxed
)

var modeNames = map[SubmissionMode]string{
	SynchronousBlocking: "sync",
	AsynchronousOrdered: "async",
	AsynchronousRelaxed: "relaxed",
}

func (m SubmissionMode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseSubmissionMode accepts "sync", "async" or "relaxed".
func ParseSubmissionMode(s string) (SubmissionMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown submission mode %q", ErrInvalidArgument, s)
}

// Config is the split configuration of one device context. It is fixed
// when the Dispatcher is built.
type Config struct {
	Enabled                     bool
	LaneCount                   int    // power of two; 0 = as many lanes as the device offers
	EngineMask                  uint32 // link copy engine ordinals allowed as lanes; 0 = all
	MinimumSplitSize            uint64 // bytes
	MinimumSplitSizeByDirection map[DirectionClass]uint64
	HostPointerSplitEnabled     bool   // split transfers touching plain host memory
	WriteGroupMask              uint32 // lane indices serving host → device; 0 = lower half
	ReadGroupMask               uint32 // lane indices serving device → host; 0 = upper half
	EventPoolCapacity           int    // event slots per device event pool
	PageSize                    uint64 // chunk alignment for page-fault copies
	Mode                        SubmissionMode
	SyncTimeout                 time.Duration // host wait bound in SynchronousBlocking mode
}

// DefaultMinimumSplitSize is the size below which transfers stay on one lane.
const DefaultMinimumSplitSize = 4 * uint64(MiB)

// MaxLanes is the most split lanes one context uses; lane and group masks
// are 32 bits wide.
const MaxLanes = 32

// DefaultEventPoolCapacity holds one barrier, one marker and subcopies for
// up to ten lanes.
const DefaultEventPoolCapacity = 12

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Enabled:                 true,
		MinimumSplitSize:        DefaultMinimumSplitSize,
		HostPointerSplitEnabled: true,
		EventPoolCapacity:       DefaultEventPoolCapacity,
		PageSize:                4096,
		Mode:                    AsynchronousOrdered,
		SyncTimeout:             device.WaitForever,
	}
}

// MinimumSizeFor returns the split threshold for a direction.
func (c Config) MinimumSizeFor(dir DirectionClass) uint64 {
	if v, ok := c.MinimumSplitSizeByDirection[dir]; ok {
		return v
	}
	return c.MinimumSplitSize
}

// Validate checks ranges and the power-of-two constraints.
func (c Config) Validate() error {
	if c.LaneCount < 0 || (c.LaneCount > 0 && bits.OnesCount(uint(c.LaneCount)) != 1) {
		return fmt.Errorf("%w: lane count must be 0 or a power of two, got %d", ErrInvalidArgument, c.LaneCount)
	}
	if c.LaneCount > MaxLanes {
		return fmt.Errorf("%w: lane count %d exceeds %d", ErrInvalidArgument, c.LaneCount, MaxLanes)
	}
	if c.EventPoolCapacity < 3 {
		return fmt.Errorf("%w: event pool capacity must be >= 3, got %d", ErrInvalidArgument, c.EventPoolCapacity)
	}
	if c.PageSize == 0 || bits.OnesCount64(c.PageSize) != 1 {
		return fmt.Errorf("%w: page size must be a power of two, got %d", ErrInvalidArgument, c.PageSize)
	}
	if _, ok := modeNames[c.Mode]; !ok {
		return fmt.Errorf("%w: unknown submission mode %d", ErrInvalidArgument, int(c.Mode))
	}
	if c.WriteGroupMask&c.ReadGroupMask != 0 {
		return fmt.Errorf("%w: write and read group masks overlap (%#x, %#x)", ErrInvalidArgument, c.WriteGroupMask, c.ReadGroupMask)
	}
	if c.SyncTimeout < 0 {
		return fmt.Errorf("%w: sync timeout must be non-negative, got %v", ErrInvalidArgument, c.SyncTimeout)
	}
	for dir := range c.MinimumSplitSizeByDirection {
		if _, ok := directionNames[dir]; !ok {
			return fmt.Errorf("%w: unknown direction %d in per-direction thresholds", ErrInvalidArgument, int(dir))
		}
	}
	return nil
}

// clone returns a copy that does not share the per-direction map.
func (c Config) clone() Config {
	out := c
	if c.MinimumSplitSizeByDirection != nil {
		out.MinimumSplitSizeByDirection = make(map[DirectionClass]uint64, len(c.MinimumSplitSizeByDirection))
		for k, v := range c.MinimumSplitSizeByDirection {
			out.MinimumSplitSizeByDirection[k] = v
		}
	}
	return out
}
