package split

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Overrides is the tuning surface layered over a Config, loadable from a
// YAML file. Nil pointer fields mean "not set" and leave the Config alone.
type Overrides struct {
	Enabled                 *bool               `yaml:"enabled"`
	LaneCount               *int                `yaml:"lane_count"`
	EngineMask              *uint32             `yaml:"engine_mask"`
	MinimumSplitSize        *ByteSize           `yaml:"min_split_size"`
	MinSplitSizeByDirection map[string]ByteSize `yaml:"min_split_size_by_direction"`
	HostPointerSplit        *bool               `yaml:"host_pointer_split"`
	WriteGroupMask          *uint32             `yaml:"write_group_mask"`
	ReadGroupMask           *uint32             `yaml:"read_group_mask"`
	EventPoolCapacity       *int                `yaml:"event_pool_capacity"`
	Mode                    string              `yaml:"mode"`
	SyncTimeout             *time.Duration      `yaml:"sync_timeout"`
}

// LoadOverrides reads and parses a YAML override file. Unknown keys are errors.
func LoadOverrides(path string) (*Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading split overrides: %w", err)
	}
	var o Overrides
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&o); err != nil {
		return nil, fmt.Errorf("parsing split overrides: %w", err)
	}
	return &o, nil
}

// Validate checks names and parameter ranges of the set fields.
func (o *Overrides) Validate() error {
	if o.Mode != "" {
		if _, err := ParseSubmissionMode(o.Mode); err != nil {
			return err
		}
	}
	for name := range o.MinSplitSizeByDirection {
		if _, err := ParseDirection(name); err != nil {
			return err
		}
	}
	if o.LaneCount != nil && *o.LaneCount < 0 {
		return fmt.Errorf("%w: lane_count must be non-negative, got %d", ErrInvalidArgument, *o.LaneCount)
	}
	if o.EventPoolCapacity != nil && *o.EventPoolCapacity <= 0 {
		return fmt.Errorf("%w: event_pool_capacity must be positive, got %d", ErrInvalidArgument, *o.EventPoolCapacity)
	}
	if o.SyncTimeout != nil && *o.SyncTimeout < 0 {
		return fmt.Errorf("%w: sync_timeout must be non-negative, got %v", ErrInvalidArgument, *o.SyncTimeout)
	}
	return nil
}

// Apply returns cfg with every set field replaced. The result is validated.
func (o *Overrides) Apply(cfg Config) (Config, error) {
	if err := o.Validate(); err != nil {
		return cfg, err
	}
	out := cfg.clone()
	if o.Enabled != nil {
		out.Enabled = *o.Enabled
	}
	if o.LaneCount != nil {
		out.LaneCount = *o.LaneCount
	}
	if o.EngineMask != nil {
		out.EngineMask = *o.EngineMask
	}
	if o.MinimumSplitSize != nil {
		out.MinimumSplitSize = uint64(*o.MinimumSplitSize)
	}
	if len(o.MinSplitSizeByDirection) > 0 {
		if out.MinimumSplitSizeByDirection == nil {
			out.MinimumSplitSizeByDirection = make(map[DirectionClass]uint64)
		}
		for name, size := range o.MinSplitSizeByDirection {
			dir, _ := ParseDirection(name)
			out.MinimumSplitSizeByDirection[dir] = uint64(size)
		}
	}
	if o.HostPointerSplit != nil {
		out.HostPointerSplitEnabled = *o.HostPointerSplit
	}
	if o.WriteGroupMask != nil {
		out.WriteGroupMask = *o.WriteGroupMask
	}
	if o.ReadGroupMask != nil {
		out.ReadGroupMask = *o.ReadGroupMask
	}
	if o.EventPoolCapacity != nil {
		out.EventPoolCapacity = *o.EventPoolCapacity
	}
	if o.Mode != "" {
		out.Mode, _ = ParseSubmissionMode(o.Mode)
	}
	if o.SyncTimeout != nil {
		out.SyncTimeout = *o.SyncTimeout
	}
	if err := out.Validate(); err != nil {
		return cfg, err
	}
	return out, nil
}
