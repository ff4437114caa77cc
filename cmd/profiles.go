package cmd

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/inference-sim/copysplit/split"
	"github.com/inference-sim/copysplit/split/hw"
)

// DeviceProfile describes a simulated device and its split defaults in
// defaults.yaml.
type DeviceProfile struct {
	Description     string          `yaml:"description"`
	LinkCopyEngines int             `yaml:"link_copy_engines" validate:"gte=0,lte=32"`
	BandwidthGBps   float64         `yaml:"bandwidth_gbps" validate:"gt=0"`
	CommandLatency  time.Duration   `yaml:"command_latency" validate:"gte=0"`
	SubmitLatency   time.Duration   `yaml:"submit_latency" validate:"gte=0"`
	MaxEventPools   int             `yaml:"max_event_pools" validate:"gte=0"`
	Split           split.Overrides `yaml:"split"`
}

// Defaults represents the full defaults.yaml structure.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type Defaults struct {
	Version  string                   `yaml:"version" validate:"required"`
	Profiles map[string]DeviceProfile `yaml:"profiles" validate:"required,min=1,dive"`
}

// loadDefaults parses and validates defaults.yaml.
// Uses strict field checking: typos must cause errors.
func loadDefaults(path string) (*Defaults, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading defaults file: %w", err)
	}
	var d Defaults
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&d); err != nil {
		return nil, fmt.Errorf("parsing defaults YAML: %w", err)
	}
	if err := validator.New().Struct(&d); err != nil {
		return nil, fmt.Errorf("validating defaults YAML: %w", err)
	}
	for name, p := range d.Profiles {
		if err := p.Split.Validate(); err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
	}
	return &d, nil
}

// Profile returns the named profile.
func (d *Defaults) Profile(name string) (DeviceProfile, error) {
	p, ok := d.Profiles[name]
	if !ok {
		return DeviceProfile{}, fmt.Errorf("unknown profile %q; valid: %v", name, d.ProfileNames())
	}
	return p, nil
}

// ProfileNames returns the profile names in sorted order.
func (d *Defaults) ProfileNames() []string {
	names := make([]string, 0, len(d.Profiles))
	for name := range d.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HardwareConfig returns the simulated device configuration.
func (p DeviceProfile) HardwareConfig() hw.Config {
	return hw.Config{
		LinkCopyEngines:     p.LinkCopyEngines,
		BandwidthBytesPerNs: p.BandwidthGBps, // 1 GB/s = 1 B/ns
		CommandLatencyNs:    p.CommandLatency.Nanoseconds(),
		SubmitLatencyNs:     p.SubmitLatency.Nanoseconds(),
		MaxEventPools:       p.MaxEventPools,
	}
}

// SplitConfig returns the default split configuration with the profile's
// split section applied.
func (p DeviceProfile) SplitConfig() (split.Config, error) {
	return p.Split.Apply(split.DefaultConfig())
}
