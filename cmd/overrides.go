package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/inference-sim/copysplit/split"
)

// Tuning keys. Each is settable as a flag (dots become dashes) or as an
// environment variable with the COPYSPLIT_ prefix (dots become underscores),
// e.g. split.min_size → --split-min-size, COPYSPLIT_SPLIT_MIN_SIZE.
const (
	keyEnabled    = "split.enabled"
	keyMinSize    = "split.min_size"
	keyMinSizeH2D = "split.min_size_h2d"
	keyMinSizeD2H = "split.min_size_d2h"
	keyHostPtr    = "split.hostptr"
	keyLanes      = "split.lanes"
	keyEngineMask = "split.engine_mask"
	keyMode       = "split.mode"
)

var tuningKeys = []string{keyEnabled, keyMinSize, keyMinSizeH2D, keyMinSizeD2H, keyHostPtr, keyLanes, keyEngineMask, keyMode}

func flagName(key string) string {
	return strings.NewReplacer(".", "-", "_", "-").Replace(key)
}

// addTuningFlags registers the override flags on fs.
func addTuningFlags(fs *pflag.FlagSet) {
	fs.Bool(flagName(keyEnabled), true, "Enable splitting large transfers across copy engines")
	fs.String(flagName(keyMinSize), "", "Minimum transfer size to split (e.g. 4MiB)")
	fs.String(flagName(keyMinSizeH2D), "", "Minimum split size for host-to-device transfers")
	fs.String(flagName(keyMinSizeD2H), "", "Minimum split size for device-to-host transfers")
	fs.Bool(flagName(keyHostPtr), true, "Split transfers that touch plain (non-USM) host memory")
	fs.Int(flagName(keyLanes), 0, "Number of split lanes (power of two; 0 = all available)")
	fs.String(flagName(keyEngineMask), "", "Bitmask of copy engine ordinals usable as lanes (e.g. 0x1e)")
	fs.String(flagName(keyMode), "", "Submission mode: sync, async, relaxed")
}

// newTuningViper binds the override flags in fs and the COPYSPLIT_*
// environment to one viper instance. Flags take precedence over the environment.
func newTuningViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("COPYSPLIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if fs == nil {
		return v, nil
	}
	for _, key := range tuningKeys {
		if f := fs.Lookup(flagName(key)); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("binding flag %s: %w", f.Name, err)
			}
		}
	}
	return v, nil
}

// resolveOverrides collects the tuning keys that were set, either by a
// changed flag or by the environment.
func resolveOverrides(v *viper.Viper) (*split.Overrides, error) {
	o := &split.Overrides{}
	if v.IsSet(keyEnabled) {
		b := v.GetBool(keyEnabled)
		o.Enabled = &b
	}
	if v.IsSet(keyHostPtr) {
		b := v.GetBool(keyHostPtr)
		o.HostPointerSplit = &b
	}
	if v.IsSet(keyLanes) {
		n := v.GetInt(keyLanes)
		o.LaneCount = &n
	}
	if s := v.GetString(keyMinSize); s != "" {
		size, err := split.ParseByteSize(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", keyMinSize, err)
		}
		o.MinimumSplitSize = &size
	}
	for key, dirs := range map[string][]split.DirectionClass{
		keyMinSizeH2D: {split.HostUSMToDevice, split.HostNonUSMToDevice},
		keyMinSizeD2H: {split.DeviceToHostUSM, split.DeviceToHostNonUSM},
	} {
		s := v.GetString(key)
		if s == "" {
			continue
		}
		size, err := split.ParseByteSize(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		if o.MinSplitSizeByDirection == nil {
			o.MinSplitSizeByDirection = make(map[string]split.ByteSize)
		}
		for _, dir := range dirs {
			o.MinSplitSizeByDirection[dir.String()] = size
		}
	}
	if s := v.GetString(keyEngineMask); s != "" {
		mask, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", keyEngineMask, err)
		}
		m := uint32(mask)
		o.EngineMask = &m
	}
	o.Mode = v.GetString(keyMode)
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}
