package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/copysplit/split"
	"github.com/inference-sim/copysplit/split/hw"
)

const defaultsPath = "../defaults.yaml"

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults_ShippedProfiles(t *testing.T) {
	// GIVEN the shipped defaults file
	d, err := loadDefaults(defaultsPath)
	require.NoError(t, err)

	// THEN every profile builds a valid split configuration
	assert.Equal(t, []string{"generic-4", "main-only", "single-link", "wide-8"}, d.ProfileNames())
	for _, name := range d.ProfileNames() {
		p, err := d.Profile(name)
		require.NoError(t, err)
		_, err = p.SplitConfig()
		assert.NoError(t, err, name)
	}

	generic, err := d.Profile("generic-4")
	require.NoError(t, err)
	assert.Equal(t, hw.Config{
		LinkCopyEngines:     4,
		BandwidthBytesPerNs: 20,
		CommandLatencyNs:    2000,
		SubmitLatencyNs:     1000,
	}, generic.HardwareConfig())

	wide, err := d.Profile("wide-8")
	require.NoError(t, err)
	cfg, err := wide.SplitConfig()
	require.NoError(t, err)
	assert.Equal(t, 8*uint64(split.MiB), cfg.MinimumSplitSize)
	assert.True(t, cfg.Enabled, "unset fields keep their defaults")

	_, err = d.Profile("quantum")
	assert.ErrorContains(t, err, "generic-4")
}

func TestLoadDefaults_Rejects(t *testing.T) {
	valid := `
version: "1"
profiles:
  p:
    link_copy_engines: 2
    bandwidth_gbps: 10
    command_latency: 1us
    submit_latency: 1us
`
	_, err := loadDefaults(writeTempFile(t, "ok.yaml", valid))
	require.NoError(t, err)

	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", valid + "    color: blue\n"},
		{"missing version", "profiles:\n  p:\n    link_copy_engines: 2\n    bandwidth_gbps: 10\n"},
		{"no profiles", "version: \"1\"\nprofiles: {}\n"},
		{"too many engines", "version: \"1\"\nprofiles:\n  p:\n    link_copy_engines: 64\n    bandwidth_gbps: 10\n"},
		{"zero bandwidth", "version: \"1\"\nprofiles:\n  p:\n    link_copy_engines: 2\n"},
		{"negative latency", "version: \"1\"\nprofiles:\n  p:\n    bandwidth_gbps: 1\n    submit_latency: -1us\n"},
		{"bad split mode", "version: \"1\"\nprofiles:\n  p:\n    bandwidth_gbps: 1\n    split:\n      mode: someday\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadDefaults(writeTempFile(t, "defaults.yaml", tt.yaml))
			assert.Error(t, err)
		})
	}

	_, err = loadDefaults(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDeviceProfile_HardwareConfig_ConvertsUnits(t *testing.T) {
	p := DeviceProfile{LinkCopyEngines: 2, BandwidthGBps: 12.5, CommandLatency: 3 * time.Microsecond, SubmitLatency: 500 * time.Nanosecond, MaxEventPools: 4}
	assert.Equal(t, hw.Config{
		LinkCopyEngines:     2,
		BandwidthBytesPerNs: 12.5,
		CommandLatencyNs:    3000,
		SubmitLatencyNs:     500,
		MaxEventPools:       4,
	}, p.HardwareConfig())
}
