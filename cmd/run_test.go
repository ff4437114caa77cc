package cmd

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/copysplit/split"
	"github.com/inference-sim/copysplit/split/trace"
	"github.com/inference-sim/copysplit/split/workload"
)

const benchWorkload = `
seed: 3
transfers:
  - name: readback
    direction: d2h-usm
    count: 4
    size: 16MiB
  - name: upload
    direction: h2d
    size: 16MiB
  - name: small
    direction: d2h-usm
    count: 3
    size: 64KiB
`

func loadProfile(t *testing.T, name string) (DeviceProfile, split.Config) {
	t.Helper()
	d, err := loadDefaults(defaultsPath)
	require.NoError(t, err)
	p, err := d.Profile(name)
	require.NoError(t, err)
	cfg, err := p.SplitConfig()
	require.NoError(t, err)
	return p, cfg
}

func parseWorkload(t *testing.T, yaml string) *workload.Spec {
	t.Helper()
	spec, err := workload.ParseSpec([]byte(yaml))
	require.NoError(t, err)
	return spec
}

func TestRunWorkload_ReportsMetricsTraceAndPrometheus(t *testing.T) {
	// GIVEN the generic profile with tracing and a Prometheus registry
	p, cfg := loadProfile(t, "generic-4")
	reg := prometheus.NewRegistry()

	// WHEN the workload runs
	r, err := runWorkload(p, cfg, parseWorkload(t, benchWorkload), runOptions{
		Verify:     true,
		TraceLevel: trace.TraceLevelLanes,
		Registerer: reg,
	})
	require.NoError(t, err)

	// THEN large transfers split, small ones do not, and content is correct
	assert.Empty(t, r.Result.Mismatches)
	assert.Equal(t, 8, r.Result.Transfers)
	assert.Equal(t, 5, r.Metrics.Splits)
	assert.Equal(t, 3, r.Metrics.Direct)
	assert.Empty(t, r.Degraded)

	summary := trace.Summarize(r.Trace)
	assert.Equal(t, 8, summary.TotalDecisions)
	assert.Equal(t, uint64(4*16<<20/2), summary.BytesPerEngine[3], "read lanes share the readback evenly")
	assert.Equal(t, uint64(8<<20), summary.BytesPerEngine[1])

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "copysplit_dispatches_total")

	var out bytes.Buffer
	printReport(&out, r)
	assert.Contains(t, out.String(), "=== Split Dispatch Metrics ===")
	assert.Contains(t, out.String(), "=== Dispatch Trace ===")
	assert.Contains(t, out.String(), "Content Digest")
}

func TestRunWorkload_SpecModeOverridesConfig(t *testing.T) {
	p, cfg := loadProfile(t, "generic-4")
	spec := parseWorkload(t, benchWorkload)
	spec.Mode = "sync"

	r, err := runWorkload(p, cfg, spec, runOptions{Verify: true})
	require.NoError(t, err)
	assert.Empty(t, r.Result.Mismatches)

	spec.Mode = "whenever"
	_, err = runWorkload(p, cfg, spec, runOptions{})
	assert.Error(t, err)
}

func TestRunWorkload_DegradedProfileStillCorrect(t *testing.T) {
	for _, name := range []string{"single-link", "main-only"} {
		t.Run(name, func(t *testing.T) {
			p, cfg := loadProfile(t, name)
			r, err := runWorkload(p, cfg, parseWorkload(t, benchWorkload), runOptions{Verify: true})
			require.NoError(t, err)
			assert.Empty(t, r.Result.Mismatches)
			assert.Zero(t, r.Metrics.Splits)
			assert.NotEmpty(t, r.Degraded)
		})
	}
}

func TestCompareSplit_SameContentFasterWithSplitting(t *testing.T) {
	// GIVEN a readback-heavy workload
	p, cfg := loadProfile(t, "generic-4")

	// WHEN it runs with splitting on and off
	on, off, err := compareSplit(p, cfg, parseWorkload(t, benchWorkload))
	require.NoError(t, err)

	// THEN the destinations match and splitting finished sooner
	assert.Equal(t, on.Result.Digest, off.Result.Digest)
	assert.Equal(t, 5, on.Result.Split)
	assert.Zero(t, off.Result.Split)
	assert.Less(t, on.Elapsed, off.Elapsed)

	var out bytes.Buffer
	printComparison(&out, on, off)
	assert.Contains(t, out.String(), "Speedup:")
	assert.Contains(t, out.String(), "5/8")
}

func TestClassifyTransfer(t *testing.T) {
	tests := []struct {
		profile   string
		dir       split.DirectionClass
		size      uint64
		wantSplit bool
		wantLanes []int
		reason    string
	}{
		{"generic-4", split.DeviceToHostUSM, 8 << 20, true, []int{3, 4}, split.ReasonSplit},
		{"generic-4", split.HostNonUSMToDevice, 8 << 20, true, []int{1, 2}, split.ReasonSplit},
		{"generic-4", split.DeviceToHostUSM, 1 << 20, false, []int{0}, split.ReasonBelowThreshold},
		{"generic-4", split.DeviceToDevice, 1 << 30, false, []int{0}, split.ReasonDeviceToDevice},
		{"wide-8", split.DeviceToHostUSM, 4 << 20, false, []int{0}, split.ReasonBelowThreshold},
		{"wide-8", split.DeviceToHostUSM, 8 << 20, true, []int{5, 6, 7, 8}, split.ReasonSplit},
		{"single-link", split.DeviceToHostUSM, 8 << 20, false, []int{0}, split.ReasonGroupUnavailable},
		{"main-only", split.HostUSMToDevice, 8 << 20, false, []int{0}, split.ReasonGroupUnavailable},
	}
	for _, tt := range tests {
		p, cfg := loadProfile(t, tt.profile)
		decision, lanes, err := classifyTransfer(p, cfg, tt.dir, tt.size)
		require.NoError(t, err)
		assert.Equal(t, tt.wantSplit, decision.Split, "%s %s", tt.profile, tt.dir)
		assert.Equal(t, tt.wantLanes, lanes, "%s %s", tt.profile, tt.dir)
		assert.Equal(t, tt.reason, decision.Reason, "%s %s", tt.profile, tt.dir)
	}
}
