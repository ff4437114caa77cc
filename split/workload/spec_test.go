package workload

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/copysplit/split"
)

const mixedSpec = `
seed: 11
mode: async
transfers:
  - name: readback
    direction: d2h-usm
    count: 2
    size: 8MiB
  - name: upload
    direction: h2d
    op: fill
    size: 8MiB
    pattern_bytes: 8
  - name: tiles
    direction: d2h-usm
    op: copy-region
    rows: 64
    size: 8MiB
  - name: scratch
    direction: d2d
    size_distribution:
      type: uniform
      params:
        min: 4KiB
        max: 64KiB
    chain: true
`

func TestLoadSpec_ParsesAllFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workload.yaml")
	require.NoError(t, os.WriteFile(path, []byte(mixedSpec), 0o644))

	spec, err := LoadSpec(path)
	require.NoError(t, err)
	require.NoError(t, spec.Validate())

	assert.Equal(t, int64(11), spec.Seed)
	assert.Equal(t, "async", spec.Mode)
	require.Len(t, spec.Transfers, 4)
	assert.Equal(t, 8*split.MiB, spec.Transfers[0].Size)
	assert.Equal(t, 8, spec.Transfers[1].Pattern)
	assert.Equal(t, 64, spec.Transfers[2].Rows)
	require.NotNil(t, spec.Transfers[3].SizeDist)
	assert.Equal(t, 64*split.KiB, spec.Transfers[3].SizeDist.Params["max"])
	assert.True(t, spec.Transfers[3].Chain)
}

func TestParseSpec_RejectsUnknownKeys(t *testing.T) {
	_, err := ParseSpec([]byte("seed: 1\ntransfers:\n  - direction: d2d\n    sise: 1MiB\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sise")
}

func TestLoadSpec_MissingFile(t *testing.T) {
	_, err := LoadSpec(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSpec_Validate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		group   string
		wantMsg string
	}{
		{"unknown direction", "direction: sideways\n    size: 1MiB", "unknown direction"},
		{"unknown op", "direction: d2d\n    op: move\n    size: 1MiB", "unknown operation"},
		{"no size", "direction: d2d", "size or size_distribution required"},
		{"both sizes", "direction: d2d\n    size: 1MiB\n    size_distribution: {type: constant, params: {value: 1MiB}}", "mutually exclusive"},
		{"bad distribution", "direction: d2d\n    size_distribution: {type: zipf}", "unknown distribution type"},
		{"region without rows", "direction: d2h-usm\n    op: copy-region\n    size: 1MiB", "rows >= 1"},
		{"rows on copy", "direction: d2h-usm\n    rows: 4\n    size: 1MiB", "only apply to copy-region"},
		{"pattern on copy", "direction: d2h-usm\n    pattern_bytes: 4\n    size: 1MiB", "pattern_bytes"},
		{"negative count", "direction: d2d\n    count: -1\n    size: 1MiB", "count must be non-negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := ParseSpec([]byte("transfers:\n  - " + tt.group + "\n"))
			require.NoError(t, err)
			err = spec.Validate()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantMsg), "error %q lacks %q", err, tt.wantMsg)
		})
	}
}

func TestSpec_Validate_ModeAndEmpty(t *testing.T) {
	assert.Error(t, (&Spec{}).Validate(), "no transfers")
	spec := &Spec{Mode: "later", Transfers: []GroupSpec{{Direction: "d2d", Size: 1}}}
	assert.Error(t, spec.Validate())
}
