package workload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/copysplit/split"
	"github.com/inference-sim/copysplit/split/device"
)

func TestGenerate_ExpandsGroups(t *testing.T) {
	spec, err := ParseSpec([]byte(mixedSpec))
	require.NoError(t, err)

	transfers, err := Generate(spec)
	require.NoError(t, err)

	require.Len(t, transfers, 5)
	for i, tr := range transfers {
		assert.Equal(t, i, tr.ID)
	}
	assert.Equal(t, split.DeviceToHostUSM, transfers[0].Direction)
	assert.Equal(t, uint64(8*split.MiB), transfers[1].Size)

	fill := transfers[2]
	assert.Equal(t, split.OpFill, fill.Op)
	assert.Len(t, fill.Pattern, 8)
	assert.Zero(t, fill.Size%8)

	region := transfers[3]
	assert.Equal(t, device.Region{Width: 131072, Height: 64, SrcPitch: 131072, DstPitch: 131072}, region.Region)
	assert.Equal(t, uint64(8*split.MiB), region.Size)

	scratch := transfers[4]
	assert.True(t, scratch.Chain)
	assert.GreaterOrEqual(t, scratch.Size, uint64(4*split.KiB))
	assert.LessOrEqual(t, scratch.Size, uint64(64*split.KiB))
}

func TestGenerate_Deterministic(t *testing.T) {
	spec := &Spec{Seed: 5, Transfers: []GroupSpec{
		{Direction: "d2h-usm", Count: 20, SizeDist: &DistSpec{Type: "exponential", Params: map[string]split.ByteSize{"mean": split.MiB}}},
		{Direction: "h2d-usm", Op: "fill", Count: 3, Size: split.MiB},
	}}

	a, err := Generate(spec)
	require.NoError(t, err)
	b, err := Generate(spec)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	spec.Seed = 6
	c, err := Generate(spec)
	require.NoError(t, err)
	assert.NotEqual(t, a, c, "a different seed draws different sizes")
}

func TestGenerate_RegionPitchAndFillRounding(t *testing.T) {
	spec := &Spec{Transfers: []GroupSpec{
		{Direction: "d2h-usm", Op: "copy-region", Rows: 3, Size: 1000, Pitch: 512},
		{Direction: "d2h-usm", Op: "copy-region", Rows: 3, Size: 1000, Pitch: 16},
		{Direction: "h2d-usm", Op: "fill", Size: 10, Pattern: 4},
		{Direction: "h2d-usm", Op: "fill", Size: 2, Pattern: 4},
	}}
	transfers, err := Generate(spec)
	require.NoError(t, err)

	assert.Equal(t, device.Region{Width: 333, Height: 3, SrcPitch: 512, DstPitch: 512}, transfers[0].Region)
	assert.Equal(t, uint64(999), transfers[0].Size)
	assert.Equal(t, uint64(333), transfers[1].Region.SrcPitch, "pitch never below width")
	assert.Equal(t, uint64(8), transfers[2].Size)
	assert.Equal(t, uint64(4), transfers[3].Size, "at least one pattern repeat")
}

func TestGenerate_InvalidSpec(t *testing.T) {
	_, err := Generate(&Spec{})
	assert.Error(t, err)
}

func TestMemoryKinds(t *testing.T) {
	for _, dir := range []split.DirectionClass{
		split.DeviceToDevice, split.DeviceToHostUSM, split.DeviceToHostNonUSM,
		split.HostUSMToDevice, split.HostNonUSMToDevice, split.HostToHost,
	} {
		src, dst := memoryKinds(dir)
		assert.Equal(t, dir, split.ClassifyDirection(src, dst), "%s", dir)
	}
}
