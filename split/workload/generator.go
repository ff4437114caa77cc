package workload

import (
	"fmt"

	"github.com/inference-sim/copysplit/split"
	"github.com/inference-sim/copysplit/split/device"
)

// defaultPatternBytes is the fill pattern length when a group sets none.
const defaultPatternBytes = 4

// Transfer is one generated transfer, ready to be laid out in memory.
type Transfer struct {
	ID        int
	Group     string
	Direction split.DirectionClass
	Op        split.OperationKind
	Size      uint64        // payload bytes
	Region    device.Region // copy-region only
	Pattern   []byte        // fill only
	Chain     bool
}

// Generate expands a spec into its transfers. Deterministic given the same
// spec: sizes and patterns are drawn from the spec seed's "sizes" subsystem.
func Generate(spec *Spec) ([]Transfer, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workload spec: %w", err)
	}
	rng := NewPartitionedRNG(spec.Seed).ForSubsystem(SubsystemSizes)

	var out []Transfer
	for i := range spec.Transfers {
		g := &spec.Transfers[i]
		dir, _ := split.ParseDirection(g.Direction)
		op, _ := split.ParseOperation(g.Op)

		var sampler SizeSampler = &ConstantSampler{value: uint64(g.Size)}
		if g.SizeDist != nil {
			s, err := NewSizeSampler(*g.SizeDist)
			if err != nil {
				return nil, fmt.Errorf("transfers[%d] size distribution: %w", i, err)
			}
			sampler = s
		}

		count := g.Count
		if count == 0 {
			count = 1
		}
		for n := 0; n < count; n++ {
			t := Transfer{
				ID:        len(out),
				Group:     g.Name,
				Direction: dir,
				Op:        op,
				Size:      sampler.Sample(rng),
				Chain:     g.Chain,
			}
			switch op {
			case split.OpCopyRegion:
				rows := uint64(g.Rows)
				width := max(t.Size/rows, 1)
				pitch := max(uint64(g.Pitch), width)
				t.Region = device.Region{Width: width, Height: rows, SrcPitch: pitch, DstPitch: pitch}
				t.Size = width * rows
			case split.OpFill:
				plen := g.Pattern
				if plen == 0 {
					plen = defaultPatternBytes
				}
				t.Pattern = make([]byte, plen)
				rng.Read(t.Pattern)
				t.Size = max(t.Size/uint64(plen), 1) * uint64(plen)
			}
			out = append(out, t)
		}
	}
	return out, nil
}

// memoryKinds returns the source and destination memory kinds a transfer
// in direction dir is laid out in.
func memoryKinds(dir split.DirectionClass) (src, dst device.MemoryKind) {
	switch dir {
	case split.DeviceToDevice:
		return device.MemoryDevice, device.MemoryDevice
	case split.DeviceToHostUSM:
		return device.MemoryDevice, device.MemoryHostUSM
	case split.DeviceToHostNonUSM:
		return device.MemoryDevice, device.MemoryHostNonUSM
	case split.HostUSMToDevice:
		return device.MemoryHostUSM, device.MemoryDevice
	case split.HostNonUSMToDevice:
		return device.MemoryHostNonUSM, device.MemoryDevice
	default:
		return device.MemoryHostNonUSM, device.MemoryHostNonUSM
	}
}
