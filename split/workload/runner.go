package workload

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/copysplit/split"
	"github.com/inference-sim/copysplit/split/device"
)

// Memory is the host view of a device's memory. *hw.Device satisfies it.
type Memory interface {
	AllocDevice(size uint64) (device.Address, error)
	AllocHostUSM(size uint64) (device.Address, error)
	AllocHost(size uint64) (device.Address, error)
	Read(addr device.Address, size uint64) ([]byte, error)
	Write(addr device.Address, data []byte) error
	AllocateEventPool(capacity int) (device.EventPool, error)
}

// RunOptions controls Run.
type RunOptions struct {
	Verify      bool          // compare every destination with its expected content
	WaitTimeout time.Duration // bound on the final synchronization
}

// Mismatch describes a destination whose content differs from the expected bytes.
type Mismatch struct {
	TransferID int
	Offset     uint64 // first differing byte
}

// Result summarizes a run.
type Result struct {
	Transfers   int
	Split       int
	Bytes       uint64
	Mismatches  []Mismatch
	Digest      [sha256.Size]byte // hash of every destination payload, in transfer order
	Completions []*split.Completion
}

type laidOut struct {
	t      Transfer
	src    device.Address
	dst    device.Address
	srcBuf []byte
	signal device.Event
}

// Run lays out every transfer in mem, fills sources from rng, dispatches
// them in order and waits for all of them.
func Run(d *split.Dispatcher, mem Memory, transfers []Transfer, rng *rand.Rand, opts RunOptions) (*Result, error) {
	if len(transfers) == 0 {
		return &Result{}, nil
	}
	pool, err := mem.AllocateEventPool(len(transfers))
	if err != nil {
		return nil, fmt.Errorf("allocating completion events: %w", err)
	}
	defer func() {
		if err := pool.Destroy(); err != nil {
			logrus.Warnf("releasing completion events: %v", err)
		}
	}()

	res := &Result{}
	items := make([]*laidOut, 0, len(transfers))
	var prev *laidOut
	for i, t := range transfers {
		item, err := layOut(mem, t, rng)
		if err != nil {
			return nil, fmt.Errorf("transfer %d: %w", t.ID, err)
		}
		if item.signal, err = pool.CreateEvent(i); err != nil {
			return nil, fmt.Errorf("transfer %d: completion event: %w", t.ID, err)
		}
		spec := split.TransferSpec{
			Op:          t.Op,
			Dst:         item.dst,
			Src:         item.src,
			Size:        t.Size,
			Region:      t.Region,
			Pattern:     t.Pattern,
			SignalEvent: item.signal,
		}
		if t.Chain && prev != nil {
			spec.WaitEvents = []device.Event{prev.signal}
		}
		comp, err := d.Submit(spec)
		if err != nil {
			return nil, fmt.Errorf("transfer %d (%s %s %d bytes): %w", t.ID, t.Direction, t.Op, t.Size, err)
		}
		res.Transfers++
		res.Bytes += t.Size
		if comp.Split() {
			res.Split++
		}
		res.Completions = append(res.Completions, comp)
		items = append(items, item)
		prev = item
	}

	timeout := opts.WaitTimeout
	if timeout == 0 {
		timeout = device.WaitForever
	}
	for _, item := range items {
		if err := item.signal.HostSynchronize(timeout); err != nil {
			return nil, fmt.Errorf("transfer %d: waiting for completion: %w", item.t.ID, err)
		}
	}

	h := sha256.New()
	for _, item := range items {
		got, err := payload(mem, item.dst, item.t)
		if err != nil {
			return nil, err
		}
		h.Write(got)
		if !opts.Verify {
			continue
		}
		want := expected(item)
		if off, ok := firstDiff(got, want); !ok {
			res.Mismatches = append(res.Mismatches, Mismatch{TransferID: item.t.ID, Offset: off})
		}
	}
	copy(res.Digest[:], h.Sum(nil))
	return res, nil
}

func layOut(mem Memory, t Transfer, rng *rand.Rand) (*laidOut, error) {
	srcKind, dstKind := memoryKinds(t.Direction)
	extent := t.Size
	if t.Op == split.OpCopyRegion {
		extent = t.Region.Extent(t.Region.SrcPitch)
	}
	item := &laidOut{t: t}
	var err error
	if item.dst, err = alloc(mem, dstKind, extent); err != nil {
		return nil, err
	}
	if t.Op == split.OpFill {
		return item, nil
	}
	if item.src, err = alloc(mem, srcKind, extent); err != nil {
		return nil, err
	}
	item.srcBuf = make([]byte, extent)
	rng.Read(item.srcBuf)
	if err := mem.Write(item.src, item.srcBuf); err != nil {
		return nil, err
	}
	return item, nil
}

func alloc(mem Memory, kind device.MemoryKind, size uint64) (device.Address, error) {
	switch kind {
	case device.MemoryDevice:
		return mem.AllocDevice(size)
	case device.MemoryHostUSM:
		return mem.AllocHostUSM(size)
	default:
		return mem.AllocHost(size)
	}
}

// payload reads the bytes a transfer wrote: the rows of a region, the whole
// range otherwise.
func payload(mem Memory, dst device.Address, t Transfer) ([]byte, error) {
	if t.Op != split.OpCopyRegion {
		return mem.Read(dst, t.Size)
	}
	r := t.Region
	out := make([]byte, 0, t.Size)
	for row := uint64(0); row < r.Height; row++ {
		b, err := mem.Read(dst+device.Address(row*r.DstPitch), r.Width)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

func expected(item *laidOut) []byte {
	t := item.t
	switch t.Op {
	case split.OpFill:
		return bytes.Repeat(t.Pattern, int(t.Size)/len(t.Pattern))
	case split.OpCopyRegion:
		r := t.Region
		out := make([]byte, 0, t.Size)
		for row := uint64(0); row < r.Height; row++ {
			off := row * r.SrcPitch
			out = append(out, item.srcBuf[off:off+r.Width]...)
		}
		return out
	default:
		return item.srcBuf[:t.Size]
	}
}

// firstDiff returns the offset of the first differing byte, or ok=true if
// the slices are equal.
func firstDiff(got, want []byte) (uint64, bool) {
	if bytes.Equal(got, want) {
		return 0, true
	}
	n := min(len(got), len(want))
	for i := 0; i < n; i++ {
		if got[i] != want[i] {
			return uint64(i), false
		}
	}
	return uint64(n), false
}
