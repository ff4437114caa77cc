package hw

import (
	"fmt"
	"sort"

	"github.com/inference-sim/copysplit/split/device"
)

// allocationAlignment keeps allocations from sharing a page.
const allocationAlignment = 64 * 1024

// firstAddress is the base of the simulated address space.
const firstAddress device.Address = 0x1000_0000

type allocation struct {
	base device.Address
	kind device.MemoryKind
	data []byte
}

func (a *allocation) end() device.Address {
	return a.base + device.Address(len(a.data))
}

// memory is a sparse address space of byte-backed allocations.
// Allocations are sorted by base address and never overlap.
type memory struct {
	allocs []*allocation
	next   device.Address
}

func newMemory() *memory {
	return &memory{next: firstAddress}
}

func (m *memory) allocate(kind device.MemoryKind, size uint64) (device.Address, error) {
	if size == 0 {
		return 0, fmt.Errorf("%w: zero-size allocation", device.ErrInvalidAddress)
	}
	base := m.next
	a := &allocation{base: base, kind: kind, data: make([]byte, size)}
	m.allocs = append(m.allocs, a)
	span := (size + allocationAlignment - 1) / allocationAlignment * allocationAlignment
	m.next = base + device.Address(span)
	return base, nil
}

// find returns the allocation containing [addr, addr+size) and the offset of addr.
func (m *memory) find(addr device.Address, size uint64) (*allocation, uint64, error) {
	idx := sort.Search(len(m.allocs), func(i int) bool {
		return m.allocs[i].end() > addr
	})
	if idx == len(m.allocs) || m.allocs[idx].base > addr {
		return nil, 0, fmt.Errorf("%w: %#x not allocated", device.ErrInvalidAddress, uint64(addr))
	}
	a := m.allocs[idx]
	off := uint64(addr - a.base)
	if off+size > uint64(len(a.data)) {
		return nil, 0, fmt.Errorf("%w: [%#x, +%d) crosses allocation end", device.ErrInvalidAddress, uint64(addr), size)
	}
	return a, off, nil
}

func (m *memory) slice(addr device.Address, size uint64) ([]byte, error) {
	a, off, err := m.find(addr, size)
	if err != nil {
		return nil, err
	}
	return a.data[off : off+size], nil
}

func (m *memory) copy(dst, src device.Address, size uint64) {
	d, errD := m.slice(dst, size)
	s, errS := m.slice(src, size)
	if errD != nil || errS != nil {
		return
	}
	copy(d, s)
}

func (m *memory) copyRegion(dst, src device.Address, r device.Region) {
	for row := uint64(0); row < r.Height; row++ {
		m.copy(dst+device.Address(row*r.DstPitch), src+device.Address(row*r.SrcPitch), r.Width)
	}
}

func (m *memory) fill(dst device.Address, pattern []byte, size uint64) {
	d, err := m.slice(dst, size)
	if err != nil || len(pattern) == 0 {
		return
	}
	for i := range d {
		d[i] = pattern[i%len(pattern)]
	}
}
