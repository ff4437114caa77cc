// Package testutil provides shared test infrastructure for the split
// packages: simulated devices, memory layout and content assertions.
package testutil

import (
	"testing"

	"github.com/inference-sim/copysplit/split/device"
	"github.com/inference-sim/copysplit/split/hw"
)

// NewDevice returns a default simulated device with the given number of
// link copy engines.
func NewDevice(t testing.TB, links int) *hw.Device {
	t.Helper()
	cfg := hw.DefaultConfig()
	cfg.LinkCopyEngines = links
	return hw.NewDevice(cfg)
}

// Pattern returns n deterministic, non-repeating-looking bytes.
func Pattern(n int, seed byte) []byte {
	out := make([]byte, n)
	x := uint32(seed) + 1
	for i := range out {
		x = x*1664525 + 1013904223
		out[i] = byte(x >> 24)
	}
	return out
}

// Alloc allocates size bytes of the given kind, failing the test on error.
func Alloc(t testing.TB, dev *hw.Device, kind device.MemoryKind, size uint64) device.Address {
	t.Helper()
	var (
		addr device.Address
		err  error
	)
	switch kind {
	case device.MemoryDevice:
		addr, err = dev.AllocDevice(size)
	case device.MemoryHostUSM:
		addr, err = dev.AllocHostUSM(size)
	default:
		addr, err = dev.AllocHost(size)
	}
	if err != nil {
		t.Fatalf("allocating %d bytes of %s memory: %v", size, kind, err)
	}
	return addr
}

// AllocFilled allocates memory and writes Pattern(size, seed) into it.
func AllocFilled(t testing.TB, dev *hw.Device, kind device.MemoryKind, size uint64, seed byte) (device.Address, []byte) {
	t.Helper()
	addr := Alloc(t, dev, kind, size)
	data := Pattern(int(size), seed)
	if err := dev.Write(addr, data); err != nil {
		t.Fatalf("writing %d bytes: %v", size, err)
	}
	return addr, data
}

// Events creates n host-controlled events from a dedicated event pool.
func Events(t testing.TB, dev *hw.Device, n int) []device.Event {
	t.Helper()
	pool, err := dev.AllocateEventPool(n)
	if err != nil {
		t.Fatalf("allocating event pool: %v", err)
	}
	out := make([]device.Event, n)
	for i := range out {
		if out[i], err = pool.CreateEvent(i); err != nil {
			t.Fatalf("creating event %d: %v", i, err)
		}
	}
	return out
}

// AssertMemory reads size bytes at addr and compares them with want,
// reporting the first differing offset.
func AssertMemory(t testing.TB, dev *hw.Device, addr device.Address, want []byte) {
	t.Helper()
	got, err := dev.Read(addr, uint64(len(want)))
	if err != nil {
		t.Fatalf("reading %d bytes: %v", len(want), err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("content differs at byte %d of %d: got %#02x, want %#02x", i, len(want), got[i], want[i])
			return
		}
	}
}
