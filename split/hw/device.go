// Package hw provides a deterministic simulated copy-capable device that
// implements the split/device contracts.
//
// Engines execute their command FIFOs in simulated time. A command starts
// when its engine is free and every event it waits on is signaled; its
// completion is scheduled on a shared heap and retired in (time, priority,
// id) order, so results are bit-for-bit reproducible. Device time only
// advances when the host submits work or waits.
package hw

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/copysplit/split/device"
)

// Config describes the simulated hardware.
type Config struct {
	LinkCopyEngines     int     // engines available for split lanes (ordinals 1..N)
	BandwidthBytesPerNs float64 // per-engine copy bandwidth (1 B/ns = 1 GB/s)
	CommandLatencyNs    int64   // fixed cost of a copy or fill command
	SubmitLatencyNs     int64   // host time consumed by one queue submission
	MaxEventPools       int     // live event pools allowed (0 = unlimited)
}

// DefaultConfig returns a four-lane device with 20 GB/s engines.
func DefaultConfig() Config {
	return Config{
		LinkCopyEngines:     4,
		BandwidthBytesPerNs: 20,
		CommandLatencyNs:    2_000,
		SubmitLatencyNs:     1_000,
	}
}

// Device is a simulated device with one main copy engine (ordinal 0) and
// Config.LinkCopyEngines link copy engines.
//
// Thread-safety: all exported methods are safe for concurrent use; the
// device serializes them internally.
type Device struct {
	mu      sync.Mutex
	cfg     Config
	clock   int64
	engines []*engine
	heap    *completionHeap
	nextID  int64
	mem     *memory
	lost    bool
	lostMsg string

	livePools              int
	failPoolAllocations    int
	failEventCreationAfter int
}

var _ device.Device = (*Device)(nil)

// NewDevice creates a device. Panics if the configuration is unusable.
func NewDevice(cfg Config) *Device {
	if cfg.LinkCopyEngines < 0 {
		panic(fmt.Sprintf("hw: LinkCopyEngines must be >= 0, got %d", cfg.LinkCopyEngines))
	}
	if cfg.BandwidthBytesPerNs <= 0 {
		panic(fmt.Sprintf("hw: BandwidthBytesPerNs must be > 0, got %f", cfg.BandwidthBytesPerNs))
	}
	d := &Device{
		cfg:                    cfg,
		heap:                   newCompletionHeap(),
		mem:                    newMemory(),
		failEventCreationAfter: -1,
	}
	d.engines = make([]*engine, cfg.LinkCopyEngines+1)
	for i := range d.engines {
		d.engines[i] = &engine{ordinal: i}
	}
	return d
}

// Capabilities implements device.Device.
func (d *Device) Capabilities() device.Capabilities {
	links := make([]int, 0, len(d.engines)-1)
	for i := 1; i < len(d.engines); i++ {
		links = append(links, i)
	}
	return device.Capabilities{MainCopyEngine: 0, LinkCopyEngines: links}
}

// CreateCommandList implements device.Device.
func (d *Device) CreateCommandList(ordinal int) (device.CommandList, error) {
	if _, err := d.engineAt(ordinal); err != nil {
		return nil, err
	}
	return &CommandList{dev: d, ordinal: ordinal}, nil
}

// CreateCommandQueue implements device.Device.
func (d *Device) CreateCommandQueue(ordinal int) (device.CommandQueue, error) {
	e, err := d.engineAt(ordinal)
	if err != nil {
		return nil, err
	}
	return &Queue{dev: d, engine: e}, nil
}

func (d *Device) engineAt(ordinal int) (*engine, error) {
	if ordinal < 0 || ordinal >= len(d.engines) {
		return nil, fmt.Errorf("hw: no copy engine with ordinal %d", ordinal)
	}
	return d.engines[ordinal], nil
}

// Classify implements device.Device.
func (d *Device) Classify(addr device.Address, size uint64) (device.MemoryKind, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, _, err := d.mem.find(addr, size)
	if err != nil {
		return 0, err
	}
	return a.kind, nil
}

// AllocDevice allocates device-local memory.
func (d *Device) AllocDevice(size uint64) (device.Address, error) {
	return d.alloc(device.MemoryDevice, size)
}

// AllocHostUSM allocates host memory known to the driver.
func (d *Device) AllocHostUSM(size uint64) (device.Address, error) {
	return d.alloc(device.MemoryHostUSM, size)
}

// AllocHost allocates plain pageable host memory.
func (d *Device) AllocHost(size uint64) (device.Address, error) {
	return d.alloc(device.MemoryHostNonUSM, size)
}

func (d *Device) alloc(kind device.MemoryKind, size uint64) (device.Address, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mem.allocate(kind, size)
}

// Read returns a copy of size bytes at addr.
func (d *Device) Read(addr device.Address, size uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.mem.slice(addr, size)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

// Write stores data at addr from the host.
func (d *Device) Write(addr device.Address, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.mem.slice(addr, uint64(len(data)))
	if err != nil {
		return err
	}
	copy(b, data)
	return nil
}

// Elapsed returns the simulated device time.
func (d *Device) Elapsed() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return time.Duration(d.clock)
}

// EngineStats returns counters for the engine with the given ordinal.
func (d *Device) EngineStats(ordinal int) EngineStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, err := d.engineAt(ordinal)
	if err != nil {
		return EngineStats{Ordinal: ordinal}
	}
	return e.stats()
}

// LiveEventPools returns the number of allocated, not yet destroyed event pools.
func (d *Device) LiveEventPools() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.livePools
}

// Lost reports whether a fatal fault has been detected.
func (d *Device) Lost() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lost
}

// === Fault injection ===

// InjectHang makes the engine stop retiring commands. The device is lost as
// soon as the engine has work to do.
func (d *Device) InjectHang(ordinal int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, err := d.engineAt(ordinal); err == nil {
		e.hung = true
		d.tryStart(e)
	}
}

// FailSubmissions makes the next n submissions on the engine fail.
func (d *Device) FailSubmissions(ordinal, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, err := d.engineAt(ordinal); err == nil {
		e.failSubmissions = n
	}
}

// FailEventPoolAllocations makes the next n event pool allocations fail.
func (d *Device) FailEventPoolAllocations(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failPoolAllocations = n
}

// FailEventCreationAfter lets k more events be created, then fails the
// next creation once.
func (d *Device) FailEventCreationAfter(k int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failEventCreationAfter = k
}

// AllocateEventPool implements device.Device.
func (d *Device) AllocateEventPool(capacity int) (device.EventPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if capacity <= 0 {
		return nil, fmt.Errorf("hw: event pool capacity must be > 0, got %d", capacity)
	}
	if d.failPoolAllocations > 0 {
		d.failPoolAllocations--
		return nil, fmt.Errorf("%w: event pool allocation failed", device.ErrOutOfResources)
	}
	if d.cfg.MaxEventPools > 0 && d.livePools >= d.cfg.MaxEventPools {
		return nil, fmt.Errorf("%w: %d event pools already live", device.ErrOutOfResources, d.livePools)
	}
	d.livePools++
	return &eventPool{dev: d, events: make([]*Event, capacity)}, nil
}

// === Execution ===

// submit enqueues a closed list on the engine. Caller holds d.mu.
func (d *Device) submit(e *engine, cmds []*command) (uint64, error) {
	if d.lost {
		return 0, fmt.Errorf("%w: %s", device.ErrDeviceLost, d.lostMsg)
	}
	if e.failSubmissions > 0 {
		e.failSubmissions--
		return 0, fmt.Errorf("%w: engine %d", device.ErrSubmissionRejected, e.ordinal)
	}
	if len(cmds) == 0 {
		cmds = []*command{{kind: opNop}}
	}
	d.clock += d.cfg.SubmitLatencyNs
	e.submittedTag++
	for i, c := range cmds {
		c.tag = e.submittedTag
		c.last = i == len(cmds)-1
		c.submittedAt = d.clock
		e.pending = append(e.pending, c)
	}
	d.tryStart(e)
	d.drain(d.clock)
	return e.submittedTag, nil
}

// tryStart schedules the engine's head command if it can run. Caller holds d.mu.
func (d *Device) tryStart(e *engine) {
	if e.busy || len(e.pending) == 0 {
		return
	}
	if e.hung {
		if !d.lost {
			d.lost = true
			d.lostMsg = fmt.Sprintf("engine %d hang detected", e.ordinal)
			logrus.Warnf("[t %09d] %s", d.clock, d.lostMsg)
		}
		return
	}
	c := e.pending[0]
	ready := max(e.freeAt, c.submittedAt)
	if c.kind == opWait {
		for _, ev := range c.events {
			if !ev.signaled {
				return
			}
			ready = max(ready, ev.signalTime)
		}
	}
	e.busy = true
	d.nextID++
	d.heap.schedule(&completion{
		time:     ready + d.duration(c),
		priority: opPriority[c.kind],
		id:       d.nextID,
		engine:   e.ordinal,
	})
}

func (d *Device) tryStartAll() {
	for _, e := range d.engines {
		d.tryStart(e)
	}
}

func (d *Device) duration(c *command) int64 {
	n := c.bytes()
	if c.kind != opCopy && c.kind != opRegion && c.kind != opFill {
		return 0
	}
	return d.cfg.CommandLatencyNs + int64(math.Ceil(float64(n)/d.cfg.BandwidthBytesPerNs))
}

// step retires the next scheduled completion. Caller holds d.mu.
func (d *Device) step() {
	c := d.heap.popNext()
	if c == nil {
		return
	}
	d.clock = max(d.clock, c.time)
	e := d.engines[c.engine]
	cmd := e.pending[0]
	e.pending = e.pending[1:]
	switch cmd.kind {
	case opCopy:
		d.mem.copy(cmd.dst, cmd.src, cmd.size)
	case opRegion:
		d.mem.copyRegion(cmd.dst, cmd.src, cmd.region)
	case opFill:
		d.mem.fill(cmd.dst, cmd.pattern, cmd.size)
	case opSignal:
		for _, ev := range cmd.events {
			ev.signaled = true
			ev.signalTime = c.time
		}
	}
	e.bytesMoved += cmd.bytes()
	e.busy = false
	e.freeAt = c.time
	if cmd.last {
		e.completedTag = cmd.tag
	}
	d.tryStartAll()
}

// drain retires every completion due at or before t without moving the clock.
func (d *Device) drain(t int64) {
	for {
		next := d.heap.peek()
		if next == nil || next.time > t {
			return
		}
		d.step()
	}
}

// runUntil advances device time until cond holds, the timeout elapses, or
// no work can make progress. Caller holds d.mu.
func (d *Device) runUntil(cond func() bool, timeout time.Duration) error {
	deadline := int64(math.MaxInt64)
	if timeout != device.WaitForever && d.clock <= math.MaxInt64-int64(timeout) {
		deadline = d.clock + int64(timeout)
	}
	for {
		if cond() {
			return nil
		}
		if d.lost {
			return fmt.Errorf("%w: %s", device.ErrDeviceLost, d.lostMsg)
		}
		next := d.heap.peek()
		if next == nil || next.time > deadline {
			if deadline != math.MaxInt64 {
				d.clock = max(d.clock, deadline)
			}
			return device.ErrNotReady
		}
		d.step()
	}
}
