package hw

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/copysplit/split/device"
)

// newTestDevice returns a device with round numbers: 1 B/ns engines,
// 100 ns command latency, 10 ns submit latency.
func newTestDevice(links int) *Device {
	return NewDevice(Config{
		LinkCopyEngines:     links,
		BandwidthBytesPerNs: 1,
		CommandLatencyNs:    100,
		SubmitLatencyNs:     10,
	})
}

func mustAlloc(t *testing.T, d *Device, kind device.MemoryKind, size uint64) device.Address {
	t.Helper()
	addr, err := d.alloc(kind, size)
	require.NoError(t, err)
	return addr
}

func newEvents(t *testing.T, d *Device, n int) []device.Event {
	t.Helper()
	pool, err := d.AllocateEventPool(n)
	require.NoError(t, err)
	out := make([]device.Event, n)
	for i := range out {
		out[i], err = pool.CreateEvent(i)
		require.NoError(t, err)
	}
	return out
}

// execute encodes one closed list on the engine and submits it.
func execute(t *testing.T, d *Device, ordinal int, encode func(device.CommandList)) (*Queue, uint64) {
	t.Helper()
	list, err := d.CreateCommandList(ordinal)
	require.NoError(t, err)
	q, err := d.CreateCommandQueue(ordinal)
	require.NoError(t, err)
	encode(list)
	require.NoError(t, list.Close())
	tag, err := q.Execute(list)
	require.NoError(t, err)
	return q.(*Queue), tag
}

func TestDevice_Capabilities(t *testing.T) {
	caps := newTestDevice(4).Capabilities()
	assert.Equal(t, 0, caps.MainCopyEngine)
	assert.Equal(t, []int{1, 2, 3, 4}, caps.LinkCopyEngines)
	assert.Empty(t, newTestDevice(0).Capabilities().LinkCopyEngines)
}

func TestNewDevice_PanicsOnBadConfig(t *testing.T) {
	assert.Panics(t, func() { NewDevice(Config{LinkCopyEngines: -1, BandwidthBytesPerNs: 1}) })
	assert.Panics(t, func() { NewDevice(Config{LinkCopyEngines: 1}) })
}

func TestDevice_CopyTiming(t *testing.T) {
	// GIVEN a 1000-byte copy on a 1 B/ns engine
	d := newTestDevice(1)
	src := mustAlloc(t, d, device.MemoryDevice, 1000)
	dst := mustAlloc(t, d, device.MemoryHostUSM, 1000)
	require.NoError(t, d.Write(src, []byte("hello")))

	// WHEN it is submitted and synchronized
	q, tag := execute(t, d, 1, func(l device.CommandList) {
		require.NoError(t, l.AppendMemoryCopy(dst, src, 1000))
	})
	assert.Equal(t, uint64(1), tag)
	assert.Zero(t, q.CompletedTag(), "nothing retires before its time")
	require.NoError(t, q.Synchronize(tag, device.WaitForever))

	// THEN time advanced by submit + latency + bytes/bandwidth
	assert.Equal(t, 10*time.Nanosecond+100*time.Nanosecond+1000*time.Nanosecond, d.Elapsed())
	got, err := d.Read(dst, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
	stats := d.EngineStats(1)
	assert.Equal(t, EngineStats{Ordinal: 1, SubmittedTag: 1, CompletedTag: 1, BytesMoved: 1000}, stats)
}

func TestDevice_EnginesRunConcurrently(t *testing.T) {
	d := newTestDevice(2)
	a := mustAlloc(t, d, device.MemoryDevice, 1000)
	b := mustAlloc(t, d, device.MemoryDevice, 1000)

	q1, t1 := execute(t, d, 1, func(l device.CommandList) { require.NoError(t, l.AppendMemoryCopy(b, a, 1000)) })
	q2, t2 := execute(t, d, 2, func(l device.CommandList) { require.NoError(t, l.AppendMemoryCopy(a, b, 1000)) })
	require.NoError(t, q1.Synchronize(t1, device.WaitForever))
	require.NoError(t, q2.Synchronize(t2, device.WaitForever))

	// Second submission lands 10 ns later and then overlaps the first.
	assert.Equal(t, time.Duration(20+1100), d.Elapsed())
}

func TestDevice_SameEngine_Serializes(t *testing.T) {
	d := newTestDevice(1)
	a := mustAlloc(t, d, device.MemoryDevice, 1000)
	b := mustAlloc(t, d, device.MemoryDevice, 1000)

	execute(t, d, 1, func(l device.CommandList) { require.NoError(t, l.AppendMemoryCopy(b, a, 1000)) })
	q, tag := execute(t, d, 1, func(l device.CommandList) { require.NoError(t, l.AppendMemoryCopy(a, b, 1000)) })
	require.NoError(t, q.Synchronize(tag, device.WaitForever))

	assert.Equal(t, time.Duration(10+2*1100), d.Elapsed())
	assert.Equal(t, uint64(2000), d.EngineStats(1).BytesMoved)
}

func TestDevice_WaitOnEvent_GatesExecution(t *testing.T) {
	// GIVEN a copy queued behind an unsignaled event
	d := newTestDevice(1)
	gate := newEvents(t, d, 1)[0]
	src := mustAlloc(t, d, device.MemoryDevice, 1000)
	dst := mustAlloc(t, d, device.MemoryDevice, 1000)
	q, tag := execute(t, d, 1, func(l device.CommandList) {
		require.NoError(t, l.AppendWaitOnEvents(gate))
		require.NoError(t, l.AppendMemoryCopy(dst, src, 1000))
	})

	// WHEN the host waits with a bound
	err := q.Synchronize(tag, 5*time.Microsecond)

	// THEN the wait expires and the clock moved to the deadline
	assert.True(t, errors.Is(err, device.ErrNotReady), "got %v", err)
	assert.Equal(t, time.Duration(10+5000), d.Elapsed())
	assert.Zero(t, d.EngineStats(1).BytesMoved)

	// AND the copy starts when the host signals
	require.NoError(t, gate.Signal())
	require.NoError(t, q.Synchronize(tag, device.WaitForever))
	assert.Equal(t, time.Duration(10+5000+1100), d.Elapsed())
}

func TestDevice_SignalEvent_CrossEngineDependency(t *testing.T) {
	d := newTestDevice(2)
	ev := newEvents(t, d, 1)[0]
	a := mustAlloc(t, d, device.MemoryDevice, 1000)
	b := mustAlloc(t, d, device.MemoryDevice, 1000)
	c := mustAlloc(t, d, device.MemoryDevice, 1)
	require.NoError(t, d.Write(a, []byte{7}))

	// Engine 2 waits for engine 1's copy before forwarding its first byte.
	q2, t2 := execute(t, d, 2, func(l device.CommandList) {
		require.NoError(t, l.AppendWaitOnEvents(ev))
		require.NoError(t, l.AppendMemoryCopy(c, b, 1))
	})
	execute(t, d, 1, func(l device.CommandList) {
		require.NoError(t, l.AppendMemoryCopy(b, a, 1000))
		require.NoError(t, l.AppendSignalEvent(ev))
	})
	require.NoError(t, q2.Synchronize(t2, device.WaitForever))

	got, err := d.Read(c, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, got, "engine 2 copied engine 1's output")
	assert.True(t, ev.IsSignaled())
}

func TestDevice_FillAndRegion(t *testing.T) {
	d := newTestDevice(1)
	r := device.Region{Width: 2, Height: 3, SrcPitch: 4, DstPitch: 3}
	src := mustAlloc(t, d, device.MemoryDevice, r.Extent(r.SrcPitch))
	dst := mustAlloc(t, d, device.MemoryDevice, r.Extent(r.DstPitch))
	fillDst := mustAlloc(t, d, device.MemoryHostUSM, 7)
	require.NoError(t, d.Write(src, []byte{1, 2, 0, 0, 3, 4, 0, 0, 5, 6}))

	q, tag := execute(t, d, 1, func(l device.CommandList) {
		require.NoError(t, l.AppendMemoryCopyRegion(dst, src, r))
		require.NoError(t, l.AppendMemoryFill(fillDst, []byte{0xa, 0xb}, 7))
	})
	require.NoError(t, q.Synchronize(tag, device.WaitForever))

	got, err := d.Read(dst, r.Extent(r.DstPitch))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 0, 3, 4, 0, 5, 6}, got)
	got, err = d.Read(fillDst, 7)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xa, 0xb, 0xa, 0xb, 0xa, 0xb, 0xa}, got)
	assert.Equal(t, uint64(6+7), d.EngineStats(1).BytesMoved)
}

func TestCommandList_RejectsBadInput(t *testing.T) {
	d := newTestDevice(1)
	other := newTestDevice(1)
	buf := mustAlloc(t, d, device.MemoryDevice, 64)
	foreignEvent := newEvents(t, other, 1)[0]

	list, err := d.CreateCommandList(1)
	require.NoError(t, err)

	assert.True(t, errors.Is(list.AppendMemoryCopy(buf, buf, 65), device.ErrInvalidAddress))
	assert.True(t, errors.Is(list.AppendMemoryCopy(buf, 0x10, 1), device.ErrInvalidAddress))
	assert.True(t, errors.Is(list.AppendMemoryCopyRegion(buf, buf, device.Region{Width: 8, Height: 1, SrcPitch: 4, DstPitch: 8}), device.ErrInvalidAddress))
	assert.Error(t, list.AppendMemoryFill(buf, nil, 8))
	assert.Error(t, list.AppendSignalEvent(foreignEvent))
	assert.NoError(t, list.AppendWaitOnEvents(), "empty wait is a no-op")

	q, err := d.CreateCommandQueue(1)
	require.NoError(t, err)
	_, err = q.Execute(list)
	assert.True(t, errors.Is(err, device.ErrSubmissionRejected), "unclosed list")

	require.NoError(t, list.Close())
	assert.Error(t, list.Close())
	assert.Error(t, list.AppendMemoryCopy(buf, buf, 1), "closed list")

	otherList, err := other.CreateCommandList(1)
	require.NoError(t, err)
	require.NoError(t, otherList.Close())
	_, err = q.Execute(otherList)
	assert.True(t, errors.Is(err, device.ErrSubmissionRejected), "foreign list")

	_, err = d.CreateCommandList(2)
	assert.Error(t, err)
	_, err = d.CreateCommandQueue(-1)
	assert.Error(t, err)
}

func TestDevice_EmptyListRetiresAsNop(t *testing.T) {
	d := newTestDevice(1)
	q, tag := execute(t, d, 1, func(device.CommandList) {})
	require.NoError(t, q.Synchronize(tag, device.WaitForever))
	assert.Equal(t, uint64(1), q.CompletedTag())
}

func TestDevice_FailSubmissions(t *testing.T) {
	d := newTestDevice(1)
	d.FailSubmissions(1, 1)
	list, err := d.CreateCommandList(1)
	require.NoError(t, err)
	require.NoError(t, list.Close())
	q, err := d.CreateCommandQueue(1)
	require.NoError(t, err)

	_, err = q.Execute(list)
	assert.True(t, errors.Is(err, device.ErrSubmissionRejected))
	tag, err := q.Execute(list)
	require.NoError(t, err, "only the next submission fails")
	assert.Equal(t, uint64(1), tag)
}

func TestDevice_InjectHang_LosesDeviceOnceEngineHasWork(t *testing.T) {
	// GIVEN a hung idle engine
	d := newTestDevice(2)
	buf := mustAlloc(t, d, device.MemoryDevice, 64)
	d.InjectHang(1)
	assert.False(t, d.Lost(), "an idle hung engine is not yet detected")

	// WHEN work is submitted to it
	q, tag := execute(t, d, 1, func(l device.CommandList) { require.NoError(t, l.AppendMemoryCopy(buf, buf, 64)) })

	// THEN the device is lost and every wait and submission reports it
	assert.True(t, d.Lost())
	assert.True(t, errors.Is(q.Synchronize(tag, device.WaitForever), device.ErrDeviceLost))
	list, err := d.CreateCommandList(2)
	require.NoError(t, err)
	require.NoError(t, list.Close())
	q2, err := d.CreateCommandQueue(2)
	require.NoError(t, err)
	_, err = q2.Execute(list)
	assert.True(t, errors.Is(err, device.ErrDeviceLost))
}

func TestEventPool_Lifecycle(t *testing.T) {
	d := newTestDevice(0)
	pool, err := d.AllocateEventPool(2)
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Capacity())
	assert.Equal(t, 1, d.LiveEventPools())

	ev, err := pool.CreateEvent(0)
	require.NoError(t, err)
	_, err = pool.CreateEvent(0)
	assert.Error(t, err, "slot in use")
	_, err = pool.CreateEvent(2)
	assert.Error(t, err, "outside pool")

	require.NoError(t, ev.Signal())
	assert.True(t, ev.IsSignaled())
	require.NoError(t, ev.HostSynchronize(0))
	require.NoError(t, ev.Reset())
	assert.False(t, ev.IsSignaled())
	assert.Equal(t, uint64(1), ev.Generation())
	assert.True(t, errors.Is(ev.HostSynchronize(time.Microsecond), device.ErrNotReady))

	require.NoError(t, ev.Destroy())
	assert.Error(t, ev.Destroy())
	_, err = pool.CreateEvent(0)
	assert.NoError(t, err, "destroyed slot is free again")

	require.NoError(t, pool.Destroy())
	assert.Zero(t, d.LiveEventPools())
	assert.Error(t, pool.Destroy())
	assert.Error(t, ev.Signal())
	_, err = pool.CreateEvent(1)
	assert.Error(t, err)
}

func TestDevice_EventFaultInjection(t *testing.T) {
	d := NewDevice(Config{LinkCopyEngines: 1, BandwidthBytesPerNs: 1, MaxEventPools: 1})

	d.FailEventPoolAllocations(1)
	_, err := d.AllocateEventPool(4)
	assert.True(t, errors.Is(err, device.ErrOutOfResources))
	assert.Zero(t, d.LiveEventPools())

	pool, err := d.AllocateEventPool(4)
	require.NoError(t, err)
	_, err = d.AllocateEventPool(4)
	assert.True(t, errors.Is(err, device.ErrOutOfResources), "pool limit")
	_, err = d.AllocateEventPool(0)
	assert.Error(t, err)

	d.FailEventCreationAfter(1)
	_, err = pool.CreateEvent(0)
	require.NoError(t, err)
	_, err = pool.CreateEvent(1)
	assert.True(t, errors.Is(err, device.ErrOutOfResources))
	_, err = pool.CreateEvent(1)
	assert.NoError(t, err, "the fault fires once")
}

func TestDevice_MemoryMap(t *testing.T) {
	d := newTestDevice(0)
	devBuf := mustAlloc(t, d, device.MemoryDevice, 100)
	host := mustAlloc(t, d, device.MemoryHostNonUSM, 100)

	kind, err := d.Classify(devBuf+10, 90)
	require.NoError(t, err)
	assert.Equal(t, device.MemoryDevice, kind)
	kind, err = d.Classify(host, 1)
	require.NoError(t, err)
	assert.Equal(t, device.MemoryHostNonUSM, kind)

	_, err = d.Classify(devBuf+10, 91)
	assert.True(t, errors.Is(err, device.ErrInvalidAddress))
	_, err = d.Classify(devBuf+100, 1)
	assert.True(t, errors.Is(err, device.ErrInvalidAddress), "gap between allocations")
	_, err = d.AllocDevice(0)
	assert.True(t, errors.Is(err, device.ErrInvalidAddress))
	assert.Error(t, d.Write(host+99, []byte{1, 2}))
	_, err = d.Read(0x10, 1)
	assert.Error(t, err)
}

func TestCompletionHeap_Ordering(t *testing.T) {
	h := newCompletionHeap()
	h.schedule(&completion{time: 20, priority: opPriority[opCopy], id: 1})
	h.schedule(&completion{time: 10, priority: opPriority[opCopy], id: 2})
	h.schedule(&completion{time: 10, priority: opPriority[opSignal], id: 3})
	h.schedule(&completion{time: 10, priority: opPriority[opCopy], id: 0})

	var ids []int64
	for c := h.popNext(); c != nil; c = h.popNext() {
		ids = append(ids, c.id)
	}
	// time, then signals before copies, then id
	assert.Equal(t, []int64{3, 0, 2, 1}, ids)
	assert.Nil(t, h.peek())
}
