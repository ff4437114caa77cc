// Package device defines the collaborator contracts the split subsystem
// consumes: command encoding, submission queues, synchronization events and
// the copy-engine capability descriptor.
//
// This package has no dependencies on split/ or split/hw/. Backends (the
// simulated device in split/hw, or a real driver binding) implement these
// interfaces; split/ only ever talks to them through this package.
package device

import (
	"errors"
	"math"
	"time"
)

// Address is a virtual address in the device's unified address space.
// Address 0 is never a valid allocation.
type Address uint64

// WaitForever disables the timeout of a host wait.
const WaitForever = time.Duration(math.MaxInt64)

var (
	// ErrDeviceLost reports a fatal hardware fault. Operations that return it
	// must not be retried.
	ErrDeviceLost = errors.New("device lost")
	// ErrNotReady reports that a wait expired before its condition was met.
	ErrNotReady = errors.New("not ready")
	// ErrOutOfResources reports that backing memory for an object could not be allocated.
	ErrOutOfResources = errors.New("out of device resources")
	// ErrInvalidAddress reports an address range outside any allocation.
	ErrInvalidAddress = errors.New("invalid address range")
	// ErrSubmissionRejected reports that a queue refused a command list.
	ErrSubmissionRejected = errors.New("submission rejected")
)

// MemoryKind classifies where an address range lives.
type MemoryKind int

const (
	MemoryDevice     MemoryKind = iota // device-local allocation
	MemoryHostUSM                      // host allocation registered with the driver
	MemoryHostNonUSM                   // plain pageable host memory
)

func (k MemoryKind) String() string {
	switch k {
	case MemoryDevice:
		return "device"
	case MemoryHostUSM:
		return "host-usm"
	case MemoryHostNonUSM:
		return "host"
	default:
		return "unknown"
	}
}

// Region describes a 2D copy: Height rows of Width bytes, with independent
// row pitches on each side.
type Region struct {
	Width    uint64
	Height   uint64
	SrcPitch uint64
	DstPitch uint64
}

// Extent returns the number of bytes the region spans with the given pitch.
func (r Region) Extent(pitch uint64) uint64 {
	if r.Height == 0 {
		return 0
	}
	return (r.Height-1)*pitch + r.Width
}

// Event is a synchronization object that can be signaled by a queue or by the host.
type Event interface {
	// Signal marks the event signaled from the host.
	Signal() error
	// Reset clears the signaled state and starts a new generation.
	Reset() error
	// IsSignaled queries the current state without waiting.
	IsSignaled() bool
	// HostSynchronize blocks until the event is signaled or the timeout
	// elapses (ErrNotReady). A hardware fault yields ErrDeviceLost.
	HostSynchronize(timeout time.Duration) error
	// Generation increments on every Reset.
	Generation() uint64
	// Destroy returns the event's slot to its pool.
	Destroy() error
}

// EventPool is a fixed-capacity block of event backing memory.
type EventPool interface {
	Capacity() int
	CreateEvent(index int) (Event, error)
	Destroy() error
}

// CommandList encodes operations for later execution on a queue.
// A closed list must be Reset before it can be encoded again.
type CommandList interface {
	AppendMemoryCopy(dst, src Address, size uint64) error
	AppendMemoryCopyRegion(dst, src Address, region Region) error
	AppendMemoryFill(dst Address, pattern []byte, size uint64) error
	AppendWaitOnEvents(events ...Event) error
	AppendSignalEvent(event Event) error
	Close() error
	Reset() error
}

// CommandQueue submits closed command lists to one hardware engine.
type CommandQueue interface {
	// Ordinal is the engine this queue feeds.
	Ordinal() int
	// Execute submits the list and returns the tag its completion will report.
	Execute(list CommandList) (uint64, error)
	// CompletedTag is the hardware-reported tag of the last finished submission.
	CompletedTag() uint64
	// Synchronize waits until CompletedTag reaches tag.
	Synchronize(tag uint64, timeout time.Duration) error
}

// Capabilities describes the independently schedulable copy engines.
type Capabilities struct {
	MainCopyEngine  int   // engine used by the caller's own command lists
	LinkCopyEngines []int // engines available for split lanes, in ordinal order
}

// Device is the backend the split subsystem is built on.
type Device interface {
	Capabilities() Capabilities
	CreateCommandList(ordinal int) (CommandList, error)
	CreateCommandQueue(ordinal int) (CommandQueue, error)
	AllocateEventPool(capacity int) (EventPool, error)
	// Classify reports the memory kind of [addr, addr+size).
	Classify(addr Address, size uint64) (MemoryKind, error)
}
