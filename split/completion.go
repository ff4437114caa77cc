package split

import (
	"errors"
	"sync"
	"time"

	"github.com/inference-sim/copysplit/split/device"
)

// DispatchState tracks one SubmitSplitCopy call.
type DispatchState int

const (
	StateIdle DispatchState = iota
	StateDispatching
	StateInFlight
	StateCompleted
)

func (s DispatchState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatching:
		return "dispatching"
	case StateInFlight:
		return "in-flight"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Completion is the aggregate handle of one dispatched transfer.
//
// A split transfer is complete once its batch marker is observed signaled,
// or once the batch has been reused by a later dispatch (which implies the
// marker was signaled). A direct transfer is Completed as soon as it was
// appended; Wait still waits for the engine to retire it.
type Completion struct {
	mu       sync.Mutex
	state    DispatchState
	decision Decision
	traceID  string

	// split path
	pool    *SyncEventPool
	ref     BatchRef
	marker  device.Event
	ordinal []int

	// direct path
	lane *EngineLane
	tag  uint64
}

// State polls the transfer without blocking.
func (c *Completion) State() DispatchState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateInFlight && c.observedDone() {
		c.state = StateCompleted
	}
	return c.state
}

// IsComplete reports whether State is StateCompleted.
func (c *Completion) IsComplete() bool {
	return c.State() == StateCompleted
}

// observedDone must be called with c.mu held.
func (c *Completion) observedDone() bool {
	if _, err := c.pool.Lookup(c.ref); errors.Is(err, ErrStaleHandle) {
		return true
	}
	return c.marker.IsSignaled()
}

// Wait blocks until the transfer's work has executed or timeout elapses.
// An expired wait returns ErrNotReady; a hardware fault returns ErrDeviceLost.
func (c *Completion) Wait(timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lane != nil {
		return c.lane.synchronizeTag(c.tag, timeout)
	}
	if c.state == StateCompleted {
		return nil
	}
	if _, err := c.pool.Lookup(c.ref); errors.Is(err, ErrStaleHandle) {
		c.state = StateCompleted
		return nil
	}
	if err := c.marker.HostSynchronize(timeout); err != nil {
		return err
	}
	c.state = StateCompleted
	return nil
}

// Decision is the policy outcome the transfer was dispatched under.
func (c *Completion) Decision() Decision { return c.decision }

// Split reports whether the transfer fanned out across a lane group.
func (c *Completion) Split() bool { return c.decision.Split }

// Engines returns the engine ordinals that carried the transfer's payload.
func (c *Completion) Engines() []int {
	if c.lane != nil {
		return []int{c.lane.Ordinal()}
	}
	return append([]int(nil), c.ordinal...)
}

// Batch returns the event batch handle of a split transfer.
func (c *Completion) Batch() (BatchRef, bool) {
	return c.ref, c.lane == nil
}

// Event returns the event that signals the transfer's completion: the batch
// marker for split transfers, nil for direct ones. It may be used as a wait
// dependency of a later transfer.
func (c *Completion) Event() device.Event {
	if c.lane != nil {
		return nil
	}
	return c.marker
}

// TraceID correlates the completion with its dispatch trace record.
func (c *Completion) TraceID() string { return c.traceID }
