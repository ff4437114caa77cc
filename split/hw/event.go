package hw

import (
	"errors"
	"fmt"
	"time"

	"github.com/inference-sim/copysplit/split/device"
)

var errPoolDestroyed = errors.New("hw: event pool destroyed")

// Event is a simulated synchronization object backed by an event pool slot.
type Event struct {
	dev        *Device
	pool       *eventPool
	index      int
	signaled   bool
	signalTime int64
	generation uint64
}

var _ device.Event = (*Event)(nil)

// Signal implements device.Event.
func (e *Event) Signal() error {
	e.dev.mu.Lock()
	defer e.dev.mu.Unlock()
	if e.pool.destroyed {
		return errPoolDestroyed
	}
	e.signaled = true
	e.signalTime = e.dev.clock
	e.dev.tryStartAll()
	return nil
}

// Reset implements device.Event.
func (e *Event) Reset() error {
	e.dev.mu.Lock()
	defer e.dev.mu.Unlock()
	if e.pool.destroyed {
		return errPoolDestroyed
	}
	e.signaled = false
	e.signalTime = 0
	e.generation++
	return nil
}

// IsSignaled implements device.Event. Work due by the current device time
// is retired first; the clock does not move.
func (e *Event) IsSignaled() bool {
	e.dev.mu.Lock()
	defer e.dev.mu.Unlock()
	e.dev.drain(e.dev.clock)
	return e.signaled
}

// HostSynchronize implements device.Event.
func (e *Event) HostSynchronize(timeout time.Duration) error {
	e.dev.mu.Lock()
	defer e.dev.mu.Unlock()
	return e.dev.runUntil(func() bool { return e.signaled }, timeout)
}

// Generation implements device.Event.
func (e *Event) Generation() uint64 {
	e.dev.mu.Lock()
	defer e.dev.mu.Unlock()
	return e.generation
}

// Destroy implements device.Event.
func (e *Event) Destroy() error {
	e.dev.mu.Lock()
	defer e.dev.mu.Unlock()
	if e.pool.destroyed {
		return errPoolDestroyed
	}
	if e.pool.events[e.index] != e {
		return fmt.Errorf("hw: event slot %d already released", e.index)
	}
	e.pool.events[e.index] = nil
	return nil
}

type eventPool struct {
	dev       *Device
	events    []*Event
	destroyed bool
}

var _ device.EventPool = (*eventPool)(nil)

func (p *eventPool) Capacity() int {
	return len(p.events)
}

func (p *eventPool) CreateEvent(index int) (device.Event, error) {
	d := p.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if p.destroyed {
		return nil, errPoolDestroyed
	}
	if index < 0 || index >= len(p.events) {
		return nil, fmt.Errorf("hw: event index %d outside pool of %d", index, len(p.events))
	}
	if p.events[index] != nil {
		return nil, fmt.Errorf("hw: event slot %d already in use", index)
	}
	if d.failEventCreationAfter == 0 {
		d.failEventCreationAfter = -1
		return nil, fmt.Errorf("%w: event creation failed", device.ErrOutOfResources)
	}
	if d.failEventCreationAfter > 0 {
		d.failEventCreationAfter--
	}
	ev := &Event{dev: d, pool: p, index: index}
	p.events[index] = ev
	return ev, nil
}

func (p *eventPool) Destroy() error {
	d := p.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if p.destroyed {
		return errPoolDestroyed
	}
	p.destroyed = true
	d.livePools--
	return nil
}
