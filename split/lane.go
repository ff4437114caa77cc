package split

import (
	"errors"
	"fmt"
	"time"

	"github.com/inference-sim/copysplit/split/device"
)

// ControlLaneIndex identifies the caller's issuing lane in errors and traces.
const ControlLaneIndex = -1

// EngineLane is one independent submission channel: a command list and a
// queue bound to one copy engine, plus the number of submissions made so far.
//
// Every Append* call is one submission. The completion counter increases
// only when the queue accepted the submission.
//
// Thread-safety: NOT thread-safe. The Dispatcher serializes access.
type EngineLane struct {
	index       int
	ordinal     int
	list        device.CommandList
	queue       device.CommandQueue
	counter     uint64
	lastTag     uint64
	synchronous bool
}

// NewEngineLane creates the command list and queue for one engine.
// A synchronous lane waits for each submission before returning.
func NewEngineLane(dev device.Device, index, ordinal int, synchronous bool) (*EngineLane, error) {
	list, err := dev.CreateCommandList(ordinal)
	if err != nil {
		return nil, fmt.Errorf("%w: command list for engine %d: %w", ErrResourceExhausted, ordinal, err)
	}
	queue, err := dev.CreateCommandQueue(ordinal)
	if err != nil {
		return nil, fmt.Errorf("%w: queue for engine %d: %w", ErrResourceExhausted, ordinal, err)
	}
	return &EngineLane{
		index:       index,
		ordinal:     ordinal,
		list:        list,
		queue:       queue,
		synchronous: synchronous,
	}, nil
}

// Index is the lane's position in the registry (ControlLaneIndex for the issuing lane).
func (l *EngineLane) Index() int { return l.index }

// Ordinal is the copy engine the lane submits to.
func (l *EngineLane) Ordinal() int { return l.ordinal }

// Synchronous reports whether appends wait for completion.
func (l *EngineLane) Synchronous() bool { return l.synchronous }

// CompletionCounter returns the number of accepted submissions.
func (l *EngineLane) CompletionCounter() uint64 { return l.counter }

// pendingError is returned by a synchronous lane whose submission was
// accepted but did not finish within the wait. The work stays queued.
type pendingError struct{ err error }

func (e *pendingError) Error() string { return "submitted, still pending: " + e.err.Error() }
func (e *pendingError) Unwrap() error { return e.err }

// isPending reports whether err came from the wait after an accepted
// submission. errors.Unwrap(err) is the wait's own error.
func isPending(err error) bool {
	var pe *pendingError
	return errors.As(err, &pe)
}

// AppendCopy submits waits → copy → signal. signal may be nil.
func (l *EngineLane) AppendCopy(dst, src device.Address, size uint64, waits []device.Event, signal device.Event) error {
	return l.submit(waits, func(cl device.CommandList) error {
		return cl.AppendMemoryCopy(dst, src, size)
	}, signal)
}

// AppendCopyRegion submits waits → region copy → signal.
func (l *EngineLane) AppendCopyRegion(dst, src device.Address, region device.Region, waits []device.Event, signal device.Event) error {
	return l.submit(waits, func(cl device.CommandList) error {
		return cl.AppendMemoryCopyRegion(dst, src, region)
	}, signal)
}

// AppendFill submits waits → fill → signal.
func (l *EngineLane) AppendFill(dst device.Address, pattern []byte, size uint64, waits []device.Event, signal device.Event) error {
	return l.submit(waits, func(cl device.CommandList) error {
		return cl.AppendMemoryFill(dst, pattern, size)
	}, signal)
}

// AppendWaitOn submits a wait on every event.
func (l *EngineLane) AppendWaitOn(events ...device.Event) error {
	return l.submit(events, nil)
}

// AppendSignal submits a signal of every event, in order.
func (l *EngineLane) AppendSignal(events ...device.Event) error {
	return l.submit(nil, nil, events...)
}

// AppendBarrier submits a wait on waits followed by signals, as one submission.
func (l *EngineLane) AppendBarrier(waits []device.Event, signals ...device.Event) error {
	return l.submit(waits, nil, signals...)
}

// Synchronize waits until every submission made so far has completed.
// A hardware fault is returned as ErrDeviceLost and must not be retried.
func (l *EngineLane) Synchronize(timeout time.Duration) error {
	return l.synchronizeTag(l.lastTag, timeout)
}

func (l *EngineLane) synchronizeTag(tag uint64, timeout time.Duration) error {
	if tag == 0 {
		return nil
	}
	return l.queue.Synchronize(tag, timeout)
}

// completed polls the hardware-reported tag without waiting.
func (l *EngineLane) completed(tag uint64) bool {
	return l.queue.CompletedTag() >= tag
}

func (l *EngineLane) submit(waits []device.Event, encode func(device.CommandList) error, signals ...device.Event) error {
	if err := l.list.Reset(); err != nil {
		return err
	}
	if len(waits) > 0 {
		if err := l.list.AppendWaitOnEvents(waits...); err != nil {
			return err
		}
	}
	if encode != nil {
		if err := encode(l.list); err != nil {
			return err
		}
	}
	for _, ev := range signals {
		if ev == nil {
			continue
		}
		if err := l.list.AppendSignalEvent(ev); err != nil {
			return err
		}
	}
	if err := l.list.Close(); err != nil {
		return err
	}
	tag, err := l.queue.Execute(l.list)
	if err != nil {
		return err
	}
	l.counter++
	l.lastTag = tag
	if l.synchronous {
		if err := l.queue.Synchronize(tag, device.WaitForever); err != nil {
			return &pendingError{err: err}
		}
	}
	return nil
}
