package hw

import (
	"fmt"
	"time"

	"github.com/inference-sim/copysplit/split/device"
)

// Queue feeds one engine.
type Queue struct {
	dev    *Device
	engine *engine
}

var _ device.CommandQueue = (*Queue)(nil)

// Ordinal implements device.CommandQueue.
func (q *Queue) Ordinal() int {
	return q.engine.ordinal
}

// Execute implements device.CommandQueue. The list must be closed and must
// belong to this device.
func (q *Queue) Execute(list device.CommandList) (uint64, error) {
	cl, ok := list.(*CommandList)
	if !ok || cl.dev != q.dev {
		return 0, fmt.Errorf("%w: foreign command list", device.ErrSubmissionRejected)
	}
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()
	if !cl.closed {
		return 0, fmt.Errorf("%w: command list not closed", device.ErrSubmissionRejected)
	}
	cmds := make([]*command, len(cl.cmds))
	for i, c := range cl.cmds {
		cp := *c
		cmds[i] = &cp
	}
	return q.dev.submit(q.engine, cmds)
}

// CompletedTag implements device.CommandQueue.
func (q *Queue) CompletedTag() uint64 {
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()
	q.dev.drain(q.dev.clock)
	return q.engine.completedTag
}

// Synchronize implements device.CommandQueue.
func (q *Queue) Synchronize(tag uint64, timeout time.Duration) error {
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()
	return q.dev.runUntil(func() bool { return q.engine.completedTag >= tag }, timeout)
}
