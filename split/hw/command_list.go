package hw

import (
	"errors"
	"fmt"

	"github.com/inference-sim/copysplit/split/device"
)

var errListClosed = errors.New("hw: command list is closed")

// CommandList records commands for one engine type. Address ranges are
// validated at append time.
type CommandList struct {
	dev     *Device
	ordinal int
	cmds    []*command
	closed  bool
}

var _ device.CommandList = (*CommandList)(nil)

func (l *CommandList) append(c *command) error {
	if l.closed {
		return errListClosed
	}
	l.cmds = append(l.cmds, c)
	return nil
}

func (l *CommandList) checkRange(addr device.Address, size uint64) error {
	l.dev.mu.Lock()
	defer l.dev.mu.Unlock()
	_, _, err := l.dev.mem.find(addr, size)
	return err
}

// AppendMemoryCopy implements device.CommandList.
func (l *CommandList) AppendMemoryCopy(dst, src device.Address, size uint64) error {
	if err := l.checkRange(src, size); err != nil {
		return err
	}
	if err := l.checkRange(dst, size); err != nil {
		return err
	}
	return l.append(&command{kind: opCopy, dst: dst, src: src, size: size})
}

// AppendMemoryCopyRegion implements device.CommandList.
func (l *CommandList) AppendMemoryCopyRegion(dst, src device.Address, region device.Region) error {
	if region.Width > region.SrcPitch || region.Width > region.DstPitch {
		return fmt.Errorf("%w: region width %d exceeds pitch", device.ErrInvalidAddress, region.Width)
	}
	if err := l.checkRange(src, region.Extent(region.SrcPitch)); err != nil {
		return err
	}
	if err := l.checkRange(dst, region.Extent(region.DstPitch)); err != nil {
		return err
	}
	return l.append(&command{kind: opRegion, dst: dst, src: src, region: region})
}

// AppendMemoryFill implements device.CommandList.
func (l *CommandList) AppendMemoryFill(dst device.Address, pattern []byte, size uint64) error {
	if len(pattern) == 0 {
		return fmt.Errorf("hw: empty fill pattern")
	}
	if err := l.checkRange(dst, size); err != nil {
		return err
	}
	p := append([]byte(nil), pattern...)
	return l.append(&command{kind: opFill, dst: dst, pattern: p, size: size})
}

// AppendWaitOnEvents implements device.CommandList.
func (l *CommandList) AppendWaitOnEvents(events ...device.Event) error {
	if len(events) == 0 {
		return nil
	}
	evs, err := l.own(events)
	if err != nil {
		return err
	}
	return l.append(&command{kind: opWait, events: evs})
}

// AppendSignalEvent implements device.CommandList.
func (l *CommandList) AppendSignalEvent(event device.Event) error {
	evs, err := l.own([]device.Event{event})
	if err != nil {
		return err
	}
	return l.append(&command{kind: opSignal, events: evs})
}

func (l *CommandList) own(events []device.Event) ([]*Event, error) {
	out := make([]*Event, 0, len(events))
	for _, ev := range events {
		he, ok := ev.(*Event)
		if !ok || he.dev != l.dev {
			return nil, fmt.Errorf("hw: event does not belong to this device")
		}
		out = append(out, he)
	}
	return out, nil
}

// Close implements device.CommandList.
func (l *CommandList) Close() error {
	if l.closed {
		return errListClosed
	}
	l.closed = true
	return nil
}

// Reset implements device.CommandList.
func (l *CommandList) Reset() error {
	l.cmds = l.cmds[:0]
	l.closed = false
	return nil
}
