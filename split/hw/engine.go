package hw

import "github.com/inference-sim/copysplit/split/device"

type opKind int

const (
	opNop opKind = iota
	opCopy
	opRegion
	opFill
	opWait
	opSignal
)

// command is one encoded operation. tag and last are stamped at submission.
type command struct {
	kind    opKind
	dst     device.Address
	src     device.Address
	size    uint64
	region  device.Region
	pattern []byte
	events  []*Event

	tag         uint64
	last        bool
	submittedAt int64
}

// bytes returns the payload moved by a data command.
func (c *command) bytes() uint64 {
	switch c.kind {
	case opCopy, opFill:
		return c.size
	case opRegion:
		return c.region.Width * c.region.Height
	default:
		return 0
	}
}

// engine is one copy engine: a FIFO of commands executed one at a time.
type engine struct {
	ordinal int
	pending []*command
	busy    bool
	freeAt  int64
	hung    bool

	submittedTag uint64
	completedTag uint64
	bytesMoved   uint64

	failSubmissions int
}

// EngineStats is a snapshot of one engine's counters.
type EngineStats struct {
	Ordinal      int
	SubmittedTag uint64 // number of accepted submissions
	CompletedTag uint64 // number of retired submissions
	BytesMoved   uint64
	Pending      int // commands not yet retired
}

func (e *engine) stats() EngineStats {
	return EngineStats{
		Ordinal:      e.ordinal,
		SubmittedTag: e.submittedTag,
		CompletedTag: e.completedTag,
		BytesMoved:   e.bytesMoved,
		Pending:      len(e.pending),
	}
}
