package split

import (
	"fmt"

	"github.com/inference-sim/copysplit/split/device"
)

// OperationKind selects the transfer variant and its chunking strategy.
type OperationKind int

const (
	OpCopy OperationKind = iota
	OpCopyRegion
	OpFill
	OpPageFaultCopy
)

var operationNames = map[OperationKind]string{
	OpCopy:          "copy",
	OpCopyRegion:    "copy-region",
	OpFill:          "fill",
	OpPageFaultCopy: "page-fault-copy",
}

func (k OperationKind) String() string {
	if name, ok := operationNames[k]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", int(k))
}

// ParseOperation accepts the names printed by String. Empty means copy.
func ParseOperation(s string) (OperationKind, error) {
	if s == "" {
		return OpCopy, nil
	}
	for k, name := range operationNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown operation %q", ErrInvalidArgument, s)
}

// AddressClassifier resolves the memory kind of an address range.
// device.Device satisfies it.
type AddressClassifier interface {
	Classify(addr device.Address, size uint64) (device.MemoryKind, error)
}

// TransferSpec is the caller-facing description of a transfer.
type TransferSpec struct {
	Op          OperationKind
	Dst         device.Address
	Src         device.Address // unused for OpFill
	Size        uint64         // unused for OpCopyRegion
	Region      device.Region  // OpCopyRegion only
	Pattern     []byte         // OpFill only
	WaitEvents  []device.Event
	SignalEvent device.Event
}

// TransferRequest is a validated, immutable transfer. Build one with
// NewTransferRequest; the zero value is rejected by the dispatcher.
type TransferRequest struct {
	op        OperationKind
	dst       device.Address
	src       device.Address
	size      uint64
	region    device.Region
	pattern   []byte
	direction DirectionClass
	waits     []device.Event
	signal    device.Event
	valid     bool
}

// NewTransferRequest validates spec and classifies its direction.
// Every failure wraps ErrInvalidArgument.
func NewTransferRequest(mem AddressClassifier, spec TransferSpec) (TransferRequest, error) {
	if spec.Dst == 0 {
		return TransferRequest{}, fmt.Errorf("%w: null destination", ErrInvalidArgument)
	}
	if spec.Op != OpFill && spec.Src == 0 {
		return TransferRequest{}, fmt.Errorf("%w: null source", ErrInvalidArgument)
	}
	for i, ev := range spec.WaitEvents {
		if ev == nil {
			return TransferRequest{}, fmt.Errorf("%w: wait event %d is nil", ErrInvalidArgument, i)
		}
	}
	req := TransferRequest{
		op:     spec.Op,
		dst:    spec.Dst,
		src:    spec.Src,
		size:   spec.Size,
		waits:  append([]device.Event(nil), spec.WaitEvents...),
		signal: spec.SignalEvent,
	}

	switch spec.Op {
	case OpCopy, OpPageFaultCopy:
		if spec.Size == 0 {
			return TransferRequest{}, fmt.Errorf("%w: zero size", ErrInvalidArgument)
		}
		srcKind, dstKind, err := classifyPair(mem, spec.Src, spec.Size, spec.Dst, spec.Size)
		if err != nil {
			return TransferRequest{}, err
		}
		req.direction = ClassifyDirection(srcKind, dstKind)
	case OpCopyRegion:
		r := spec.Region
		if r.Width == 0 || r.Height == 0 {
			return TransferRequest{}, fmt.Errorf("%w: empty region %dx%d", ErrInvalidArgument, r.Width, r.Height)
		}
		if r.Width > r.SrcPitch || r.Width > r.DstPitch {
			return TransferRequest{}, fmt.Errorf("%w: region width %d exceeds pitch", ErrInvalidArgument, r.Width)
		}
		srcKind, dstKind, err := classifyPair(mem, spec.Src, r.Extent(r.SrcPitch), spec.Dst, r.Extent(r.DstPitch))
		if err != nil {
			return TransferRequest{}, err
		}
		req.region = r
		req.size = r.Width * r.Height
		req.direction = ClassifyDirection(srcKind, dstKind)
	case OpFill:
		if spec.Size == 0 {
			return TransferRequest{}, fmt.Errorf("%w: zero size", ErrInvalidArgument)
		}
		if len(spec.Pattern) == 0 || spec.Size%uint64(len(spec.Pattern)) != 0 {
			return TransferRequest{}, fmt.Errorf("%w: size %d is not a multiple of the %d-byte pattern",
				ErrInvalidArgument, spec.Size, len(spec.Pattern))
		}
		dstKind, err := mem.Classify(spec.Dst, spec.Size)
		if err != nil {
			return TransferRequest{}, fmt.Errorf("%w: destination: %w", ErrInvalidArgument, err)
		}
		req.src = 0
		req.pattern = append([]byte(nil), spec.Pattern...)
		req.direction = fillDirection(dstKind)
	default:
		return TransferRequest{}, fmt.Errorf("%w: unknown operation %d", ErrInvalidArgument, int(spec.Op))
	}
	req.valid = true
	return req, nil
}

func classifyPair(mem AddressClassifier, src device.Address, srcSize uint64, dst device.Address, dstSize uint64) (device.MemoryKind, device.MemoryKind, error) {
	srcKind, err := mem.Classify(src, srcSize)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: source: %w", ErrInvalidArgument, err)
	}
	dstKind, err := mem.Classify(dst, dstSize)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: destination: %w", ErrInvalidArgument, err)
	}
	return srcKind, dstKind, nil
}

func (r TransferRequest) Op() OperationKind         { return r.op }
func (r TransferRequest) Dst() device.Address       { return r.dst }
func (r TransferRequest) Src() device.Address       { return r.src }
func (r TransferRequest) Size() uint64              { return r.size }
func (r TransferRequest) Region() device.Region     { return r.region }
func (r TransferRequest) Direction() DirectionClass { return r.direction }
func (r TransferRequest) SignalEvent() device.Event { return r.signal }

// Pattern returns a copy of the fill pattern.
func (r TransferRequest) Pattern() []byte {
	return append([]byte(nil), r.pattern...)
}

// WaitEvents returns a copy of the events the transfer must wait on.
func (r TransferRequest) WaitEvents() []device.Event {
	return append([]device.Event(nil), r.waits...)
}
