package split

import "github.com/inference-sim/copysplit/split/device"

// chunk is the part of a request assigned to one lane. Offsets are relative
// to the request's source and destination.
type chunk struct {
	srcOffset uint64
	dstOffset uint64
	size      uint64        // bytes, linear operations
	region    device.Region // rows, OpCopyRegion
}

// chunkStrategy partitions a request into n chunks. ok is false when the
// request is too small to give every lane a non-empty chunk.
type chunkStrategy func(req TransferRequest, n int, cfg Config) (chunks []chunk, ok bool)

// chunkStrategies maps each operation to its partitioning.
var chunkStrategies = map[OperationKind]chunkStrategy{
	OpCopy: func(req TransferRequest, n int, _ Config) ([]chunk, bool) {
		return linearChunks(req.Size(), n, 1)
	},
	OpFill: func(req TransferRequest, n int, _ Config) ([]chunk, bool) {
		return linearChunks(req.Size(), n, uint64(len(req.pattern)))
	},
	OpPageFaultCopy: func(req TransferRequest, n int, cfg Config) ([]chunk, bool) {
		return linearChunks(req.Size(), n, cfg.PageSize)
	},
	OpCopyRegion: rowChunks,
}

// linearChunks splits total bytes into n contiguous chunks whose size is a
// multiple of align; the last chunk takes the remainder.
func linearChunks(total uint64, n int, align uint64) ([]chunk, bool) {
	if n < 1 || align == 0 {
		return nil, false
	}
	per := total / uint64(n) / align * align
	if per == 0 {
		return nil, false
	}
	chunks := make([]chunk, n)
	for i := range chunks {
		off := uint64(i) * per
		size := per
		if i == n-1 {
			size = total - off
		}
		chunks[i] = chunk{srcOffset: off, dstOffset: off, size: size}
	}
	return chunks, true
}

// rowChunks splits a region by rows; the last chunk takes the remaining rows.
func rowChunks(req TransferRequest, n int, _ Config) ([]chunk, bool) {
	r := req.Region()
	if n < 1 {
		return nil, false
	}
	per := r.Height / uint64(n)
	if per == 0 {
		return nil, false
	}
	chunks := make([]chunk, n)
	for i := range chunks {
		row := uint64(i) * per
		rows := per
		if i == n-1 {
			rows = r.Height - row
		}
		sub := r
		sub.Height = rows
		chunks[i] = chunk{
			srcOffset: row * r.SrcPitch,
			dstOffset: row * r.DstPitch,
			size:      r.Width * rows,
			region:    sub,
		}
	}
	return chunks, true
}

// wholeChunk covers the entire request.
func wholeChunk(req TransferRequest) chunk {
	return chunk{size: req.Size(), region: req.Region()}
}

// partition applies the request's chunking strategy.
func partition(req TransferRequest, n int, cfg Config) ([]chunk, bool) {
	strategy, ok := chunkStrategies[req.Op()]
	if !ok {
		return nil, false
	}
	return strategy(req, n, cfg)
}

// appendChunk appends one chunk of req to the lane.
func (l *EngineLane) appendChunk(req TransferRequest, c chunk, waits []device.Event, signal device.Event) error {
	dst := req.Dst() + device.Address(c.dstOffset)
	switch req.Op() {
	case OpCopyRegion:
		return l.AppendCopyRegion(dst, req.Src()+device.Address(c.srcOffset), c.region, waits, signal)
	case OpFill:
		return l.AppendFill(dst, req.pattern, c.size, waits, signal)
	default:
		return l.AppendCopy(dst, req.Src()+device.Address(c.srcOffset), c.size, waits, signal)
	}
}
