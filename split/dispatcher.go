package split

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/copysplit/split/device"
	"github.com/inference-sim/copysplit/split/trace"
)

// Observers are optional hooks fed by the Dispatcher. Any field may be nil.
type Observers struct {
	Trace *trace.DispatchTrace
	Sink  MetricsSink
	Clock func() int64 // device time in ns, stamped on trace records
}

// Dispatcher fans large transfers out across the lanes of one device.
//
// Transfers the policy rejects are issued whole on the control lane, which
// submits to the device's main copy engine. Split transfers follow the
// barrier → subcopy → marker protocol: the control lane signals a barrier
// once the caller's wait events are satisfied, every lane of the selected
// group waits on it, copies its chunk and signals its subcopy event, and the
// control lane finally waits on every subcopy and signals the marker (and
// the caller's event, if any). In AsynchronousRelaxed mode lanes wait on the
// caller's events directly and no barrier is issued.
//
// Thread-safety: safe for concurrent use. Dispatches are serialized.
type Dispatcher struct {
	mu       sync.Mutex
	dev      device.Device
	cfg      Config
	registry *LaneGroupRegistry
	policy   *SplitPolicy
	pool     *SyncEventPool
	control  *EngineLane
	metrics  *Metrics
	obs      Observers
	closed   bool
}

// NewDispatcher validates cfg and builds the lanes and event pool of dev.
func NewDispatcher(dev device.Device, cfg Config, obs Observers) (*Dispatcher, error) {
	if dev == nil {
		return nil, fmt.Errorf("%w: nil device", ErrInvalidArgument)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.clone()

	registry, err := NewLaneGroupRegistry(dev, cfg)
	if err != nil {
		return nil, err
	}
	control, err := NewEngineLane(dev, ControlLaneIndex, dev.Capabilities().MainCopyEngine, cfg.Mode == SynchronousBlocking)
	if err != nil {
		return nil, err
	}
	logrus.Debugf("split: dispatcher ready: %d lanes (write %d, read %d), mode %s, min split %d bytes",
		registry.LaneCount(), len(registry.LanesFor(GroupWrite)), len(registry.LanesFor(GroupRead)),
		cfg.Mode, cfg.MinimumSplitSize)

	return &Dispatcher{
		dev:      dev,
		cfg:      cfg,
		registry: registry,
		policy:   NewSplitPolicy(cfg, registry),
		pool:     NewSyncEventPool(dev, cfg.EventPoolCapacity),
		control:  control,
		metrics:  NewMetrics(),
		obs:      obs,
	}, nil
}

// Submit validates spec against the device's memory map and dispatches it.
func (d *Dispatcher) Submit(spec TransferSpec) (*Completion, error) {
	req, err := NewTransferRequest(d.dev, spec)
	if err != nil {
		return nil, err
	}
	return d.SubmitSplitCopy(req)
}

// SubmitSplitCopy dispatches one transfer. The returned Completion is nil
// only when an error aborted the dispatch before anything became waitable.
// In SynchronousBlocking mode it returns after the transfer has executed.
func (d *Dispatcher) SubmitSplitCopy(req TransferRequest) (*Completion, error) {
	if !req.valid {
		return nil, fmt.Errorf("%w: transfer request was not built by NewTransferRequest", ErrInvalidArgument)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("%w: dispatcher is closed", ErrInvalidArgument)
	}

	traceID := uuid.NewString()
	clock := d.now()
	decision := d.policy.Classify(req.Direction(), req.Size())

	var lanes []*EngineLane
	var chunks []chunk
	if decision.Split {
		lanes = d.registry.LanesFor(decision.Group)
		var ok bool
		if chunks, ok = partition(req, len(lanes), d.cfg); !ok {
			decision = Decision{Group: GroupNone, Reason: ReasonUnpartitionable}
		}
	}

	d.metrics.Dispatches++
	d.metrics.Reasons[decision.Reason]++
	d.obs.Trace.RecordDecision(trace.DecisionRecord{
		TraceID:   traceID,
		Clock:     clock,
		Op:        req.Op().String(),
		Direction: req.Direction().String(),
		Bytes:     req.Size(),
		Split:     decision.Split,
		Group:     decision.Group.String(),
		Reason:    decision.Reason,
	})
	logrus.Debugf("split: %s %s %d bytes: %s", traceID, req.Direction(), req.Size(), decision.Reason)

	var (
		comp *Completion
		err  error
	)
	if decision.Split {
		comp, err = d.dispatchSplit(req, decision, lanes, chunks, traceID)
	} else {
		comp, err = d.dispatchDirect(req, decision, traceID)
	}
	if err != nil {
		d.metrics.Failures++
		kind := FailureKind(err)
		if d.obs.Sink != nil {
			d.obs.Sink.ObserveFailure(kind)
		}
		d.obs.Trace.RecordFailure(trace.FailureRecord{TraceID: traceID, Clock: d.now(), Kind: kind, Error: err.Error()})
		logrus.Debugf("split: %s aborted: %v", traceID, err)
		return comp, err
	}

	if decision.Split {
		d.metrics.Splits++
		d.metrics.BytesSplit += req.Size()
	} else {
		d.metrics.Direct++
		d.metrics.BytesDirect += req.Size()
	}
	if d.obs.Sink != nil {
		d.obs.Sink.ObserveDispatch(req.Direction(), req.Op(), decision.Split, len(lanes), req.Size())
	}
	return comp, nil
}

func (d *Dispatcher) dispatchDirect(req TransferRequest, decision Decision, traceID string) (*Completion, error) {
	whole := wholeChunk(req)
	err := d.control.appendChunk(req, whole, req.waits, req.signal)
	if err != nil && !isPending(err) {
		return nil, submissionError(d.control, err)
	}
	tag := d.control.lastTag
	d.pool.Pin(req.waits, func() bool { return d.control.completed(tag) })
	d.obs.Trace.RecordLane(trace.LaneRecord{
		TraceID:   traceID,
		LaneIndex: d.control.Index(),
		Engine:    d.control.Ordinal(),
		Bytes:     whole.size,
	})
	comp := &Completion{
		state:    StateCompleted,
		decision: decision,
		traceID:  traceID,
		lane:     d.control,
		tag:      tag,
	}
	// A synchronous wait that expired leaves the copy queued.
	return comp, errors.Unwrap(err)
}

func (d *Dispatcher) dispatchSplit(req TransferRequest, decision Decision, lanes []*EngineLane, chunks []chunk, traceID string) (*Completion, error) {
	before := d.pool.Stats()
	batch, err := d.pool.AcquireBatch(len(lanes), req.waits...)
	if err != nil {
		return nil, err
	}
	if d.pool.Stats().Pools > before.Pools {
		d.metrics.PoolGrowths++
		if d.obs.Sink != nil {
			d.obs.Sink.ObservePoolGrowth()
		}
	}
	if batch.Reused {
		d.metrics.BatchReuses++
		if d.obs.Sink != nil {
			d.obs.Sink.ObserveBatchReuse()
		}
	}

	// pending is the first synchronous wait that expired after its
	// submission was accepted. The protocol continues behind it.
	var pending error
	accepted := func(err error) error {
		if err == nil || !isPending(err) {
			return err
		}
		cause := errors.Unwrap(err)
		if errors.Is(cause, ErrDeviceLost) {
			return cause
		}
		if pending == nil {
			pending = cause
		}
		return nil
	}

	barrierIssued := false
	laneWaits := req.waits
	if d.cfg.Mode != AsynchronousRelaxed {
		if err := accepted(d.control.AppendBarrier(req.waits, batch.Barrier.Event)); err != nil {
			d.abandon(batch, false, nil, req.waits, err)
			return nil, submissionError(d.control, err)
		}
		barrierIssued = true
		laneWaits = []device.Event{batch.Barrier.Event}
	}

	subcopies := batch.SubcopyEvents()
	ordinals := make([]int, len(lanes))
	for i, lane := range lanes {
		if err := accepted(lane.appendChunk(req, chunks[i], laneWaits, subcopies[i])); err != nil {
			d.abandon(batch, barrierIssued, subcopies[:i], req.waits, err)
			return nil, submissionError(lane, err)
		}
		ordinals[i] = lane.Ordinal()
		d.metrics.LaneSubmissions[lane.Ordinal()]++
		d.obs.Trace.RecordLane(trace.LaneRecord{
			TraceID:   traceID,
			LaneIndex: lane.Index(),
			Engine:    lane.Ordinal(),
			Offset:    chunks[i].dstOffset,
			Bytes:     chunks[i].size,
		})
	}

	if err := accepted(d.control.AppendBarrier(subcopies, batch.Marker.Event, req.signal)); err != nil {
		d.abandon(batch, true, subcopies, req.waits, err)
		return nil, submissionError(d.control, err)
	}
	d.pool.Pin(req.waits, d.pool.BatchDone(batch.Ref))

	comp := &Completion{
		state:    StateInFlight,
		decision: decision,
		traceID:  traceID,
		pool:     d.pool,
		ref:      batch.Ref,
		marker:   batch.Marker.Event,
		ordinal:  ordinals,
	}
	if pending != nil {
		return comp, pending
	}
	if d.cfg.Mode == SynchronousBlocking {
		if err := batch.Marker.Event.HostSynchronize(d.cfg.SyncTimeout); err != nil {
			return comp, err
		}
		comp.state = StateCompleted
	}
	return comp, nil
}

// abandon makes the batch of an aborted dispatch reusable again. A batch no
// submission references goes straight back to the pool; otherwise its marker
// is signaled on the control lane behind the work already queued, so the
// batch frees up once that work drains. A lost device keeps everything.
func (d *Dispatcher) abandon(batch *Batch, issued bool, subcopies []device.Event, waits []device.Event, cause error) {
	if errors.Is(cause, ErrDeviceLost) {
		return
	}
	if !issued && len(subcopies) == 0 {
		if err := d.pool.Release(batch.Ref); err != nil {
			logrus.Warnf("split: releasing event batch %d: %v", batch.Ref.Index, err)
		}
		return
	}
	if err := d.control.AppendBarrier(subcopies, batch.Marker.Event); err != nil && !isPending(err) {
		logrus.Warnf("split: event batch %d stays held, signaling its marker failed: %v", batch.Ref.Index, err)
		return
	}
	d.pool.Pin(waits, d.pool.BatchDone(batch.Ref))
}

// submissionError wraps a lane failure. A lost device is reported unchanged.
func submissionError(lane *EngineLane, err error) error {
	if errors.Is(err, ErrDeviceLost) {
		return err
	}
	return fmt.Errorf("%w: lane %d (engine %d): %w", ErrSubmissionFailure, lane.Index(), lane.Ordinal(), err)
}

func (d *Dispatcher) now() int64 {
	if d.obs.Clock == nil {
		return 0
	}
	return d.obs.Clock()
}

// IsSplitEligible reports whether a transfer would be split.
func (d *Dispatcher) IsSplitEligible(dir DirectionClass, size uint64) bool {
	return d.policy.IsSplitEligible(dir, size)
}

// Classify returns the policy decision for a transfer without issuing it.
func (d *Dispatcher) Classify(dir DirectionClass, size uint64) Decision {
	return d.policy.Classify(dir, size)
}

// Config returns a copy of the configuration in effect.
func (d *Dispatcher) Config() Config { return d.cfg.clone() }

// Registry returns the dispatcher's lanes.
func (d *Dispatcher) Registry() *LaneGroupRegistry { return d.registry }

// Pool returns the dispatcher's event pool.
func (d *Dispatcher) Pool() *SyncEventPool { return d.pool }

// ControlLane returns the lane that issues direct transfers and barriers.
func (d *Dispatcher) ControlLane() *EngineLane { return d.control }

// Metrics returns a snapshot of the dispatch counters.
func (d *Dispatcher) Metrics() Metrics {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.metrics.clone()
}

// Synchronize waits for all work submitted on every lane. Every lane is
// waited on; a lost device is reported ahead of any other error.
func (d *Dispatcher) Synchronize(timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.synchronizeLocked(timeout)
}

func (d *Dispatcher) synchronizeLocked(timeout time.Duration) error {
	var first error
	for _, lane := range append([]*EngineLane{d.control}, d.registry.Lanes()...) {
		err := lane.Synchronize(timeout)
		if err == nil {
			continue
		}
		err = fmt.Errorf("lane %d (engine %d): %w", lane.Index(), lane.Ordinal(), err)
		if errors.Is(err, ErrDeviceLost) {
			return err
		}
		if first == nil {
			first = err
		}
	}
	return first
}

// Close waits for outstanding work and releases the event pool. The pool
// is released even when the wait fails.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	syncErr := d.synchronizeLocked(d.cfg.SyncTimeout)
	return errors.Join(syncErr, d.pool.Close())
}
