package split

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/copysplit/split/device"
)

// EventKind is the role of an event inside a split batch.
type EventKind int

const (
	KindMarker EventKind = iota
	KindSubcopy
	KindBarrier
)

func (k EventKind) String() string {
	switch k {
	case KindMarker:
		return "marker"
	case KindSubcopy:
		return "subcopy"
	case KindBarrier:
		return "barrier"
	default:
		return "unknown"
	}
}

// SyncEvent is an event lent to an in-flight transfer.
type SyncEvent struct {
	Kind       EventKind
	Event      device.Event
	Generation uint64 // generation of the owning batch when lent
}

// BatchRef is an arena handle to a batch. A ref goes stale as soon as the
// batch is reused.
type BatchRef struct {
	Index      int
	Generation uint64
}

// Batch is the set of events one split transfer needs: one barrier, one
// subcopy per lane, one marker.
type Batch struct {
	Ref       BatchRef
	Barrier   SyncEvent
	Subcopies []SyncEvent
	Marker    SyncEvent
	Reused    bool
}

// SubcopyEvents returns the device events of the subcopies in lane order.
func (b *Batch) SubcopyEvents() []device.Event {
	out := make([]device.Event, len(b.Subcopies))
	for i, s := range b.Subcopies {
		out[i] = s.Event
	}
	return out
}

// EventPoolAllocator provides event backing memory. device.Device satisfies it.
type EventPoolAllocator interface {
	AllocateEventPool(capacity int) (device.EventPool, error)
}

type batchSlot struct {
	barrier    device.Event
	subcopies  []device.Event
	marker     device.Event
	generation uint64
	free       bool          // released without any work referencing it
	pins       []func() bool // later work still waiting on the marker
}

// PoolStats is a snapshot of the pool's bookkeeping.
type PoolStats struct {
	Pools                 int // device event pools allocated
	Batches               int // batches ever created
	CreatedFromLatestPool int // slots consumed in the newest device pool
	Reuses                int // batches handed out again after their marker signaled
}

// SyncEventPool lends marker/barrier/subcopy batches to split transfers.
//
// A batch is reused only after its marker is observed signaled and every
// submission that waits on that marker has consumed it; until then its
// events may still be referenced by queued work. New batches are carved
// from the newest device event pool, and a new device pool is allocated when
// the newest one has no room. Construction is all-or-nothing.
//
// Thread-safety: safe for concurrent use.
type SyncEventPool struct {
	mu                    sync.Mutex
	alloc                 EventPoolAllocator
	capacity              int
	pools                 []device.EventPool
	createdFromLatestPool int
	slots                 []*batchSlot
	reuses                int
}

// NewSyncEventPool creates an empty pool. capacity is the number of event
// slots requested for each device event pool.
func NewSyncEventPool(alloc EventPoolAllocator, capacity int) *SyncEventPool {
	return &SyncEventPool{alloc: alloc, capacity: capacity}
}

// AcquireBatch returns a batch for laneCount lanes. Batches whose marker is
// one of exclude are never handed out, since the caller is about to wait on
// them. Allocation failures wrap ErrResourceExhausted and leave the pool
// exactly as it was.
func (p *SyncEventPool) AcquireBatch(laneCount int, exclude ...device.Event) (*Batch, error) {
	if laneCount < 1 {
		return nil, fmt.Errorf("%w: lane count must be >= 1, got %d", ErrInvalidArgument, laneCount)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	for idx, s := range p.slots {
		if len(s.subcopies) != laneCount || containsEvent(exclude, s.marker) || !s.reusable() {
			continue
		}
		if err := s.reset(); err != nil {
			return nil, fmt.Errorf("%w: resetting batch %d: %w", ErrResourceExhausted, idx, err)
		}
		s.free = false
		s.generation++
		p.reuses++
		logrus.Debugf("split: reusing event batch %d (generation %d)", idx, s.generation)
		b := s.view(idx)
		b.Reused = true
		return b, nil
	}

	return p.allocate(laneCount)
}

func (p *SyncEventPool) allocate(laneCount int) (*Batch, error) {
	need := laneCount + 2
	var pool device.EventPool
	base := 0
	fresh := len(p.pools) == 0 || p.createdFromLatestPool+need > p.pools[len(p.pools)-1].Capacity()
	if fresh {
		newPool, err := p.alloc.AllocateEventPool(max(p.capacity, need))
		if err != nil {
			return nil, fmt.Errorf("%w: event pool: %w", ErrResourceExhausted, err)
		}
		pool = newPool
	} else {
		pool = p.pools[len(p.pools)-1]
		base = p.createdFromLatestPool
	}

	events := make([]device.Event, 0, need)
	for k := 0; k < need; k++ {
		ev, err := pool.CreateEvent(base + k)
		if err != nil {
			rollbackErr := destroyEvents(events)
			if fresh {
				rollbackErr = errors.Join(rollbackErr, pool.Destroy())
			}
			if rollbackErr != nil {
				logrus.Warnf("split: rolling back partial event batch: %v", rollbackErr)
			}
			return nil, fmt.Errorf("%w: event %d of batch: %w", ErrResourceExhausted, k, err)
		}
		events = append(events, ev)
	}

	if fresh {
		p.pools = append(p.pools, pool)
		p.createdFromLatestPool = 0
		logrus.Debugf("split: allocated event pool %d (%d slots)", len(p.pools)-1, pool.Capacity())
	}
	p.createdFromLatestPool += need

	s := &batchSlot{
		barrier:   events[0],
		subcopies: events[1 : 1+laneCount],
		marker:    events[need-1],
	}
	p.slots = append(p.slots, s)
	return s.view(len(p.slots) - 1), nil
}

// Release returns a batch that no submission references. Its ref goes stale.
func (p *SyncEventPool) Release(ref BatchRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.slotLocked(ref)
	if err != nil {
		return err
	}
	if err := s.reset(); err != nil {
		return fmt.Errorf("resetting batch %d: %w", ref.Index, err)
	}
	s.generation++
	s.free = true
	s.pins = nil
	logrus.Debugf("split: released event batch %d", ref.Index)
	return nil
}

// Pin keeps every batch whose marker is among waits from being reused until
// done reports true. Events the pool did not lend are ignored.
func (p *SyncEventPool) Pin(waits []device.Event, done func() bool) {
	if len(waits) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.slots {
		if containsEvent(waits, s.marker) {
			s.pins = append(s.pins, done)
		}
	}
}

// BatchDone returns a predicate that turns true once the batch's marker has
// signaled or the batch has moved to a later generation.
func (p *SyncEventPool) BatchDone(ref BatchRef) func() bool {
	p.mu.Lock()
	s, err := p.slotLocked(ref)
	p.mu.Unlock()
	if err != nil {
		return func() bool { return true }
	}
	gen := ref.Generation
	return func() bool {
		return s.generation != gen || s.marker.IsSignaled()
	}
}

func (p *SyncEventPool) slotLocked(ref BatchRef) (*batchSlot, error) {
	if ref.Index < 0 || ref.Index >= len(p.slots) {
		return nil, fmt.Errorf("%w: no batch %d", ErrStaleHandle, ref.Index)
	}
	s := p.slots[ref.Index]
	if s.generation != ref.Generation {
		return nil, fmt.Errorf("%w: batch %d is at generation %d, ref has %d", ErrStaleHandle, ref.Index, s.generation, ref.Generation)
	}
	return s, nil
}

func containsEvent(events []device.Event, ev device.Event) bool {
	for _, e := range events {
		if e == ev {
			return true
		}
	}
	return false
}

// reusable must be called with the pool lock held. Pins whose work has
// consumed the marker are dropped.
func (s *batchSlot) reusable() bool {
	if s.free {
		return true
	}
	if !s.marker.IsSignaled() {
		return false
	}
	live := s.pins[:0]
	for _, done := range s.pins {
		if !done() {
			live = append(live, done)
		}
	}
	s.pins = live
	return len(live) == 0
}

func destroyEvents(events []device.Event) error {
	var errs []error
	for _, ev := range events {
		if err := ev.Destroy(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *batchSlot) reset() error {
	if err := s.marker.Reset(); err != nil {
		return err
	}
	if err := s.barrier.Reset(); err != nil {
		return err
	}
	for _, ev := range s.subcopies {
		if err := ev.Reset(); err != nil {
			return err
		}
	}
	return nil
}

func (s *batchSlot) view(idx int) *Batch {
	b := &Batch{
		Ref:       BatchRef{Index: idx, Generation: s.generation},
		Barrier:   SyncEvent{Kind: KindBarrier, Event: s.barrier, Generation: s.generation},
		Marker:    SyncEvent{Kind: KindMarker, Event: s.marker, Generation: s.generation},
		Subcopies: make([]SyncEvent, len(s.subcopies)),
	}
	for i, ev := range s.subcopies {
		b.Subcopies[i] = SyncEvent{Kind: KindSubcopy, Event: ev, Generation: s.generation}
	}
	return b
}

// Lookup returns the batch a ref points to, or ErrStaleHandle if it has
// been reused since.
func (p *SyncEventPool) Lookup(ref BatchRef) (*Batch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.slotLocked(ref)
	if err != nil {
		return nil, err
	}
	return s.view(ref.Index), nil
}

// Stats returns a snapshot of the pool's counters.
func (p *SyncEventPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Pools:                 len(p.pools),
		Batches:               len(p.slots),
		CreatedFromLatestPool: p.createdFromLatestPool,
		Reuses:                p.reuses,
	}
}

// Close destroys every event and device pool. Callers must have synchronized
// all work that references the pool's events.
func (p *SyncEventPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for _, s := range p.slots {
		all := append([]device.Event{s.barrier, s.marker}, s.subcopies...)
		if err := destroyEvents(all); err != nil {
			errs = append(errs, err)
		}
	}
	for _, pool := range p.pools {
		if err := pool.Destroy(); err != nil {
			errs = append(errs, err)
		}
	}
	p.slots = nil
	p.pools = nil
	p.createdFromLatestPool = 0
	return errors.Join(errs...)
}
