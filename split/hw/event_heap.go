package hw

import "container/heap"

// completion is a scheduled end of one engine command.
type completion struct {
	time     int64
	priority int
	id       int64
	engine   int
}

// opPriority orders completions that land on the same tick: signals become
// visible before the copies that were waiting behind them are retired.
var opPriority = map[opKind]int{
	opSignal: 0,
	opWait:   1,
	opNop:    2,
	opCopy:   3,
	opRegion: 3,
	opFill:   3,
}

// completionHeap is a priority queue with deterministic ordering.
// Ordering: timestamp → op priority → completion ID
type completionHeap struct {
	items []*completion
}

func newCompletionHeap() *completionHeap {
	h := &completionHeap{
		items: make([]*completion, 0),
	}
	heap.Init(h)
	return h
}

// Len implements heap.Interface
func (h *completionHeap) Len() int {
	return len(h.items)
}

// Less implements heap.Interface with deterministic ordering
func (h *completionHeap) Less(i, j int) bool {
	ci, cj := h.items[i], h.items[j]

	if ci.time != cj.time {
		return ci.time < cj.time
	}
	if ci.priority != cj.priority {
		return ci.priority < cj.priority
	}
	// lower ID first, deterministic tie-breaker
	return ci.id < cj.id
}

// Swap implements heap.Interface
func (h *completionHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
}

// Push implements heap.Interface
func (h *completionHeap) Push(x interface{}) {
	h.items = append(h.items, x.(*completion))
}

// Pop implements heap.Interface
func (h *completionHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[0 : n-1]
	return item
}

// schedule adds a completion to the heap
func (h *completionHeap) schedule(c *completion) {
	heap.Push(h, c)
}

// popNext removes and returns the next completion
func (h *completionHeap) popNext() *completion {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(*completion)
}

// peek returns the next completion without removing it
func (h *completionHeap) peek() *completion {
	if h.Len() == 0 {
		return nil
	}
	return h.items[0]
}
