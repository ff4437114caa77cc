// Package trace records split-dispatch decisions for offline analysis.
// This package has no dependencies on split/; it stores plain data types.
package trace

// DecisionRecord captures one policy decision for one transfer.
type DecisionRecord struct {
	TraceID   string
	Clock     int64 // device time in ns when the dispatch started
	Op        string
	Direction string
	Bytes     uint64
	Split     bool
	Group     string
	Reason    string
}

// LaneRecord captures one chunk appended to one lane.
type LaneRecord struct {
	TraceID   string
	LaneIndex int // -1 for the control lane
	Engine    int
	Offset    uint64
	Bytes     uint64
}

// FailureRecord captures an aborted dispatch.
type FailureRecord struct {
	TraceID string
	Clock   int64
	Kind    string
	Error   string
}
