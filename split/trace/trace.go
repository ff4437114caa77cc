package trace

// TraceLevel controls the verbosity of dispatch tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelDecisions captures policy decisions and failures.
	TraceLevelDecisions TraceLevel = "decisions"
	// TraceLevelLanes additionally captures every chunk appended to a lane.
	TraceLevelLanes TraceLevel = "lanes"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelDecisions: true,
	TraceLevelLanes:     true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// DispatchTrace collects records during a run. Not safe for concurrent use;
// the dispatcher records under its own lock.
type DispatchTrace struct {
	Level     TraceLevel
	Decisions []DecisionRecord
	Lanes     []LaneRecord
	Failures  []FailureRecord
}

// NewDispatchTrace creates a DispatchTrace ready for recording.
func NewDispatchTrace(level TraceLevel) *DispatchTrace {
	return &DispatchTrace{
		Level:     level,
		Decisions: make([]DecisionRecord, 0),
		Lanes:     make([]LaneRecord, 0),
		Failures:  make([]FailureRecord, 0),
	}
}

// Enabled reports whether decisions are recorded. Safe on nil.
func (dt *DispatchTrace) Enabled() bool {
	return dt != nil && dt.Level != TraceLevelNone && dt.Level != ""
}

// RecordDecision appends a decision record.
func (dt *DispatchTrace) RecordDecision(record DecisionRecord) {
	if !dt.Enabled() {
		return
	}
	dt.Decisions = append(dt.Decisions, record)
}

// RecordLane appends a lane record when the level is TraceLevelLanes.
func (dt *DispatchTrace) RecordLane(record LaneRecord) {
	if dt == nil || dt.Level != TraceLevelLanes {
		return
	}
	dt.Lanes = append(dt.Lanes, record)
}

// RecordFailure appends a failure record.
func (dt *DispatchTrace) RecordFailure(record FailureRecord) {
	if !dt.Enabled() {
		return
	}
	dt.Failures = append(dt.Failures, record)
}
