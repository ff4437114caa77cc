package trace

// TraceSummary aggregates statistics from a DispatchTrace.
type TraceSummary struct {
	TotalDecisions  int
	SplitCount      int
	DirectCount     int
	FailureCount    int
	SplitRatio      float64
	ReasonCounts    map[string]int // decision reason → count
	BytesPerEngine  map[int]uint64 // engine ordinal → bytes appended (lane level only)
	DirectionCounts map[string]int // direction → count
}

// Summarize computes aggregate statistics from a DispatchTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(dt *DispatchTrace) *TraceSummary {
	summary := &TraceSummary{
		ReasonCounts:    make(map[string]int),
		BytesPerEngine:  make(map[int]uint64),
		DirectionCounts: make(map[string]int),
	}
	if dt == nil {
		return summary
	}

	summary.TotalDecisions = len(dt.Decisions)
	for _, d := range dt.Decisions {
		if d.Split {
			summary.SplitCount++
		} else {
			summary.DirectCount++
		}
		summary.ReasonCounts[d.Reason]++
		summary.DirectionCounts[d.Direction]++
	}
	if summary.TotalDecisions > 0 {
		summary.SplitRatio = float64(summary.SplitCount) / float64(summary.TotalDecisions)
	}

	for _, l := range dt.Lanes {
		summary.BytesPerEngine[l.Engine] += l.Bytes
	}
	summary.FailureCount = len(dt.Failures)

	return summary
}
