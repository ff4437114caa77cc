// Tracks dispatch-wide counters: how many transfers split, how many bytes
// each path carried, and how the event pool behaved.

package split

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/dustin/go-humanize"
)

// Metrics aggregates dispatcher statistics for final reporting.
type Metrics struct {
	Dispatches  int    // SubmitSplitCopy calls that passed validation
	Splits      int    // dispatches fanned out across a lane group
	Direct      int    // dispatches issued on the control lane
	BytesSplit  uint64 // payload bytes carried by split dispatches
	BytesDirect uint64 // payload bytes carried by direct dispatches
	Failures    int    // dispatches aborted by an error

	PoolGrowths int // batches allocated from a new device event pool
	BatchReuses int // batches reused after their marker signaled

	Reasons         map[string]int // decision reason -> count
	LaneSubmissions map[int]int    // engine ordinal -> submissions made by split dispatches
}

// NewMetrics returns an empty Metrics with its maps allocated.
func NewMetrics() *Metrics {
	return &Metrics{
		Reasons:         make(map[string]int),
		LaneSubmissions: make(map[int]int),
	}
}

func (m *Metrics) clone() Metrics {
	out := *m
	out.Reasons = make(map[string]int, len(m.Reasons))
	for k, v := range m.Reasons {
		out.Reasons[k] = v
	}
	out.LaneSubmissions = make(map[int]int, len(m.LaneSubmissions))
	for k, v := range m.LaneSubmissions {
		out.LaneSubmissions[k] = v
	}
	return out
}

// Print writes a human-readable summary of the counters.
func (m *Metrics) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Split Dispatch Metrics ===")
	fmt.Fprintf(w, "Dispatches           : %d\n", m.Dispatches)
	fmt.Fprintf(w, "Split / Direct       : %d / %d\n", m.Splits, m.Direct)
	fmt.Fprintf(w, "Bytes Split          : %s\n", humanize.IBytes(m.BytesSplit))
	fmt.Fprintf(w, "Bytes Direct         : %s\n", humanize.IBytes(m.BytesDirect))
	fmt.Fprintf(w, "Failures             : %d\n", m.Failures)
	fmt.Fprintf(w, "Event Pool Growths   : %d\n", m.PoolGrowths)
	fmt.Fprintf(w, "Event Batch Reuses   : %d\n", m.BatchReuses)

	if len(m.Reasons) > 0 {
		fmt.Fprintln(w, "Decisions:")
		reasons := make([]string, 0, len(m.Reasons))
		for r := range m.Reasons {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		for _, r := range reasons {
			fmt.Fprintf(w, "  %-42s %d\n", r, m.Reasons[r])
		}
	}
	if len(m.LaneSubmissions) > 0 {
		fmt.Fprintln(w, "Lane Submissions:")
		ordinals := make([]int, 0, len(m.LaneSubmissions))
		for o := range m.LaneSubmissions {
			ordinals = append(ordinals, o)
		}
		sort.Ints(ordinals)
		for _, o := range ordinals {
			fmt.Fprintf(w, "  engine %-3d %d\n", o, m.LaneSubmissions[o])
		}
	}
}

// MetricsSink receives dispatch observations as they happen. The telemetry
// package provides a Prometheus-backed implementation.
type MetricsSink interface {
	ObserveDispatch(dir DirectionClass, op OperationKind, split bool, lanes int, bytes uint64)
	ObserveFailure(kind string)
	ObservePoolGrowth()
	ObserveBatchReuse()
}

// FailureKind names the error class of err for metrics labels.
func FailureKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDeviceLost):
		return "device_lost"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrResourceExhausted):
		return "resource_exhausted"
	case errors.Is(err, ErrSubmissionFailure):
		return "submission_failure"
	case errors.Is(err, ErrNotReady):
		return "not_ready"
	default:
		return "other"
	}
}
