package split

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/inference-sim/copysplit/split/device"
)

func TestMetrics_Print(t *testing.T) {
	m := NewMetrics()
	m.Dispatches = 3
	m.Splits = 2
	m.Direct = 1
	m.BytesSplit = 16 << 20
	m.BytesDirect = 4096
	m.Reasons[ReasonSplit] = 2
	m.Reasons[ReasonBelowThreshold] = 1
	m.LaneSubmissions[4] = 2
	m.LaneSubmissions[3] = 2

	var buf bytes.Buffer
	m.Print(&buf)
	out := buf.String()

	assert.Contains(t, out, "=== Split Dispatch Metrics ===")
	assert.Contains(t, out, "Split / Direct       : 2 / 1")
	assert.Contains(t, out, "Bytes Split          : 16 MiB")
	assert.Contains(t, out, "Bytes Direct         : 4.0 KiB")
	// Reasons and engines are printed sorted.
	assert.Less(t, bytes.Index(buf.Bytes(), []byte(ReasonBelowThreshold)), bytes.Index(buf.Bytes(), []byte(ReasonSplit+" ")))
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("engine 3")), bytes.Index(buf.Bytes(), []byte("engine 4")))
}

func TestMetrics_Print_OmitsEmptySections(t *testing.T) {
	var buf bytes.Buffer
	NewMetrics().Print(&buf)
	assert.NotContains(t, buf.String(), "Decisions:")
	assert.NotContains(t, buf.String(), "Lane Submissions:")
}

func TestFailureKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("lane 1: %w", device.ErrDeviceLost), "device_lost"},
		{fmt.Errorf("%w: x", ErrInvalidArgument), "invalid_argument"},
		{fmt.Errorf("%w: x", ErrResourceExhausted), "resource_exhausted"},
		{fmt.Errorf("%w: lane 2: %w", ErrSubmissionFailure, device.ErrSubmissionRejected), "submission_failure"},
		{device.ErrNotReady, "not_ready"},
		{errors.New("boom"), "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FailureKind(tt.err), "%v", tt.err)
	}
}

func TestDispatchState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "dispatching", StateDispatching.String())
	assert.Equal(t, "in-flight", StateInFlight.String())
	assert.Equal(t, "completed", StateCompleted.String())
	assert.Equal(t, "unknown", DispatchState(9).String())
}
