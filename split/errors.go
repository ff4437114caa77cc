package split

import (
	"errors"

	"github.com/inference-sim/copysplit/split/device"
)

var (
	// ErrInvalidArgument rejects a request before any resource is touched.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrResourceExhausted reports that events or lanes could not be allocated.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrSubmissionFailure reports that appending to a lane failed. Lanes
	// appended before the failure keep their work queued.
	ErrSubmissionFailure = errors.New("submission failure")
	// ErrDeviceLost is fatal and never retried.
	ErrDeviceLost = device.ErrDeviceLost
	// ErrNotReady reports an expired wait.
	ErrNotReady = device.ErrNotReady
	// ErrStaleHandle reports a BatchRef whose batch has since been reused.
	ErrStaleHandle = errors.New("stale batch handle")
)
