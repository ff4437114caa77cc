package cmd

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/copysplit/split"
	"github.com/inference-sim/copysplit/split/hw"
	"github.com/inference-sim/copysplit/split/telemetry"
	"github.com/inference-sim/copysplit/split/trace"
	"github.com/inference-sim/copysplit/split/workload"
)

// runOptions controls one workload run on a fresh simulated device.
type runOptions struct {
	Verify     bool
	TraceLevel trace.TraceLevel
	Registerer prometheus.Registerer // nil disables Prometheus metrics
}

// runReport is what one run produced.
type runReport struct {
	Result   *workload.Result
	Metrics  split.Metrics
	Elapsed  time.Duration
	Trace    *trace.DispatchTrace
	Degraded string
}

// runWorkload builds a device from the profile and runs the spec on it.
// Every call is isolated: nothing is shared between runs.
func runWorkload(p DeviceProfile, cfg split.Config, spec *workload.Spec, opts runOptions) (*runReport, error) {
	if spec.Mode != "" {
		mode, err := split.ParseSubmissionMode(spec.Mode)
		if err != nil {
			return nil, err
		}
		cfg.Mode = mode
	}
	transfers, err := workload.Generate(spec)
	if err != nil {
		return nil, err
	}

	dev := hw.NewDevice(p.HardwareConfig())
	var sink split.MetricsSink
	if opts.Registerer != nil {
		sink = telemetry.NewSink(opts.Registerer)
	}
	dt := trace.NewDispatchTrace(opts.TraceLevel)
	d, err := split.NewDispatcher(dev, cfg, split.Observers{
		Trace: dt,
		Sink:  sink,
		Clock: func() int64 { return dev.Elapsed().Nanoseconds() },
	})
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}

	rng := workload.NewPartitionedRNG(spec.Seed).ForSubsystem(workload.SubsystemContent)
	res, runErr := workload.Run(d, dev, transfers, rng, workload.RunOptions{Verify: opts.Verify})
	if err := d.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("closing dispatcher: %w", err)
	}
	if runErr != nil {
		return nil, runErr
	}
	return &runReport{
		Result:   res,
		Metrics:  d.Metrics(),
		Elapsed:  dev.Elapsed(),
		Trace:    dt,
		Degraded: d.Registry().DegradedReason(),
	}, nil
}

// newProfileDispatcher builds a dispatcher on a fresh device without observers.
func newProfileDispatcher(p DeviceProfile, cfg split.Config) (*split.Dispatcher, error) {
	return split.NewDispatcher(hw.NewDevice(p.HardwareConfig()), cfg, split.Observers{})
}

// printReport writes the run summary.
func printReport(w io.Writer, r *runReport) {
	if r.Degraded != "" {
		logrus.Warnf("degraded lane registry: %s", r.Degraded)
	}
	r.Metrics.Print(w)
	fmt.Fprintf(w, "Transfers            : %d (%s)\n", r.Result.Transfers, humanize.IBytes(r.Result.Bytes))
	fmt.Fprintf(w, "Simulated Elapsed    : %v\n", r.Elapsed)
	if r.Elapsed > 0 {
		rate := float64(r.Result.Bytes) / r.Elapsed.Seconds()
		fmt.Fprintf(w, "Throughput           : %s/s\n", humanize.IBytes(uint64(rate)))
	}
	fmt.Fprintf(w, "Content Digest       : %x\n", r.Result.Digest[:8])
	if len(r.Result.Mismatches) > 0 {
		fmt.Fprintf(w, "Mismatches           : %d\n", len(r.Result.Mismatches))
		for _, m := range r.Result.Mismatches {
			fmt.Fprintf(w, "  transfer %d differs at byte %d\n", m.TransferID, m.Offset)
		}
	}
	if r.Trace.Enabled() {
		s := trace.Summarize(r.Trace)
		fmt.Fprintln(w, "=== Dispatch Trace ===")
		fmt.Fprintf(w, "Decisions            : %d (split %d, direct %d, ratio %.2f)\n",
			s.TotalDecisions, s.SplitCount, s.DirectCount, s.SplitRatio)
		fmt.Fprintf(w, "Failures             : %d\n", s.FailureCount)
		engines := make([]int, 0, len(s.BytesPerEngine))
		for engine := range s.BytesPerEngine {
			engines = append(engines, engine)
		}
		sort.Ints(engines)
		for _, engine := range engines {
			fmt.Fprintf(w, "  engine %-3d %s\n", engine, humanize.IBytes(s.BytesPerEngine[engine]))
		}
	}
}
