// Package telemetry exports split-dispatch observations to Prometheus.
package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/inference-sim/copysplit/split"
)

// Sink is the Prometheus implementation of split.MetricsSink.
// A nil *Sink is valid and records nothing.
type Sink struct {
	dispatches  *prometheus.CounterVec
	bytes       *prometheus.HistogramVec
	lanes       prometheus.Histogram
	failures    *prometheus.CounterVec
	poolGrowths prometheus.Counter
	reuses      prometheus.Counter
}

var _ split.MetricsSink = (*Sink)(nil)

// NewSink registers the split metrics on reg.
func NewSink(reg prometheus.Registerer) *Sink {
	return &Sink{
		dispatches: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "copysplit_dispatches_total",
				Help: "Total number of dispatched transfers by direction, operation and path",
			},
			[]string{"direction", "op", "split"},
		),
		bytes: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "copysplit_transfer_bytes",
				Help: "Distribution of dispatched transfer sizes",
				Buckets: []float64{
					4096,      // 4KB
					65536,     // 64KB
					1048576,   // 1MB
					4194304,   // 4MB - default split threshold
					8388608,   // 8MB
					33554432,  // 32MB
					134217728, // 128MB
				},
			},
			[]string{"split"},
		),
		lanes: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "copysplit_split_lanes",
				Help:    "Number of lanes a split transfer fanned out to",
				Buckets: []float64{2, 4, 8, 16, 32},
			},
		),
		failures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "copysplit_dispatch_failures_total",
				Help: "Total number of aborted dispatches by error kind",
			},
			[]string{"kind"}, // invalid_argument, resource_exhausted, submission_failure, device_lost
		),
		poolGrowths: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "copysplit_event_pool_growths_total",
				Help: "Total number of device event pools allocated for split batches",
			},
		),
		reuses: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "copysplit_event_batch_reuses_total",
				Help: "Total number of event batches reused after their marker signaled",
			},
		),
	}
}

func (s *Sink) ObserveDispatch(dir split.DirectionClass, op split.OperationKind, isSplit bool, lanes int, bytes uint64) {
	if s == nil {
		return
	}
	label := strconv.FormatBool(isSplit)
	s.dispatches.WithLabelValues(dir.String(), op.String(), label).Inc()
	s.bytes.WithLabelValues(label).Observe(float64(bytes))
	if isSplit {
		s.lanes.Observe(float64(lanes))
	}
}

func (s *Sink) ObserveFailure(kind string) {
	if s == nil {
		return
	}
	s.failures.WithLabelValues(kind).Inc()
}

func (s *Sink) ObservePoolGrowth() {
	if s == nil {
		return
	}
	s.poolGrowths.Inc()
}

func (s *Sink) ObserveBatchReuse() {
	if s == nil {
		return
	}
	s.reuses.Inc()
}
