// Package metrics exposes Prometheus collectors for a vks Context. A nil *Metrics is valid and
// records nothing, so subsystems can call it unconditionally.
package metrics

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vks"

// PoolKind labels pool counters
type PoolKind string

const (
	PoolKindCommand    PoolKind = "command"
	PoolKindDescriptor PoolKind = "descriptor"
)

type Metrics struct {
	poolsCreated     *prometheus.CounterVec
	poolsReused      *prometheus.CounterVec
	poolsDropped     *prometheus.CounterVec
	submissions      *prometheus.CounterVec
	fencesPending    prometheus.Gauge
	deferredReclaims prometheus.Counter
	gpuTime          prometheus.Histogram
}

// New builds the collectors and registers them with registerer. registerer may be nil, in which
// case the collectors are created but not registered anywhere.
func New(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		poolsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pools_created_total",
			Help:      "Native pools created by the driver.",
		}, []string{"kind"}),
		poolsReused: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pools_reused_total",
			Help:      "Requests satisfied by a recycled pool.",
		}, []string{"kind"}),
		poolsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pools_dropped_total",
			Help:      "Reclaimed pools destroyed because the recycled list was full.",
		}, []string{"kind"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Command buffer batches by completion status.",
		}, []string{"status"}),
		fencesPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fences_pending",
			Help:      "Fences waiting to signal.",
		}),
		deferredReclaims: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deferred_reclaims_total",
			Help:      "Resources released on the deferred destruction worker.",
		}),
		gpuTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_buffer_gpu_seconds",
			Help:      "GPU execution time of traced command buffers.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
	}

	if registerer == nil {
		return m, nil
	}

	for _, collector := range m.collectors() {
		err := registerer.Register(collector)
		if err != nil {
			return nil, errors.Wrap(err, "failed to register vks metrics")
		}
	}

	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.poolsCreated,
		m.poolsReused,
		m.poolsDropped,
		m.submissions,
		m.fencesPending,
		m.deferredReclaims,
		m.gpuTime,
	}
}

func (m *Metrics) PoolCreated(kind PoolKind) {
	if m == nil {
		return
	}
	m.poolsCreated.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) PoolReused(kind PoolKind) {
	if m == nil {
		return
	}
	m.poolsReused.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) PoolDropped(kind PoolKind) {
	if m == nil {
		return
	}
	m.poolsDropped.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) Submission(status string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(status).Inc()
}

func (m *Metrics) SetFencesPending(count int) {
	if m == nil {
		return
	}
	m.fencesPending.Set(float64(count))
}

func (m *Metrics) DeferredReclaims(count int) {
	if m == nil {
		return
	}
	m.deferredReclaims.Add(float64(count))
}

func (m *Metrics) GPUTime(duration time.Duration) {
	if m == nil {
		return
	}
	m.gpuTime.Observe(duration.Seconds())
}
