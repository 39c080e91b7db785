package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ordersync/internal/domain/order"
)

const namespace = "ordersync"

// PipelineMetrics implements pipeline.Observer on prometheus collectors.
type PipelineMetrics struct {
	Outcomes     *prometheus.CounterVec
	Retries      *prometheus.CounterVec
	DeadLetters  *prometheus.CounterVec
	ReconcileSec prometheus.Histogram
}

// NewPipelineMetrics registers the collectors on reg. A nil reg keeps them
// unregistered.
func NewPipelineMetrics(reg prometheus.Registerer) (*PipelineMetrics, error) {
	m := &PipelineMetrics{
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "reconciled_total",
			Help:      "Events reconciled, by outcome.",
		}, []string{"outcome"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "retries_total",
			Help:      "Reconcile attempts retried, by failure reason.",
		}, []string{"reason"}),
		DeadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "dead_letters_total",
			Help:      "Events routed to the dead-letter path, by failure reason.",
		}, []string{"reason"}),
		ReconcileSec: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "reconcile_duration_seconds",
			Help:      "Time from decode to definite outcome.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.Outcomes, m.Retries, m.DeadLetters, m.ReconcileSec} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *PipelineMetrics) Reconciled(outcome order.Outcome, elapsed time.Duration) {
	m.Outcomes.WithLabelValues(outcome.String()).Inc()
	m.ReconcileSec.Observe(elapsed.Seconds())
}

func (m *PipelineMetrics) Retried(reason string) {
	m.Retries.WithLabelValues(reason).Inc()
}

func (m *PipelineMetrics) DeadLettered(reason string) {
	m.DeadLetters.WithLabelValues(reason).Inc()
}

func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
