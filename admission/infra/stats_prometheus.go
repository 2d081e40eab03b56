package infra

import (
	"context"

	"serial-allocator/admission/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusStats exporta as decisões de admissão como métricas.
// Não usa a chave como label (cardinalidade ilimitada).
type PrometheusStats struct {
	decisions *prometheus.CounterVec
	lockWait  *prometheus.HistogramVec
}

func NewPrometheusStats(reg prometheus.Registerer) (*PrometheusStats, error) {
	s := &PrometheusStats{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "serial_allocator",
			Name:      "decisions_total",
			Help:      "Admission and persistence outcomes by strategy.",
		}, []string{"strategy", "outcome"}),
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "serial_allocator",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the per-key lease.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"strategy"}),
	}
	for _, c := range []prometheus.Collector{s.decisions, s.lockWait} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *PrometheusStats) Record(_ context.Context, ev domain.StatsEvent) error {
	s.decisions.WithLabelValues(ev.Strategy, ev.Outcome).Inc()
	if ev.LockWait > 0 {
		s.lockWait.WithLabelValues(ev.Strategy).Observe(ev.LockWait.Seconds())
	}
	return nil
}
