package compositor

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	applied    prometheus.Counter
	callbacks  *prometheus.CounterVec
	latchDelay prometheus.Histogram
	nodes      prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := metrics{
		applied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sc",
			Name:      "transactions_applied_total",
			Help:      "Number of transactions applied and presented",
		}),
		callbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sc",
				Name:      "callbacks_invoked_total",
				Help:      "Number of transaction callbacks invoked",
			},
			[]string{"phase"},
		),
		latchDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sc",
			Name:      "latch_delay_seconds",
			Help:      "Delay between a transaction's desired present time and its latch time",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		nodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sc",
			Name:      "nodes",
			Help:      "Number of surface nodes alive",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.applied, m.callbacks, m.latchDelay, m.nodes)
	}
	return &m
}
