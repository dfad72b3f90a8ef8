package events

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the Prometheus instruments AutoEventsEmitter and
// Confirmator update. Passing nil as the metrics argument of
// NewAutoEventsEmitter or NewConfirmator disables that component's
// instrumentation (tests, CLI dry-runs).
type Metrics struct {
	CycleFailures prometheus.Counter
	BufferDepth   prometheus.Gauge
}

// NewMetrics registers the pipeline's instruments against reg, scoped
// by contract address so multiple emitters in one process don't
// collide. This is the concrete answer to the §9 Open Question: every
// swallowed cycle failure increments CycleFailures instead of only
// being logged.
func NewMetrics(reg prometheus.Registerer, contract string) (*Metrics, error) {
	m := &Metrics{
		CycleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "web3_events",
			Name:        "cycle_failures_total",
			Help:        "Count of fetch/confirmation cycle failures routed to the error channel.",
			ConstLabels: prometheus.Labels{"contract": contract},
		}),
		BufferDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "web3_events",
			Name:        "buffer_depth",
			Help:        "Number of events currently buffered awaiting confirmation.",
			ConstLabels: prometheus.Labels{"contract": contract},
		}),
	}
	for _, c := range []prometheus.Collector{m.CycleFailures, m.BufferDepth} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
