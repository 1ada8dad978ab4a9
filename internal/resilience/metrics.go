package resilience

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// BreakerState is 0 closed, 1 open, 2 half-open.
	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "outbound_breaker_state",
		Help: "Outbound breaker state: 0=closed,1=open,2=half-open.",
	}, []string{"name"})
	// BreakerTransitions counts state changes.
	BreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbound_breaker_transitions_total",
		Help: "Outbound breaker state transitions.",
	}, []string{"name", "from", "to"})

	registerOnce sync.Once
)

// RegisterMetrics adds the breaker collectors to reg once.
func RegisterMetrics(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		for _, c := range []prometheus.Collector{BreakerState, BreakerTransitions} {
			if err := reg.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					panic(err)
				}
			}
		}
	})
}

func observeState(name string, s State) {
	BreakerState.WithLabelValues(name).Set(float64(s))
}

func observeTransition(name string, from, to State) {
	BreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
}
