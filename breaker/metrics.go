package breaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// stateGauge reports 0 closed, 1 half-open, 2 open, matching gobreaker's
// state ordering.
var stateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "keel_breaker_state",
	Help: "current circuit state per carrier",
}, []string{"carrier"})

var transitionsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "keel_breaker_transitions_total",
	Help: "counter of circuit state transitions per carrier",
}, []string{"carrier", "to"})

var rejectionsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "keel_breaker_rejections_total",
	Help: "counter of calls short-circuited while a carrier is open",
}, []string{"carrier"})
