package cyclecount

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sessionsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "keel_cyclecount_sessions_total",
	Help: "counter of cycle count sessions opened, by scope",
}, []string{"type"})

var countsSubmittedCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "keel_cyclecount_counts_submitted_total",
	Help: "counter of individual counts submitted to open sessions",
})

var completionsCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "keel_cyclecount_completions_total",
	Help: "counter of sessions completed",
})
