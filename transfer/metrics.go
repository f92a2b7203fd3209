package transfer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var transitionsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "keel_transfer_transitions_total",
	Help: "counter of transfer request status transitions",
}, []string{"status"})

var workerRunsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "keel_transfer_worker_runs_total",
	Help: "counter of scheduled-transfer worker executions by outcome",
}, []string{"outcome"})
