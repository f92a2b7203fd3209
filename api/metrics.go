package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "keel_api_requests_total",
	Help: "Handled HTTP requests by method and status.",
}, []string{"method", "status"})
