package oauth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var statesIssuedCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "keel_oauth_states_issued_total",
	Help: "OAuth anti-CSRF states issued.",
})

var statesConsumedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "keel_oauth_states_consumed_total",
	Help: "OAuth state redemptions by outcome.",
}, []string{"outcome"})

var callbacksLimitedCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "keel_oauth_callbacks_limited_total",
	Help: "OAuth callbacks refused by the per-IP rate limit.",
})
