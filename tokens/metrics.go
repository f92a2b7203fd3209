package tokens

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "keel_tokens_cache_total",
	Help: "counter of token cache lookups by outcome",
}, []string{"outcome"})

var fetchesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "keel_tokens_fetches_total",
	Help: "counter of upstream token fetches by carrier and outcome",
}, []string{"carrier", "outcome"})
