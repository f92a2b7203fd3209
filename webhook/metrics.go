package webhook

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var verificationsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "keel_webhook_verifications_total",
	Help: "Webhook signature verifications by channel type and outcome.",
}, []string{"channel_type", "outcome"})

var duplicatesCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "keel_webhook_duplicates_total",
	Help: "Webhook deliveries suppressed as recent duplicates.",
})
