package inventory

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var movementsCreatedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "keel_inventory_movements_created_total",
	Help: "counter of stock movements accepted by the ledger",
}, []string{"type"})

var movementsExecutedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "keel_inventory_movements_executed_total",
	Help: "counter of stock movement executions by outcome",
}, []string{"type", "status"})

var updatesAppliedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "keel_inventory_updates_applied_total",
	Help: "counter of quantity updates by variance level and disposition",
}, []string{"level", "disposition"})
