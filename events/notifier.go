package events

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Notifier listens for transfer and movement events and re-publishes them as
// notification events when the tenant's Config enables the fan-out.
// notification.batch addresses the warehouse-manager audience;
// notification.send addresses the single owner of the affected order.
type Notifier struct {
	bus     *Bus
	configs *ConfigStore
}

// NewNotifier builds a Notifier and subscribes it on |bus|.
func NewNotifier(bus *Bus, configs *ConfigStore) *Notifier {
	var n = &Notifier{bus: bus, configs: configs}

	bus.Subscribe(TransferRequested, n.relay(
		func(c Config) bool { return c.TransferRequested },
		NotificationBatch, "warehouse_managers"))
	bus.Subscribe(TransferApproved, n.relay(
		func(c Config) bool { return c.TransferApproved },
		NotificationBatch, "warehouse_managers"))
	bus.Subscribe(TransferRejected, n.relay(
		func(c Config) bool { return c.TransferRejected },
		NotificationBatch, "warehouse_managers"))
	bus.Subscribe(TransferCompleted, n.relay(
		func(c Config) bool { return c.TransferCompleted },
		NotificationSend, "order_owner"))
	bus.Subscribe(MovementCompleted, n.relay(
		func(c Config) bool { return c.MovementCompleted },
		NotificationBatch, "warehouse_managers"))

	return n
}

func (n *Notifier) relay(enabled func(Config) bool, name, audience string) Handler {
	return func(ctx context.Context, event Event) {
		var config, err = n.configs.Get(ctx, event.OrganizationID)
		if err != nil {
			log.WithFields(log.Fields{
				"error": err,
				"event": event.Name,
				"org":   event.OrganizationID,
			}).Warn("failed to load notification config; skipping fan-out")
			return
		}
		if !enabled(config) {
			return
		}

		var payload = map[string]interface{}{
			"audience": audience,
			"event":    event.Name,
		}
		for k, v := range event.Payload {
			payload[k] = v
		}
		n.bus.Publish(ctx, Event{
			Name:           name,
			OrganizationID: event.OrganizationID,
			Payload:        payload,
		})
	}
}
