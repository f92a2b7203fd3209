// Package events carries post-commit domain events between components, and
// fans selected events out as notifications under per-tenant configuration.
package events

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Event names published by the domain packages.
const (
	MovementCompleted = "movement.completed"
	TransferRequested = "transfer.requested"
	TransferApproved  = "transfer.approved"
	TransferRejected  = "transfer.rejected"
	TransferCompleted = "transfer.completed"
	NotificationBatch = "notification.batch"
	NotificationSend  = "notification.send"
)

// Event is a domain event. Publishers emit only after their originating
// transaction commits, so handlers never observe references to unwritten
// state.
type Event struct {
	Name           string
	OrganizationID string
	Payload        map[string]interface{}
}

// Handler consumes an event. Handlers run synchronously on the publisher's
// goroutine and must not block.
type Handler func(ctx context.Context, event Event)

// Bus is the in-process pub/sub fabric.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Subscribe registers |h| for events named |name|.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// Publish delivers |event| to its subscribers in registration order.
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	var handlers = b.handlers[event.Name]
	b.mu.RUnlock()

	log.WithFields(log.Fields{
		"event": event.Name,
		"org":   event.OrganizationID,
	}).Debug("publishing event")

	for _, h := range handlers {
		h(ctx, event)
	}
}
