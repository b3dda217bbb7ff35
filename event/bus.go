package event

import (
	"context"
	"time"

	"github.com/conducthq/conduct"
	"github.com/conducthq/conduct/id"
)

// Bus provides high-level publish/subscribe operations over an event
// Store. The lifecycle bridge publishes workflow, step, and transaction
// notifications through it; external code subscribes to react to them.
type Bus struct {
	store Store
}

// NewBus creates a bus over the given event store.
func NewBus(store Store) *Bus {
	return &Bus{store: store}
}

// Publish records a named event with its payload. The event stays in
// the store until a subscriber acknowledges it.
func (b *Bus) Publish(ctx context.Context, name string, payload conduct.Document) (*Event, error) {
	evt := &Event{
		ID:        id.NewEventID(),
		Name:      name,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := b.store.PublishEvent(ctx, evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// Subscribe blocks until an unacknowledged event with the given name
// exists, the timeout passes (nil event, nil error), or ctx is done.
func (b *Bus) Subscribe(ctx context.Context, name string, timeout time.Duration) (*Event, error) {
	return b.store.SubscribeEvent(ctx, name, timeout)
}

// Ack marks an event consumed so later Subscribe calls skip it.
func (b *Bus) Ack(ctx context.Context, eventID id.EventID) error {
	return b.store.AckEvent(ctx, eventID)
}

// Store exposes the backing event store.
func (b *Bus) Store() Store { return b.store }
