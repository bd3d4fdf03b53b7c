package outbox

import "context"

// Event is a domain event identified by name (cart_update, order_created).
type Event interface {
	EventName() string
}

type Handler func(ctx context.Context, e Event) error

// Publisher hands an event to the delivery side. Callers publish only after their
// transaction committed and treat failures as non-fatal.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type Subscriber interface {
	Subscribe(eventName string, h Handler)
}
