package order

import "time"

// CreatedEvent is emitted after the order transaction commits.
type CreatedEvent struct {
	OrderID    string
	UserID     string
	TotalCents int64
	ItemCount  int
	OccurredAt time.Time
}

func (CreatedEvent) EventName() string { return "order_created" }

func NewCreatedEvent(o *Order) CreatedEvent {
	return CreatedEvent{
		OrderID:    o.ID,
		UserID:     o.UserID,
		TotalCents: o.TotalCents,
		ItemCount:  len(o.Items),
		OccurredAt: time.Now().UTC(),
	}
}
