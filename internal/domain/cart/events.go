package cart

import "time"

const (
	ChangeUpserted  = "upserted"
	ChangeRemoved   = "removed"
	ChangeValidated = "validated"
	ChangeMerged    = "merged"
	ChangeCleared   = "cleared"
)

// UpdatedEvent tells real-time collaborators that a cart changed and should be re-read.
type UpdatedEvent struct {
	Owner       Owner
	ProductID   string
	Change      string
	Corrections []Correction
	OccurredAt  time.Time
}

func (UpdatedEvent) EventName() string { return "cart_update" }

func NewUpdatedEvent(owner Owner, productID, change string) UpdatedEvent {
	return UpdatedEvent{
		Owner:      owner,
		ProductID:  productID,
		Change:     change,
		OccurredAt: time.Now().UTC(),
	}
}
