package cart

import (
	"strings"
	"time"

	"github.com/cleanandflip/marketplace/internal/domain/commerce"
)

// Owner identifies who a cart row belongs to. Exactly one of UserID and SessionID is set.
// The identity is supplied by the session layer and trusted as opaque.
type Owner struct {
	UserID    string
	SessionID string
}

func UserOwner(userID string) Owner       { return Owner{UserID: userID} }
func SessionOwner(sessionID string) Owner { return Owner{SessionID: sessionID} }

func (o Owner) Validate() error {
	hasUser := strings.TrimSpace(o.UserID) != ""
	hasSession := strings.TrimSpace(o.SessionID) != ""
	switch {
	case hasUser && hasSession:
		return commerce.Invalid("owner must be either a user or a session, not both")
	case !hasUser && !hasSession:
		return commerce.Invalid("owner requires a user id or a session id")
	}
	return nil
}

func (o Owner) IsUser() bool { return o.UserID != "" }

// Key is a stable string form, used for lock names and log fields.
func (o Owner) Key() string {
	if o.IsUser() {
		return "user:" + o.UserID
	}
	return "session:" + o.SessionID
}

type Mode string

const (
	ModeAdd Mode = "add"
	ModeSet Mode = "set"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeAdd, "":
		return ModeAdd, nil
	case ModeSet:
		return ModeSet, nil
	}
	return "", commerce.Invalid("mode %q is not supported", s)
}

// Target computes the quantity a row should hold after an upsert.
func (m Mode) Target(existing, delta int) (int, error) {
	if delta <= 0 {
		return 0, commerce.Invalid("quantity must be greater than zero, got %d", delta)
	}
	switch m {
	case ModeAdd:
		return existing + delta, nil
	case ModeSet:
		return delta, nil
	}
	return 0, commerce.Invalid("mode %q is not supported", string(m))
}

type Item struct {
	ID        string
	Owner     Owner
	ProductID string
	Quantity  int
	CreatedAt time.Time
	UpdatedAt time.Time

	// UnitPriceCents is the live product price attached by reads; it is not persisted.
	UnitPriceCents int64
}

type Action string

const (
	ActionRemoved  Action = "removed"
	ActionAdjusted Action = "adjusted"
)

const (
	ReasonProductUnavailable = "Product unavailable"
	ReasonOutOfStock         = "Out of stock"
	ReasonQuantityReduced    = "Quantity reduced to available stock"
)

// Correction reports one repair made by cart validation.
type Correction struct {
	ItemID           string
	ProductID        string
	Action           Action
	Reason           string
	PreviousQuantity int
	Quantity         int
}

// View is a priced snapshot of a cart after the self-healing read.
type View struct {
	Owner         Owner
	Items         []Item
	SubtotalCents int64
}

func NewView(owner Owner, items []Item) View {
	v := View{Owner: owner, Items: items}
	for _, it := range items {
		v.SubtotalCents += it.UnitPriceCents * int64(it.Quantity)
	}
	return v
}
