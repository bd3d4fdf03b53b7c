package cart

import (
	"errors"
	"testing"

	"github.com/cleanandflip/marketplace/internal/domain/commerce"
)

func TestOwnerValidate(t *testing.T) {
	tests := []struct {
		name    string
		owner   Owner
		wantErr bool
	}{
		{name: "user", owner: UserOwner("u1")},
		{name: "session", owner: SessionOwner("s1")},
		{name: "both", owner: Owner{UserID: "u1", SessionID: "s1"}, wantErr: true},
		{name: "neither", owner: Owner{}, wantErr: true},
		{name: "blank", owner: Owner{UserID: "  "}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.owner.Validate()
			if tt.wantErr != (err != nil) {
				t.Fatalf("wantErr=%v, got %v", tt.wantErr, err)
			}
			if err != nil && !errors.Is(err, commerce.ErrInvalidOperation) {
				t.Fatalf("expected ErrInvalidOperation, got %v", err)
			}
		})
	}
}

func TestOwnerKey(t *testing.T) {
	if got := UserOwner("u1").Key(); got != "user:u1" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := SessionOwner("s1").Key(); got != "session:s1" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestModeTarget(t *testing.T) {
	if got, _ := ModeAdd.Target(2, 3); got != 5 {
		t.Fatalf("add: expected 5, got %d", got)
	}
	if got, _ := ModeSet.Target(2, 3); got != 3 {
		t.Fatalf("set: expected 3, got %d", got)
	}
	if _, err := ModeAdd.Target(2, 0); !errors.Is(err, commerce.ErrInvalidOperation) {
		t.Fatalf("expected invalid for zero delta, got %v", err)
	}
	if _, err := Mode("swap").Target(2, 1); !errors.Is(err, commerce.ErrInvalidOperation) {
		t.Fatalf("expected invalid mode, got %v", err)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeAdd, "add": ModeAdd, " SET ": ModeSet} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseMode("replace"); !errors.Is(err, commerce.ErrInvalidOperation) {
		t.Fatalf("expected invalid, got %v", err)
	}
}

func TestNewViewSubtotal(t *testing.T) {
	v := NewView(UserOwner("u1"), []Item{
		{ProductID: "a", Quantity: 2, UnitPriceCents: 1250},
		{ProductID: "b", Quantity: 1, UnitPriceCents: 300},
	})
	if v.SubtotalCents != 2800 {
		t.Fatalf("expected 2800, got %d", v.SubtotalCents)
	}
}
