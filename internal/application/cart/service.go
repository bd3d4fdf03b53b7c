package cart

import (
	"context"

	"github.com/cleanandflip/marketplace/internal/application"
	domain "github.com/cleanandflip/marketplace/internal/domain/cart"
	"github.com/cleanandflip/marketplace/internal/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	cartService = "cart-service"

	useCaseAdd      = "cart.add"
	useCaseSet      = "cart.set_quantity"
	useCaseRemove   = "cart.remove"
	useCaseView     = "cart.view"
	useCaseValidate = "cart.validate"
	useCaseMerge    = "cart.merge"
)

// Service exposes cart operations to adapters. Each call is one repository transaction,
// followed by a best-effort cart_update event once that transaction committed.
type Service struct {
	repo    domain.Repository
	emitter *application.Emitter
	run     application.Instrumentation

	corrections observability.Counter // cart_corrections_total{action}
}

func NewService(repo domain.Repository, emitter *application.Emitter, tel observability.Observability) *Service {
	tel = observability.OrNop(tel)
	return &Service{
		repo:        repo,
		emitter:     emitter,
		run:         application.NewInstrumentation(tel, cartService),
		corrections: tel.Metrics().Counter(observability.MCartCorrections),
	}
}

type AddItemInput struct {
	Owner     domain.Owner
	ProductID string
	Quantity  int
	Mode      domain.Mode
}

func (s *Service) AddItem(ctx context.Context, in AddItemInput) (item *domain.Item, err error) {
	if in.Mode == "" {
		in.Mode = domain.ModeAdd
	}
	useCase := useCaseAdd
	if in.Mode == domain.ModeSet {
		useCase = useCaseSet
	}
	err = s.run.Run(ctx, useCase, "UpsertCartItem", append(ownerAttrs(in.Owner),
		attribute.String("product.id", in.ProductID),
		attribute.Int("cart.quantity", in.Quantity),
		attribute.String("cart.mode", string(in.Mode)),
	), func(ctx context.Context, span trace.Span) error {
		var err error
		if item, err = s.repo.Upsert(ctx, in.Owner, in.ProductID, in.Quantity, in.Mode); err != nil {
			return err
		}
		span.SetAttributes(attribute.Int("cart.item_quantity", item.Quantity))
		s.emit(ctx, domain.NewUpdatedEvent(in.Owner, in.ProductID, domain.ChangeUpserted))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Service) SetQuantity(ctx context.Context, owner domain.Owner, productID string, quantity int) (*domain.Item, error) {
	return s.AddItem(ctx, AddItemInput{Owner: owner, ProductID: productID, Quantity: quantity, Mode: domain.ModeSet})
}

func (s *Service) RemoveItem(ctx context.Context, owner domain.Owner, productID string) error {
	return s.run.Run(ctx, useCaseRemove, "RemoveCartItem", append(ownerAttrs(owner),
		attribute.String("product.id", productID),
	), func(ctx context.Context, _ trace.Span) error {
		if err := s.repo.Remove(ctx, owner, productID); err != nil {
			return err
		}
		s.emit(ctx, domain.NewUpdatedEvent(owner, productID, domain.ChangeRemoved))
		return nil
	})
}

// View is the self-healing read: rows for missing or inactive products are dropped.
func (s *Service) View(ctx context.Context, owner domain.Owner) (view domain.View, err error) {
	err = s.run.Run(ctx, useCaseView, "ViewCart", ownerAttrs(owner), func(ctx context.Context, span trace.Span) error {
		items, err := s.repo.ListForOwner(ctx, owner)
		if err != nil {
			return err
		}
		view = domain.NewView(owner, items)
		span.SetAttributes(attribute.Int("cart.items", len(items)))
		return nil
	})
	return view, err
}

// Validate repairs the cart against live stock and reports what it changed.
func (s *Service) Validate(ctx context.Context, owner domain.Owner) (corrections []domain.Correction, err error) {
	err = s.run.Run(ctx, useCaseValidate, "ValidateCart", ownerAttrs(owner), func(ctx context.Context, span trace.Span) error {
		var err error
		if corrections, err = s.repo.Validate(ctx, owner); err != nil {
			return err
		}
		span.SetAttributes(attribute.Int("cart.corrections", len(corrections)))
		if len(corrections) == 0 {
			return nil
		}
		for _, c := range corrections {
			s.corrections.Add(1, observability.L("action", string(c.Action)))
		}
		ev := domain.NewUpdatedEvent(owner, "", domain.ChangeValidated)
		ev.Corrections = corrections
		s.emit(ctx, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return corrections, nil
}

// Merge moves a guest cart to the user who just logged in. Duplicate products are kept as separate rows.
func (s *Service) Merge(ctx context.Context, sessionID, userID string) (moved int, err error) {
	err = s.run.Run(ctx, useCaseMerge, "MergeCart", []attribute.KeyValue{
		attribute.String("cart.session_id", sessionID),
		attribute.String("cart.user_id", userID),
	}, func(ctx context.Context, span trace.Span) error {
		var err error
		if moved, err = s.repo.MergeOnLogin(ctx, sessionID, userID); err != nil {
			return err
		}
		span.SetAttributes(attribute.Int("cart.moved", moved))
		if moved > 0 {
			s.emit(ctx, domain.NewUpdatedEvent(domain.UserOwner(userID), "", domain.ChangeMerged))
		}
		return nil
	})
	return moved, err
}

func (s *Service) emit(ctx context.Context, ev domain.UpdatedEvent) {
	_ = s.emitter.Emit(ctx, ev)
}

func ownerAttrs(owner domain.Owner) []attribute.KeyValue {
	if owner.IsUser() {
		return []attribute.KeyValue{attribute.String("cart.user_id", owner.UserID)}
	}
	return []attribute.KeyValue{attribute.String("cart.session_id", owner.SessionID)}
}
