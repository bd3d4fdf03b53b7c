package inventory

import (
	"context"

	"github.com/cleanandflip/marketplace/internal/application"
	dominv "github.com/cleanandflip/marketplace/internal/domain/inventory"
	"github.com/cleanandflip/marketplace/internal/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	inventoryService = "inventory-service"
	useCaseReserve   = "inventory.reserve"
	useCaseAvailable = "inventory.availability"
	reserveSpanName  = "ReserveStock"
	availabilitySpan = "CheckAvailability"
)

var _ application.UseCase[ReserveStockInput, *ReserveStockResult] = (*ReserveStockUseCase)(nil)

type ReserveStockInput struct {
	ProductID string
	// Quantity 0 only reads the current stock under the row lock.
	Quantity int
}

type ReserveStockResult struct {
	ProductID string
	Remaining int
	Peek      bool
}

// ReserveStockUseCase runs a standalone stock ledger call in a transaction of its own.
type ReserveStockUseCase struct {
	ledger dominv.Reserver
	run    application.Instrumentation
}

func NewReserveStockUseCase(ledger dominv.Reserver, tel observability.Observability) *ReserveStockUseCase {
	return &ReserveStockUseCase{
		ledger: ledger,
		run:    application.NewInstrumentation(tel, inventoryService),
	}
}

func (uc *ReserveStockUseCase) Execute(ctx context.Context, cmd ReserveStockInput) (result *ReserveStockResult, err error) {
	useCase, spanName := useCaseReserve, reserveSpanName
	if cmd.Quantity == 0 {
		useCase, spanName = useCaseAvailable, availabilitySpan
	}
	err = uc.run.Run(ctx, useCase, spanName, []attribute.KeyValue{
		attribute.String("product.id", cmd.ProductID),
		attribute.Int("stock.quantity", cmd.Quantity),
		attribute.String("stock.kind", dominv.ReservationKind(cmd.Quantity)),
	}, func(ctx context.Context, span trace.Span) error {
		remaining, err := uc.ledger.ReserveStock(ctx, cmd.ProductID, cmd.Quantity)
		if err != nil {
			return err
		}
		span.SetAttributes(attribute.Int("stock.remaining", remaining))
		result = &ReserveStockResult{
			ProductID: cmd.ProductID,
			Remaining: remaining,
			Peek:      cmd.Quantity == 0,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Availability peeks at the current stock without changing it.
func (uc *ReserveStockUseCase) Availability(ctx context.Context, productID string) (int, error) {
	res, err := uc.Execute(ctx, ReserveStockInput{ProductID: productID})
	if err != nil {
		return 0, err
	}
	return res.Remaining, nil
}
