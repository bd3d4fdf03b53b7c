package postgres

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cleanandflip/marketplace/internal/domain/commerce"
	"github.com/cleanandflip/marketplace/internal/domain/order"
)

func TestCreateFromCartCommits(t *testing.T) {
	store, mock := newMockStore(t, "order-1")
	assembler := NewOrderAssembler(store, NewStockLedger(store, nil), order.Pricing{TaxRateBPS: 1000, ShippingCents: 500})

	mock.ExpectBegin()
	expectDecrement(mock, "a", 10, 2)
	expectDecrement(mock, "b", 4, 1)
	mock.ExpectExec(regexp.QuoteMeta(queryInsertOrder)).
		WithArgs("order-1", "u1", "pending", int64(2250), int64(225), int64(500), int64(2975), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	prep := mock.ExpectPrepare(regexp.QuoteMeta(queryInsertOrderItem))
	prep.ExpectExec().WithArgs("order-1", "a", 2, int64(1000)).WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WithArgs("order-1", "b", 1, int64(250)).WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryClearUserCart)).WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	o, err := assembler.CreateFromCart(context.Background(), "u1", []order.LineItem{
		{ProductID: "a", Quantity: 2, PriceCents: 1000},
		{ProductID: "b", Quantity: 1, PriceCents: 250},
	})
	if err != nil {
		t.Fatalf("CreateFromCart: %v", err)
	}
	if o.ID != "order-1" || o.Status != order.StatusPending || o.TotalCents != 2975 {
		t.Fatalf("unexpected order %+v", o)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateFromCartRollsBackOnShortfall(t *testing.T) {
	store, mock := newMockStore(t, "order-1")
	assembler := NewOrderAssembler(store, NewStockLedger(store, nil), order.Pricing{})

	mock.ExpectBegin()
	expectDecrement(mock, "a", 10, 5)
	mock.ExpectQuery(regexp.QuoteMeta(queryLockProduct)).WithArgs("b").WillReturnRows(productRows(3, 100, "active"))
	mock.ExpectRollback()

	_, err := assembler.CreateFromCart(context.Background(), "u1", []order.LineItem{
		{ProductID: "a", Quantity: 5, PriceCents: 100},
		{ProductID: "b", Quantity: 1_000_000, PriceCents: 100},
	})
	avail, ok := commerce.AvailableStock(err)
	if !ok || avail != 3 {
		t.Fatalf("expected insufficient stock with 3 available, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
