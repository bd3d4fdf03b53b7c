package commerce

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("commerce: not found")
	ErrInsufficientStock  = errors.New("commerce: insufficient stock")
	ErrInvalidOperation   = errors.New("commerce: invalid operation")
	ErrTransactionAborted = errors.New("commerce: transaction aborted")
)

// InsufficientStockError carries the stock that was available when the row lock was held,
// so callers can offer "reduce to N" instead of a bare rejection.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("commerce: insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

func InsufficientStock(productID string, requested, available int) error {
	if available < 0 {
		available = 0
	}
	return &InsufficientStockError{ProductID: productID, Requested: requested, Available: available}
}

func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidOperation, fmt.Sprintf(format, args...))
}

// Aborted marks err as a storage-detected conflict (deadlock, serialization failure, lock timeout).
func Aborted(err error) error {
	if err == nil || errors.Is(err, ErrTransactionAborted) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransactionAborted, err)
}

// IsRetryable reports whether the whole operation may be re-attempted from scratch.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransactionAborted)
}

// AvailableStock extracts the available quantity from an insufficient stock failure.
func AvailableStock(err error) (int, bool) {
	var se *InsufficientStockError
	if errors.As(err, &se) {
		return se.Available, true
	}
	return 0, false
}

// Code is a low-cardinality classification of err, suitable for metric labels and status texts.
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidOperation):
		return "invalid"
	case errors.Is(err, ErrTransactionAborted):
		return "aborted"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "error"
}
