package orders

import (
	"errors"
	"fmt"
)

var (
	ErrProductNotFound        = errors.New("product not found")
	ErrOrderNotFound          = errors.New("order not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrInvalidQuantity        = errors.New("invalid quantity")
	ErrInvalidShippingAddress = errors.New("shipping address is required")
	ErrMissingUser            = errors.New("user is required")
	ErrInvalidStatus          = errors.New("invalid order status")
	ErrDuplicateOrder         = errors.New("duplicate order")
	ErrInvalidTransition      = errors.New("invalid status transition")

	// ErrDuplicateIdempotencyKey comes from OrderStore.Insert when another
	// placement committed the same (user, key) first.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
)

// InsufficientStockError is returned when a reservation or adjustment asks for
// more units than the product has left.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
	// Adjustment marks a failure while growing an existing order.
	Adjustment bool
}

func (e *InsufficientStockError) Error() string {
	if e.Adjustment {
		return fmt.Sprintf("Cannot add %d more. Only %d left in stock.", e.Requested, e.Available)
	}
	return fmt.Sprintf("Cannot order %d. Only %d left in stock.", e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

type InvalidQuantityError struct {
	Quantity int
	// Limit is set when the quantity is positive but too large.
	Limit int
}

func (e *InvalidQuantityError) Error() string {
	if e.Limit > 0 {
		return fmt.Sprintf("quantity must be at most %d, got %d", e.Limit, e.Quantity)
	}
	return fmt.Sprintf("quantity must be a positive integer, got %d", e.Quantity)
}

func (e *InvalidQuantityError) Is(target error) bool { return target == ErrInvalidQuantity }

type DuplicateOrderError struct {
	UserID    string
	ProductID string
}

func (e *DuplicateOrderError) Error() string { return "You have already ordered this product" }

func (e *DuplicateOrderError) Is(target error) bool { return target == ErrDuplicateOrder }

type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("Invalid transition from %s to %s.", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }
