package orders

import (
	"errors"
	"fmt"
)

var (
	ErrNoItems                = errors.New("no order items")
	ErrInvalidLineItem        = errors.New("invalid line item")
	ErrInvalidQuantity        = errors.New("invalid quantity")
	ErrInvalidShippingAddress = errors.New("invalid shipping address")
	ErrInvalidPaymentMethod   = errors.New("invalid payment method")
	ErrProductNotFound        = errors.New("product not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrTransactionConflict    = errors.New("transaction conflict")

	// ErrStockConflict is returned by a Catalog when a guarded decrement
	// would take stock below zero.
	ErrStockConflict = errors.New("stock conflict")

	ErrOrderNotFound         = errors.New("order not found")
	ErrForbidden             = errors.New("not authorized for this order")
	ErrOrderAlreadyCancelled = errors.New("order is already cancelled")
	ErrOrderDelivered        = errors.New("cannot cancel a delivered order")
	ErrInvalidStatus         = errors.New("invalid order status")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrUserNotFound          = errors.New("user not found")
)

// ValidationError is a client fault tied to one request field.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s %s", e.Err, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ProductError names the line item whose product could not be resolved.
type ProductError struct {
	ProductID string
}

func (e *ProductError) Error() string {
	return fmt.Sprintf("product not found: %s", e.ProductID)
}

func (e *ProductError) Unwrap() error { return ErrProductNotFound }

// StockError reports a shortfall on one product. Retryable is set when the
// shortfall was detected by the in-transaction re-check, i.e. a concurrent
// order took the stock after the preliminary check passed; such errors also
// match ErrTransactionConflict.
type StockError struct {
	ProductID string
	Name      string
	Requested int
	Available int
	Retryable bool
}

func (e *StockError) Shortfall() int { return e.Requested - e.Available }

func (e *StockError) Error() string {
	name := e.Name
	if name == "" {
		name = e.ProductID
	}
	msg := fmt.Sprintf("insufficient stock for product %s: requested %d, available %d (short %d)",
		name, e.Requested, e.Available, e.Shortfall())
	if e.Retryable {
		msg += ", try again"
	}
	return msg
}

func (e *StockError) Is(target error) bool {
	switch target {
	case ErrInsufficientStock:
		return true
	case ErrTransactionConflict:
		return e.Retryable
	}
	return false
}
