package domain

import (
	"errors"
	"fmt"
)

// Ошибки предметной области; сопоставляются через errors.Is
var (
	ErrValidation             = errors.New("validation error")
	ErrNotFound               = errors.New("not found")
	ErrItemNotFound           = fmt.Errorf("%w: item not in cart", ErrNotFound)
	ErrInvalidProduct         = errors.New("invalid product")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrEmptyCart              = errors.New("cart is empty")
	ErrInvalidTransition      = errors.New("invalid state transition")
	ErrRefundExceedsAvailable = errors.New("refund exceeds available amount")
	ErrNotRefundable          = errors.New("payment is not refundable")
	ErrPermissionDenied       = errors.New("permission denied")
	ErrConflict               = errors.New("conflict")
)

// Validationf wraps ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// InsufficientStock names the offending product.
func InsufficientStock(p Product, requested int64) error {
	return fmt.Errorf("%w for %q: requested %d, available %d", ErrInsufficientStock, p.Name, requested, p.Stock)
}
