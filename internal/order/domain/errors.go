package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrEmptyCart          = errors.New("cart is empty")
	ErrInvalidQuantity    = errors.New("quantity must be positive")
	ErrTransactionAborted = errors.New("transaction aborted")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrOrderNotFound      = errors.New("order not found")
	// ErrKeyReused means an idempotency key came back with a different cart.
	ErrKeyReused = errors.New("idempotency key reused for a different cart")
)

type ProductNotFoundError struct {
	ProductID ProductID
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

type InsufficientStockError struct {
	ProductID ProductID
	Name      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

type InvalidStatusError struct {
	Value string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid order status %q", e.Value)
}

// MalformedRecordError is returned when a stored document fails its schema check.
type MalformedRecordError struct {
	Kind   string
	ID     string
	Field  string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("malformed %s record: %s %s", e.Kind, e.Field, e.Reason)
	}
	return fmt.Sprintf("malformed %s record %s: %s %s", e.Kind, e.ID, e.Field, e.Reason)
}

// UserMessage turns a checkout or admin error into text fit for a customer.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var stock *InsufficientStockError
	var missing *ProductNotFoundError
	var status *InvalidStatusError
	switch {
	case errors.As(err, &stock):
		name := stock.Name
		if name == "" {
			name = string(stock.ProductID)
		}
		return fmt.Sprintf("Not enough stock for %s: you asked for %d, only %d available.", name, stock.Requested, stock.Available)
	case errors.As(err, &missing):
		return fmt.Sprintf("Product %s is no longer available.", missing.ProductID)
	case errors.As(err, &status):
		return fmt.Sprintf("%q is not a valid order status.", status.Value)
	case errors.Is(err, ErrUnauthorized):
		return "Please log in to proceed to checkout."
	case errors.Is(err, ErrForbidden):
		return "You do not have permission to do that."
	case errors.Is(err, ErrEmptyCart):
		return "Your cart is empty."
	case errors.Is(err, ErrInvalidQuantity):
		return "Quantities must be at least 1."
	case errors.Is(err, ErrOrderNotFound):
		return "Order not found."
	case errors.Is(err, ErrKeyReused):
		return "This checkout was already placed with a different cart. Please start a new checkout."
	case errors.Is(err, ErrTransactionAborted):
		return "The store is busy right now. Your cart was kept, please try again."
	case errors.Is(err, ErrStoreUnavailable):
		return "The store is unavailable. Your cart was kept, please try again later."
	}
	return "There was a problem placing your order."
}
