// Package store declares the persistence boundary of the checkout engine.
// Implementations live in memstore (optimistic, in-process) and pgstore
// (Postgres, serializable transactions).
package store

import (
	"context"
	"errors"

	"github.com/nazeru/storefront-tx-go/internal/order/domain"
)

var (
	ErrNotFound       = errors.New("store: not found")
	ErrReadAfterWrite = errors.New("store: read issued after a write in the same transaction")
	ErrDuplicateKey   = errors.New("store: idempotency key already used by this user")
	ErrNegativeStock  = errors.New("store: stock would be negative")
)

// Tx is the handle passed to a transaction body. Every read must happen
// before the first write.
type Tx interface {
	ReadProduct(ctx context.Context, id domain.ProductID) (domain.Product, error)
	WriteStock(ctx context.Context, id domain.ProductID, stock int) error
	CreateOrder(ctx context.Context, o domain.NewOrder) (domain.OrderID, error)
}

// Transactor runs fn as one all-or-nothing attempt. A lost write conflict
// is reported as retry.ErrConflict; retrying is the caller's decision.
type Transactor interface {
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// IdempotencyIndex finds the order a user already placed under a key.
// Keys are scoped to the user; two users may send the same key.
type IdempotencyIndex interface {
	OrderForKey(ctx context.Context, user domain.UserID, key string) (domain.Order, bool, error)
}

type CheckoutStore interface {
	Transactor
	IdempotencyIndex
}

type ProductStore interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id domain.ProductID) (domain.Product, error)
	PutProduct(ctx context.Context, p domain.Product) error
}

// OrderFilter narrows ListOrders. The zero value matches every order.
type OrderFilter struct {
	UserID domain.UserID
}

type OrderStore interface {
	// ListOrders returns orders newest first.
	ListOrders(ctx context.Context, f OrderFilter) ([]domain.Order, error)
	GetOrder(ctx context.Context, id domain.OrderID) (domain.Order, error)
	UpdateOrderStatus(ctx context.Context, id domain.OrderID, status domain.OrderStatus) error
}

type UserDirectory interface {
	GetProfile(ctx context.Context, id domain.UserID) (domain.UserProfile, error)
}

type ProfileStore interface {
	UserDirectory
	PutProfile(ctx context.Context, p domain.UserProfile) error
}

type Store interface {
	CheckoutStore
	ProductStore
	OrderStore
	ProfileStore
	Ping(ctx context.Context) error
	Close()
}
