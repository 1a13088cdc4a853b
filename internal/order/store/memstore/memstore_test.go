package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/storefront-tx-go/internal/order/domain"
	"github.com/nazeru/storefront-tx-go/internal/order/store"
	"github.com/nazeru/storefront-tx-go/pkg/contracts"
	"github.com/nazeru/storefront-tx-go/pkg/tx/retry"
)

func seeded(t *testing.T, stock int) *Store {
	t.Helper()
	s := New()
	require.NoError(t, s.PutProduct(context.Background(), domain.Product{
		ID: "p1", Name: "Headphones", Price: decimal.RequireFromString("10.00"), Stock: stock,
	}))
	return s
}

func TestRunTransaction_CommitsAllWrites(t *testing.T) {
	ctx := context.Background()
	s := seeded(t, 5)

	var orderID domain.OrderID
	err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.ReadProduct(ctx, "p1")
		if err != nil {
			return err
		}
		if err := tx.WriteStock(ctx, "p1", p.Stock-2); err != nil {
			return err
		}
		orderID, err = tx.CreateOrder(ctx, domain.NewOrder{UserID: "u1", Status: domain.OrderStatusPending, Total: decimal.NewFromInt(20)})
		return err
	})
	require.NoError(t, err)

	p, err := s.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Stock)

	o, err := s.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.False(t, o.CreatedAt.IsZero())

	events := s.Events()
	require.Len(t, events, 1)
	assert.Equal(t, contracts.EventOrderCreated, events[0].Type)
	assert.Equal(t, string(orderID), events[0].OrderID)
}

func TestRunTransaction_BodyErrorDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := seeded(t, 5)
	boom := errors.New("boom")

	err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		_ = tx.WriteStock(ctx, "p1", 0)
		_, _ = tx.CreateOrder(ctx, domain.NewOrder{UserID: "u1", Status: domain.OrderStatusPending})
		return boom
	})
	assert.ErrorIs(t, err, boom)

	p, _ := s.GetProduct(ctx, "p1")
	assert.Equal(t, 5, p.Stock)
	orders, _ := s.ListOrders(ctx, store.OrderFilter{})
	assert.Empty(t, orders)
	assert.Empty(t, s.Events())
}

func TestRunTransaction_DetectsConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	s := seeded(t, 5)
	s.SetHooks(Hooks{BeforeCommit: func(ctx context.Context) {
		s.SetHooks(Hooks{})
		require.NoError(t, s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
			if _, err := tx.ReadProduct(ctx, "p1"); err != nil {
				return err
			}
			return tx.WriteStock(ctx, "p1", 1)
		}))
	}})

	err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.ReadProduct(ctx, "p1")
		if err != nil {
			return err
		}
		return tx.WriteStock(ctx, "p1", p.Stock-3)
	})
	assert.ErrorIs(t, err, retry.ErrConflict)

	p, _ := s.GetProduct(ctx, "p1")
	assert.Equal(t, 1, p.Stock, "only the interleaved write may land")
}

func TestTx_RejectsReadAfterWrite(t *testing.T) {
	ctx := context.Background()
	s := seeded(t, 5)
	err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.WriteStock(ctx, "p1", 4); err != nil {
			return err
		}
		_, err := tx.ReadProduct(ctx, "p1")
		return err
	})
	assert.ErrorIs(t, err, store.ErrReadAfterWrite)
}

func TestTx_RejectsNegativeStockAndMissingProduct(t *testing.T) {
	ctx := context.Background()
	s := seeded(t, 5)
	err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.WriteStock(ctx, "p1", -1)
	})
	assert.ErrorIs(t, err, store.ErrNegativeStock)

	err = s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.ReadProduct(ctx, "nope")
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunTransaction_DuplicateIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	s := seeded(t, 5)
	create := func(ctx context.Context, tx store.Tx) error {
		_, err := tx.CreateOrder(ctx, domain.NewOrder{UserID: "u1", Status: domain.OrderStatusPending, IdempotencyKey: "k1"})
		return err
	}
	require.NoError(t, s.RunTransaction(ctx, create))
	assert.ErrorIs(t, s.RunTransaction(ctx, create), store.ErrDuplicateKey)

	o, ok, err := s.OrderForKey(ctx, "u1", "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, domain.UserID("u1"), o.UserID)

	_, ok, err = s.OrderForKey(ctx, "u2", "k1")
	require.NoError(t, err)
	assert.False(t, ok, "keys are scoped to the user")

	require.NoError(t, s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.CreateOrder(ctx, domain.NewOrder{UserID: "u2", Status: domain.OrderStatusPending, IdempotencyKey: "k1"})
		return err
	}))
}

func TestOrderTimestamps_AreMonotonic(t *testing.T) {
	ctx := context.Background()
	s := seeded(t, 5)
	fixed := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return fixed })

	for i := 0; i < 3; i++ {
		require.NoError(t, s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
			_, err := tx.CreateOrder(ctx, domain.NewOrder{UserID: "u1", Status: domain.OrderStatusPending})
			return err
		}))
	}
	orders, err := s.ListOrders(ctx, store.OrderFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, orders, 3)
	assert.True(t, orders[0].CreatedAt.After(orders[1].CreatedAt))
	assert.True(t, orders[1].CreatedAt.After(orders[2].CreatedAt))
}

func TestUpdateOrderStatus(t *testing.T) {
	ctx := context.Background()
	s := seeded(t, 5)
	var id domain.OrderID
	require.NoError(t, s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		id, err = tx.CreateOrder(ctx, domain.NewOrder{UserID: "u1", Status: domain.OrderStatusPending})
		return err
	}))

	require.NoError(t, s.UpdateOrderStatus(ctx, id, domain.OrderStatusShipped))
	o, _ := s.GetOrder(ctx, id)
	assert.Equal(t, domain.OrderStatusShipped, o.Status)

	assert.ErrorIs(t, s.UpdateOrderStatus(ctx, "missing", domain.OrderStatusShipped), domain.ErrOrderNotFound)
	var invalid *domain.InvalidStatusError
	assert.ErrorAs(t, s.UpdateOrderStatus(ctx, id, "Lost"), &invalid)
}
