package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/storefront-tx-go/internal/order/domain"
	"github.com/nazeru/storefront-tx-go/internal/order/store"
	"github.com/nazeru/storefront-tx-go/internal/order/store/memstore"
	"github.com/nazeru/storefront-tx-go/pkg/contracts"
	"github.com/nazeru/storefront-tx-go/pkg/outbox"
)

type recorder struct {
	got    []outbox.Record
	failOn int
}

func (r *recorder) Publish(ctx context.Context, rec outbox.Record) error {
	if r.failOn > 0 && len(r.got)+1 == r.failOn {
		return errors.New("broker down")
	}
	r.got = append(r.got, rec)
	return nil
}

func placeOrders(t *testing.T, s *memstore.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, s.RunTransaction(context.Background(), func(ctx context.Context, tx store.Tx) error {
			_, err := tx.CreateOrder(ctx, domain.NewOrder{UserID: "u1", Status: domain.OrderStatusPending, Total: decimal.NewFromInt(1)})
			return err
		}))
	}
}

func TestRelayFlush_PublishesInOrderOnce(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	placeOrders(t, s, 3)

	pub := &recorder{}
	r := &outbox.Relay{Source: s, Publisher: pub, Service: "test"}
	n, err := r.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, pub.got, 3)
	for i, rec := range pub.got {
		assert.Equal(t, int64(i+1), rec.ID)
		assert.Equal(t, contracts.TopicOrders, rec.Topic)

		var ev contracts.Event
		require.NoError(t, json.Unmarshal(rec.Payload, &ev))
		assert.Equal(t, contracts.EventOrderCreated, ev.Type)
		assert.Equal(t, rec.Key, ev.OrderID)
	}

	n, err = r.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelayFlush_StopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	placeOrders(t, s, 3)

	pub := &recorder{failOn: 2}
	r := &outbox.Relay{Source: s, Publisher: pub}
	n, err := r.Flush(ctx)
	assert.Error(t, err)
	assert.Equal(t, 1, n)

	pub.failOn = 0
	n, err = r.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, pub.got, 3)
	assert.Equal(t, int64(2), pub.got[1].ID)
}
