package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/storefront-tx-go/internal/auth"
	"github.com/nazeru/storefront-tx-go/internal/catalog"
	"github.com/nazeru/storefront-tx-go/internal/client"
	"github.com/nazeru/storefront-tx-go/internal/httpapi"
	"github.com/nazeru/storefront-tx-go/internal/order/domain"
	"github.com/nazeru/storefront-tx-go/internal/order/projection"
	"github.com/nazeru/storefront-tx-go/internal/order/store/memstore"
	"github.com/nazeru/storefront-tx-go/internal/order/tx"
)

func setup(t *testing.T) (*client.Client, *auth.Session, *memstore.Store) {
	t.Helper()
	ctx := context.Background()
	ms := memstore.New()
	require.NoError(t, ms.PutProduct(ctx, domain.Product{ID: "p1", Name: "Smart Watch", Price: decimal.RequireFromString("249.99"), Stock: 2}))
	require.NoError(t, ms.PutProfile(ctx, domain.UserProfile{UID: "root", Role: domain.RoleAdmin}))

	srv := httptest.NewServer(httpapi.NewRouter(httpapi.Deps{
		Checkout: tx.NewEngine(ms),
		Catalog:  catalog.New(ms),
		Orders:   projection.New(ms, ms),
		Users:    ms,
		Gatherer: prometheus.NewRegistry(),
	}))
	t.Cleanup(srv.Close)

	sess := auth.NewSession()
	return client.New(srv.URL, sess, 0), sess, ms
}

func TestClient_CheckoutFlow(t *testing.T) {
	ctx := context.Background()
	c, sess, _ := setup(t)

	ps, err := c.Products(ctx)
	require.NoError(t, err)
	require.Len(t, ps, 1)

	_, err = c.Checkout(ctx, []domain.CartItem{ps[0].CartItem(1)}, "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	sess.SignIn(domain.Principal{ID: "alice"})
	res, err := c.Checkout(ctx, []domain.CartItem{ps[0].CartItem(1)}, "key-1")
	require.NoError(t, err)
	assert.False(t, res.Replayed)

	again, err := c.Checkout(ctx, []domain.CartItem{ps[0].CartItem(1)}, "key-1")
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, res.OrderID, again.OrderID)

	_, err = c.Checkout(ctx, []domain.CartItem{ps[0].CartItem(5)}, "")
	var stock *domain.InsufficientStockError
	require.ErrorAs(t, err, &stock)
	assert.Equal(t, 5, stock.Requested)
	assert.Equal(t, 1, stock.Available)

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)

	orders, err := c.MyOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestClient_AdminCalls(t *testing.T) {
	ctx := context.Background()
	c, sess, ms := setup(t)

	sess.SignIn(domain.Principal{ID: "alice"})
	_, err := c.AllOrders(ctx)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	res, err := c.Checkout(ctx, []domain.CartItem{{ID: "p1", Quantity: 1}}, "")
	require.NoError(t, err)

	sess.SignIn(domain.Principal{ID: "root"})
	views, err := c.AllOrders(ctx)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, projection.UnknownUser, views[0].CustomerName)

	require.NoError(t, c.UpdateStatus(ctx, res.OrderID, domain.OrderStatusDelivered))
	o, err := ms.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDelivered, o.Status)
	assert.ErrorIs(t, c.UpdateStatus(ctx, "missing", domain.OrderStatusShipped), domain.ErrOrderNotFound)

	p, err := c.CreateProduct(ctx, catalog.ProductInput{Name: "Lamp", Price: decimal.NewFromInt(20), Stock: 3})
	require.NoError(t, err)
	p, err = c.UpdateProduct(ctx, p.ID, catalog.ProductInput{Name: "Desk Lamp", Price: decimal.NewFromInt(25), Stock: 1})
	require.NoError(t, err)
	assert.Equal(t, "Desk Lamp", p.Name)

	sum, err := c.Sales(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.TotalOrders)

	_, err = c.Insight(ctx, "why?")
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Nil(t, errors.Unwrap(apiErr))
}
