package main

import (
	"context"
	"errors"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/storefront-tx-go/internal/auth"
	"github.com/nazeru/storefront-tx-go/internal/cart"
	"github.com/nazeru/storefront-tx-go/internal/client"
	"github.com/nazeru/storefront-tx-go/internal/httpapi"
	"github.com/nazeru/storefront-tx-go/internal/order/domain"
	"github.com/nazeru/storefront-tx-go/internal/order/projection"
)

type fakeBackend struct {
	mu          sync.Mutex
	products    []domain.Product
	checkouts   int
	checkoutErr error
	statusErr   error
	rows        []projection.OrderView
}

func (f *fakeBackend) Products(context.Context) ([]domain.Product, error) {
	return f.products, nil
}

func (f *fakeBackend) Checkout(ctx context.Context, items []domain.CartItem, key string) (httpapi.CheckoutResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkouts++
	if f.checkoutErr != nil {
		return httpapi.CheckoutResponse{}, f.checkoutErr
	}
	total := domain.Total(items)
	return httpapi.CheckoutResponse{OrderID: "o-1", Total: &total}, nil
}

func (f *fakeBackend) MyOrders(context.Context) ([]domain.Order, error) { return nil, nil }

func (f *fakeBackend) AllOrders(context.Context) ([]projection.OrderView, error) {
	return f.rows, nil
}

func (f *fakeBackend) UpdateStatus(ctx context.Context, id domain.OrderID, st domain.OrderStatus) error {
	return f.statusErr
}

func newTestModel(t *testing.T, api *fakeBackend, p *domain.Principal) model {
	t.Helper()
	c := cart.New(cart.NewMemoryStorage(), "s1")
	require.NoError(t, c.Load(context.Background()))
	t.Cleanup(c.Close)

	m := initialModel(api, c, auth.NewSession(), "alice", domain.RoleUser)
	m = step(t, m, principalMsg{p: p})
	return step(t, m, productsMsg{products: api.products})
}

func step(t *testing.T, m model, msg tea.Msg) model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(model)
}

func press(t *testing.T, m model, key string) (model, tea.Cmd) {
	t.Helper()
	next, cmd := m.key(key)
	return next.(model), cmd
}

func watch() domain.Product {
	return domain.Product{ID: "w", Name: "Smart Watch", Price: decimal.RequireFromString("249.99"), Stock: 3}
}

func TestCheckout_GuardAndClearOnSuccess(t *testing.T) {
	api := &fakeBackend{products: []domain.Product{watch()}}
	m := newTestModel(t, api, &domain.Principal{ID: "alice"})

	m, _ = press(t, m, "a")
	m, _ = press(t, m, "a")
	m, cmd := press(t, m, "c")
	require.NotNil(t, cmd)
	assert.True(t, m.isCheckingOut)

	m, again := press(t, m, "c")
	assert.Nil(t, again, "a second checkout is ignored while one is in flight")

	m = step(t, m, cmd())
	assert.False(t, m.isCheckingOut)
	assert.Equal(t, 1, api.checkouts)
	assert.Contains(t, m.status, "Order o-1 placed. Total $499.98")

	s, err := m.cart.Snapshot()
	require.NoError(t, err)
	assert.True(t, s.Empty())
}

func TestCheckout_CartLockedWhileInFlight(t *testing.T) {
	api := &fakeBackend{products: []domain.Product{watch()}}
	m := newTestModel(t, api, &domain.Principal{ID: "alice"})

	m, _ = press(t, m, "a")
	m, cmd := press(t, m, "c")
	require.NotNil(t, cmd)

	m, _ = press(t, m, "a")
	assert.Equal(t, cartLocked, m.status)
	m.tab = tabCart
	for _, k := range []string{"+", "-", "d"} {
		m, _ = press(t, m, k)
		assert.Equal(t, cartLocked, m.status, "key %q", k)
	}
	s, err := m.cart.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 1, s.ItemCount())

	m = step(t, m, cmd())
	m, _ = press(t, m, "+")
	assert.NotEqual(t, cartLocked, m.status)
}

func TestCheckout_FailureKeepsCart(t *testing.T) {
	avail := 1
	api := &fakeBackend{
		products: []domain.Product{watch()},
		checkoutErr: &client.APIError{Status: 409, Code: "insufficient_stock", ProductID: "w", Requested: 2, Available: &avail,
			Message: "Not enough stock for Smart Watch: you asked for 2, only 1 available."},
	}
	m := newTestModel(t, api, &domain.Principal{ID: "alice"})
	m, _ = press(t, m, "a")
	m, _ = press(t, m, "a")
	m, cmd := press(t, m, "c")
	m = step(t, m, cmd())

	assert.Contains(t, m.status, "only 1 available")
	s, err := m.cart.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 2, s.ItemCount())
}

func TestCheckout_RequiresSignIn(t *testing.T) {
	api := &fakeBackend{products: []domain.Product{watch()}}
	m := newTestModel(t, api, nil)
	m, _ = press(t, m, "a")
	m, cmd := press(t, m, "c")
	assert.Nil(t, cmd)
	assert.Equal(t, domain.UserMessage(domain.ErrUnauthorized), m.status)
	assert.Zero(t, api.checkouts)
}

func TestAdminBoard_FailedStatusChangeRollsBack(t *testing.T) {
	api := &fakeBackend{
		rows:      []projection.OrderView{{Order: domain.Order{ID: "o1", Status: domain.OrderStatusPending}, CustomerName: "Alice"}},
		statusErr: errors.New("status 503"),
	}
	m := newTestModel(t, api, &domain.Principal{ID: "root", Role: domain.RoleAdmin})
	assert.Contains(t, m.tabs(), tabAdmin)

	m.tab = tabAdmin
	m = step(t, m, m.refresh()())
	m, cmd := press(t, m, "s")
	require.NotNil(t, cmd)
	m = step(t, m, cmd())

	st, _ := m.board.Status("o1")
	assert.Equal(t, domain.OrderStatusPending, st)
	assert.Contains(t, m.status, "failed")

	api.statusErr = nil
	m, cmd = press(t, m, "s")
	m = step(t, m, cmd())
	st, _ = m.board.Status("o1")
	assert.Equal(t, domain.OrderStatusShipped, st)
}

func TestAdminTabHiddenForUsers(t *testing.T) {
	m := newTestModel(t, &fakeBackend{}, &domain.Principal{ID: "alice", Role: domain.RoleUser})
	assert.NotContains(t, m.tabs(), tabAdmin)
	assert.Equal(t, domain.OrderStatusShipped, nextStatus(domain.OrderStatusPending))
	assert.Equal(t, domain.OrderStatusPending, nextStatus(domain.OrderStatusCancelled))
}
