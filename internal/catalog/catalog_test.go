package catalog

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/storefront-tx-go/internal/order/domain"
	"github.com/nazeru/storefront-tx-go/internal/order/store/memstore"
)

var (
	admin = &domain.Principal{ID: "root", Role: domain.RoleAdmin}
	user  = &domain.Principal{ID: "alice", Role: domain.RoleUser}
)

func TestSeed_OnlyWhenEmpty(t *testing.T) {
	ctx := context.Background()
	svc := New(memstore.New())

	n, err := svc.Seed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = svc.Seed(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	ps, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, ps, 4)
	assert.Equal(t, "Coffee Maker", ps[0].Name)
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	svc := New(s)

	p, err := svc.Create(ctx, admin, ProductInput{Name: " Desk Lamp ", Price: decimal.RequireFromString("39.50"), Stock: 7})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "Desk Lamp", p.Name)
	assert.Equal(t, defaultImageURL, p.ImageURL)
	assert.Equal(t, defaultImageHint, p.ImageHint)

	stored, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, stored.Stock)
}

func TestCreate_Rejects(t *testing.T) {
	ctx := context.Background()
	svc := New(memstore.New())
	valid := ProductInput{Name: "Lamp", Price: decimal.NewFromInt(1), Stock: 1}

	_, err := svc.Create(ctx, user, valid)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = svc.Create(ctx, nil, valid)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	tests := map[string]ProductInput{
		"blank name":      {Name: " ", Price: decimal.NewFromInt(1)},
		"negative price":  {Name: "Lamp", Price: decimal.NewFromInt(-1)},
		"negative stock":  {Name: "Lamp", Price: decimal.NewFromInt(1), Stock: -2},
		"sub-cent price":  {Name: "Lamp", Price: decimal.RequireFromString("10.005")},
		"price too large": {Name: "Lamp", Price: decimal.RequireFromString("10000000000")},
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(ctx, admin, in)
			assert.ErrorIs(t, err, ErrInvalidProduct)
		})
	}
}

func TestCreate_AcceptsTrailingZeros(t *testing.T) {
	svc := New(memstore.New())
	p, err := svc.Create(context.Background(), admin, ProductInput{Name: "Lamp", Price: decimal.RequireFromString("10.500"), Stock: 1})
	require.NoError(t, err)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("10.5")))
}

func TestUpdate_SetsStockDirectly(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	svc := New(s)
	_, err := svc.Seed(ctx)
	require.NoError(t, err)

	p, err := svc.Update(ctx, admin, "3", ProductInput{Name: "Smart Watch", Description: "Restocked", Price: decimal.RequireFromString("229.99"), Stock: 12})
	require.NoError(t, err)
	assert.Equal(t, 12, p.Stock)
	assert.Equal(t, "smart watch", p.ImageHint, "empty image fields keep the current value")

	stored, _ := s.GetProduct(ctx, "3")
	assert.True(t, stored.Price.Equal(decimal.RequireFromString("229.99")))

	var missing *domain.ProductNotFoundError
	_, err = svc.Update(ctx, admin, "nope", ProductInput{Name: "X", Price: decimal.NewFromInt(1)})
	assert.ErrorAs(t, err, &missing)
}
