package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    OrderStatus
		wantErr bool
	}{
		{in: "Pending", want: OrderStatusPending},
		{in: "shipped", want: OrderStatusShipped},
		{in: " DELIVERED ", want: OrderStatusDelivered},
		{in: "Cancelled", want: OrderStatusCancelled},
		{in: "Refunded", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseStatus(tc.in)
			if tc.wantErr {
				var invalid *InvalidStatusError
				assert.ErrorAs(t, err, &invalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTotal_UsesExactDecimalArithmetic(t *testing.T) {
	items := []CartItem{
		{ID: "a", Price: decimal.RequireFromString("10.00"), Quantity: 2},
		{ID: "b", Price: decimal.RequireFromString("0.10"), Quantity: 3},
	}
	assert.True(t, Total(items).Equal(decimal.RequireFromString("20.30")), "got %s", Total(items))
	assert.True(t, Total(nil).IsZero())
}

func TestDecodeItems_RoundTrip(t *testing.T) {
	items := []CartItem{{ID: "p1", Name: "Backpack", Price: decimal.RequireFromString("89.99"), ImageURL: "u", ImageHint: "h", Quantity: 2}}
	raw, err := EncodeItems(items)
	require.NoError(t, err)

	got, err := DecodeItems(raw, "order", "o1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, items[0].ID, got[0].ID)
	assert.Equal(t, items[0].Quantity, got[0].Quantity)
	assert.True(t, items[0].Price.Equal(got[0].Price))
}

func TestDecodeItems_RejectsMalformed(t *testing.T) {
	tests := map[string]string{
		"not json":          `{`,
		"missing id":        `[{"name":"x","price":"1","quantity":1}]`,
		"missing price":     `[{"id":"p","name":"x","quantity":1}]`,
		"negative price":    `[{"id":"p","name":"x","price":"-1","quantity":1}]`,
		"missing quantity":  `[{"id":"p","name":"x","price":"1"}]`,
		"zero quantity":     `[{"id":"p","name":"x","price":"1","quantity":0}]`,
		"missing name":      `[{"id":"p","price":"1","quantity":1}]`,
		"quantity a string": `[{"id":"p","name":"x","price":"1","quantity":"1"}]`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeItems([]byte(raw), "order", "o1")
			var malformed *MalformedRecordError
			assert.ErrorAs(t, err, &malformed)
		})
	}
}

func TestProductValidate(t *testing.T) {
	ok := Product{ID: "p", Name: "Watch", Price: decimal.NewFromInt(1), Stock: 0}
	assert.NoError(t, ok.Validate())

	bad := ok
	bad.Stock = -1
	assert.Error(t, bad.Validate())

	bad = ok
	bad.Price = decimal.NewFromInt(-1)
	assert.Error(t, bad.Validate())
}

func TestUserMessage(t *testing.T) {
	stock := fmt.Errorf("checkout: %w", &InsufficientStockError{ProductID: "p1", Name: "Smart Watch", Requested: 10, Available: 3})
	msg := UserMessage(stock)
	assert.Contains(t, msg, "Smart Watch")
	assert.Contains(t, msg, "3 available")

	assert.Contains(t, UserMessage(ErrUnauthorized), "log in")
	assert.Contains(t, UserMessage(&ProductNotFoundError{ProductID: "p9"}), "p9")
	assert.Equal(t, "", UserMessage(nil))
	assert.NotEmpty(t, UserMessage(errors.New("something else")))
}

func TestPrincipal(t *testing.T) {
	var nobody *Principal
	assert.False(t, nobody.Authenticated())
	assert.False(t, (&Principal{}).Authenticated())
	assert.True(t, (&Principal{ID: "u1"}).Authenticated())
	assert.True(t, (&Principal{ID: "u1", Role: RoleAdmin}).IsAdmin())
	assert.False(t, (&Principal{ID: "u1", Role: RoleUser}).IsAdmin())
}
