package tx

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/nazeru/storefront-tx-go/internal/order/domain"
	"github.com/nazeru/storefront-tx-go/pkg/tx/common"
)

type CheckoutInput struct {
	Principal      *domain.Principal
	CorrelationID  common.CorrelationID
	IdempotencyKey string

	// Items is the cart snapshot. Prices in it are informational only.
	Items []domain.CartItem
}

type CheckoutResult struct {
	OrderID  domain.OrderID
	Items    []domain.CartItem
	Total    decimal.Decimal
	Status   domain.OrderStatus
	State    common.TxState
	Attempts int
	Replayed bool
}

type CheckoutEngine interface {
	ExecuteCheckout(ctx context.Context, in CheckoutInput) (CheckoutResult, error)
}
