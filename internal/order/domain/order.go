package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderID string
type ProductID string
type UserID string

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "Pending"
	OrderStatusShipped   OrderStatus = "Shipped"
	OrderStatusDelivered OrderStatus = "Delivered"
	OrderStatusCancelled OrderStatus = "Cancelled"
)

var orderStatuses = []OrderStatus{OrderStatusPending, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled}

// ParseStatus accepts any letter case.
func ParseStatus(s string) (OrderStatus, error) {
	s = strings.TrimSpace(s)
	for _, st := range orderStatuses {
		if strings.EqualFold(s, string(st)) {
			return st, nil
		}
	}
	return "", &InvalidStatusError{Value: s}
}

func (s OrderStatus) Valid() bool {
	for _, st := range orderStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// CartItem is a denormalized product snapshot plus a quantity. Orders keep
// the same shape so the price at time of order is frozen with the item.
type CartItem struct {
	ID        ProductID       `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	ImageURL  string          `json:"imageUrl"`
	ImageHint string          `json:"imageHint"`
	Quantity  int             `json:"quantity"`
}

func (it CartItem) LineTotal() decimal.Decimal {
	return it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// Total is the sum of price × quantity over items.
func Total(items []CartItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.LineTotal())
	}
	return sum
}

type Order struct {
	ID        OrderID         `json:"id"`
	UserID    UserID          `json:"userId"`
	Items     []CartItem      `json:"items"`
	Total     decimal.Decimal `json:"total"`
	Status    OrderStatus     `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
}

// NewOrder is what the checkout hands to the store. ID and CreatedAt are
// assigned by the store on commit.
type NewOrder struct {
	UserID         UserID
	Items          []CartItem
	Total          decimal.Decimal
	Status         OrderStatus
	IdempotencyKey string
}
