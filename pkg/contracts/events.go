package contracts

import (
	"time"

	"github.com/google/uuid"
)

type Event struct {
	EventID   string         `json:"event_id"`
	OrderID   string         `json:"order_id"`
	UserID    string         `json:"user_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
}

const TopicOrders = "storefront.orders"

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
)

func NewEvent(typ, orderID, userID string, payload map[string]any) Event {
	return Event{
		EventID:   uuid.NewString(),
		OrderID:   orderID,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
		Type:      typ,
		Payload:   payload,
	}
}

func OrderCreated(orderID, userID, total string, itemCount int) Event {
	return NewEvent(EventOrderCreated, orderID, userID, map[string]any{
		"total":      total,
		"item_count": itemCount,
		"status":     "Pending",
	})
}

func OrderStatusChanged(orderID, userID, status string) Event {
	return NewEvent(EventOrderStatusChanged, orderID, userID, map[string]any{"status": status})
}
