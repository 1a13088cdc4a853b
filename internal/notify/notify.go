// Package notify turns order events from the broker into customer
// notifications. Each event is recorded at most once, keyed by event id.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nazeru/storefront-tx-go/pkg/contracts"
	"github.com/nazeru/storefront-tx-go/pkg/logging"
)

var ErrInvalidEvent = errors.New("invalid event")

type Notification struct {
	EventID string `json:"event_id"`
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
	Type    string `json:"type"`
	Text    string `json:"text"`
}

// Render builds the customer-facing notification for an event.
func Render(ev contracts.Event) (Notification, error) {
	if ev.EventID == "" || ev.OrderID == "" {
		return Notification{}, fmt.Errorf("%w: event_id and order_id are required", ErrInvalidEvent)
	}
	n := Notification{EventID: ev.EventID, OrderID: ev.OrderID, UserID: ev.UserID, Type: ev.Type}
	switch ev.Type {
	case contracts.EventOrderCreated:
		n.Text = fmt.Sprintf("Thanks for your order %s. Total: %v.", ev.OrderID, ev.Payload["total"])
	case contracts.EventOrderStatusChanged:
		n.Text = fmt.Sprintf("Your order %s is now %v.", ev.OrderID, ev.Payload["status"])
	default:
		return Notification{}, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, ev.Type)
	}
	return n, nil
}

// Store persists notifications. Save reports false when the event was
// already recorded.
type Store interface {
	Save(ctx context.Context, n Notification) (bool, error)
}

type MemoryStore struct {
	mu    sync.Mutex
	seen  map[string]bool
	saved []Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]bool)}
}

func (m *MemoryStore) Save(ctx context.Context, n Notification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[n.EventID] {
		return false, nil
	}
	m.seen[n.EventID] = true
	m.saved = append(m.saved, n)
	return true, nil
}

func (m *MemoryStore) Saved() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notification(nil), m.saved...)
}

// Reader is the subset of *kafka.Reader the consumer needs.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Consumer struct {
	Store   Store
	Service string
	// RetryDelay is the pause after a failed fetch or save.
	RetryDelay time.Duration
}

// Handle records one message. Malformed messages are dropped with an error
// so the caller can commit past them.
func (c *Consumer) Handle(ctx context.Context, raw []byte) error {
	var ev contracts.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	n, err := Render(ev)
	if err != nil {
		return err
	}
	fresh, err := c.Store.Save(ctx, n)
	if err != nil {
		return err
	}
	status := "emitted"
	if !fresh {
		status = "duplicate"
	}
	logging.Log(logging.Fields{Service: c.Service, OrderID: ev.OrderID, UserID: ev.UserID, EventID: ev.EventID, Step: ev.Type, Status: status})
	return nil
}

// Run consumes until ctx ends. Offsets are committed only after the event
// is stored or found to be malformed, so delivery is at least once.
func (c *Consumer) Run(ctx context.Context, r Reader) {
	delay := c.RetryDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Err(c.Service, "kafka_fetch", err)
			if !sleep(ctx, delay) {
				return
			}
			continue
		}
		for {
			err := c.Handle(ctx, msg.Value)
			if err == nil {
				break
			}
			if errors.Is(err, ErrInvalidEvent) {
				logging.Err(c.Service, "event_decode", err)
				break
			}
			// The reader does not redeliver, so the same message is retried.
			logging.Err(c.Service, "notification_save", err)
			if !sleep(ctx, delay) {
				return
			}
		}
		if err := r.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logging.Err(c.Service, "kafka_commit", err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
