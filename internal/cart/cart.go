// Package cart is the client-owned shopping cart. Every mutation is
// persisted asynchronously to a durable slot keyed by session.
package cart

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nazeru/storefront-tx-go/internal/order/domain"
	"github.com/nazeru/storefront-tx-go/pkg/logging"
)

// ErrNotReady is returned by every operation until Load has completed.
var ErrNotReady = errors.New("cart: not loaded")

type Storage interface {
	// Load returns ok=false when the slot has never been written.
	Load(ctx context.Context, session string) (items []domain.CartItem, ok bool, err error)
	Save(ctx context.Context, session string, items []domain.CartItem) error
}

// Snapshot is an immutable copy of the cart at one point in time.
type Snapshot struct {
	items []domain.CartItem
}

func (s Snapshot) Items() []domain.CartItem {
	return append([]domain.CartItem(nil), s.items...)
}

func (s Snapshot) Empty() bool { return len(s.items) == 0 }

func (s Snapshot) ItemCount() int {
	n := 0
	for _, it := range s.items {
		n += it.Quantity
	}
	return n
}

func (s Snapshot) TotalPrice() decimal.Decimal { return domain.Total(s.items) }

type Cart struct {
	storage     Storage
	session     string
	saveTimeout time.Duration

	mu      sync.Mutex
	items   []domain.CartItem
	ready   bool
	dirty   bool
	pending []domain.CartItem

	kick     chan struct{}
	flushReq chan chan struct{}
	quit     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

func New(storage Storage, session string) *Cart {
	return &Cart{
		storage:     storage,
		session:     session,
		saveTimeout: 2 * time.Second,
		kick:        make(chan struct{}, 1),
		flushReq:    make(chan chan struct{}),
		quit:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
}

// Load restores the cart from storage and starts the writer. An unreadable
// slot yields an empty cart; the error is still returned so callers can
// report it. Nothing is written before Load returns.
func (c *Cart) Load(ctx context.Context) error {
	items, _, err := c.storage.Load(ctx, c.session)
	if err != nil {
		logging.Log(logging.Fields{Service: "cart", Step: "load", Status: "error", Error: err.Error()})
		items = nil
	}

	c.mu.Lock()
	if c.ready {
		c.mu.Unlock()
		return nil
	}
	c.items = items
	c.ready = true
	c.mu.Unlock()

	go c.run()
	return err
}

func (c *Cart) run() {
	defer close(c.stopped)
	for {
		select {
		case <-c.kick:
			c.saveLatest()
		case ack := <-c.flushReq:
			c.saveLatest()
			close(ack)
		case <-c.quit:
			c.saveLatest()
			return
		}
	}
}

// saveLatest writes only the newest state; intermediate states queued
// while a save was running are skipped.
func (c *Cart) saveLatest() {
	c.mu.Lock()
	if !c.dirty {
		c.mu.Unlock()
		return
	}
	items := c.pending
	c.dirty = false
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.saveTimeout)
	defer cancel()
	if err := c.storage.Save(ctx, c.session, items); err != nil {
		logging.Log(logging.Fields{Service: "cart", Step: "save", Status: "error", Error: err.Error()})
	}
}

// mutate applies fn under the lock and schedules a save.
func (c *Cart) mutate(fn func(items []domain.CartItem) []domain.CartItem) error {
	c.mu.Lock()
	if !c.ready {
		c.mu.Unlock()
		return ErrNotReady
	}
	c.items = fn(c.items)
	c.pending = append([]domain.CartItem(nil), c.items...)
	c.dirty = true
	c.mu.Unlock()

	select {
	case c.kick <- struct{}{}:
	default:
	}
	return nil
}

// AddItem merges into an existing line for the same product.
func (c *Cart) AddItem(item domain.CartItem, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	return c.mutate(func(items []domain.CartItem) []domain.CartItem {
		for i := range items {
			if items[i].ID == item.ID {
				items[i].Quantity += qty
				return items
			}
		}
		item.Quantity = qty
		return append(items, item)
	})
}

// UpdateQuantity sets a line's quantity; zero or less removes it. Unknown
// ids are ignored.
func (c *Cart) UpdateQuantity(id domain.ProductID, qty int) error {
	return c.mutate(func(items []domain.CartItem) []domain.CartItem {
		out := items[:0]
		for _, it := range items {
			if it.ID == id {
				it.Quantity = qty
			}
			if it.Quantity > 0 {
				out = append(out, it)
			}
		}
		return out
	})
}

func (c *Cart) RemoveItem(id domain.ProductID) error {
	return c.mutate(func(items []domain.CartItem) []domain.CartItem {
		out := items[:0]
		for _, it := range items {
			if it.ID != id {
				out = append(out, it)
			}
		}
		return out
	})
}

func (c *Cart) Clear() error {
	return c.mutate(func([]domain.CartItem) []domain.CartItem { return nil })
}

func (c *Cart) Snapshot() (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return Snapshot{}, ErrNotReady
	}
	return Snapshot{items: append([]domain.CartItem(nil), c.items...)}, nil
}

// Flush blocks until every mutation made before the call has been handed
// to storage.
func (c *Cart) Flush(ctx context.Context) error {
	c.mu.Lock()
	ready := c.ready
	c.mu.Unlock()
	if !ready {
		return nil
	}
	ack := make(chan struct{})
	select {
	case c.flushReq <- ack:
	case <-c.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close writes any pending state and stops the writer.
func (c *Cart) Close() {
	c.mu.Lock()
	ready := c.ready
	c.mu.Unlock()
	c.stopOnce.Do(func() { close(c.quit) })
	if ready {
		<-c.stopped
	}
}
