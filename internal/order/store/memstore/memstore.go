// Package memstore is an in-process store with optimistic concurrency:
// transactions read committed snapshots, buffer their writes, and at commit
// validate that nothing they read has changed since.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nazeru/storefront-tx-go/internal/order/domain"
	"github.com/nazeru/storefront-tx-go/internal/order/store"
	"github.com/nazeru/storefront-tx-go/pkg/contracts"
	"github.com/nazeru/storefront-tx-go/pkg/outbox"
	"github.com/nazeru/storefront-tx-go/pkg/tx/retry"
)

type productRow struct {
	product domain.Product
	version uint64
}

type orderRow struct {
	order domain.Order
	key   string
}

// ownedKey scopes an idempotency key to the user who sent it.
type ownedKey struct {
	user domain.UserID
	key  string
}

// Hooks let tests interleave work with a running transaction.
type Hooks struct {
	// BeforeCommit runs after the body returned and before validation.
	BeforeCommit func(ctx context.Context)
	// CommitErr, when it returns an error, aborts the commit with it.
	CommitErr func() error
}

type Store struct {
	mu       sync.Mutex
	products map[domain.ProductID]*productRow
	orders   map[domain.OrderID]orderRow
	keys     map[ownedKey]domain.OrderID
	profiles map[domain.UserID]domain.UserProfile
	events   []contracts.Event
	sent     map[int64]bool
	lastTS   time.Time
	now      func() time.Time
	hooks    Hooks
}

func New() *Store {
	return &Store{
		products: make(map[domain.ProductID]*productRow),
		orders:   make(map[domain.OrderID]orderRow),
		keys:     make(map[ownedKey]domain.OrderID),
		profiles: make(map[domain.UserID]domain.UserProfile),
		sent:     make(map[int64]bool),
		now:      time.Now,
	}
}

var (
	_ store.Store   = (*Store)(nil)
	_ outbox.Source = (*Store)(nil)
)

func (s *Store) SetHooks(h Hooks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = h
}

// SetClock replaces the time source used for order timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() {}

// timestampLocked returns a commit time strictly after every earlier one.
func (s *Store) timestampLocked() time.Time {
	ts := s.now().UTC()
	if !ts.After(s.lastTS) {
		ts = s.lastTS.Add(time.Microsecond)
	}
	s.lastTS = ts
	return ts
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := &memTx{s: s, reads: make(map[domain.ProductID]uint64), stock: make(map[domain.ProductID]int)}
	if err := fn(ctx, t); err != nil {
		return err
	}

	s.mu.Lock()
	hooks := s.hooks
	s.mu.Unlock()
	if hooks.BeforeCommit != nil {
		hooks.BeforeCommit(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if hooks.CommitErr != nil {
		if err := hooks.CommitErr(); err != nil {
			return err
		}
	}
	return t.commitLocked()
}

type memTx struct {
	s      *Store
	reads  map[domain.ProductID]uint64
	stock  map[domain.ProductID]int
	orders []orderRow
	wrote  bool
}

func (t *memTx) ReadProduct(ctx context.Context, id domain.ProductID) (domain.Product, error) {
	if t.wrote {
		return domain.Product{}, store.ErrReadAfterWrite
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	row, ok := t.s.products[id]
	if !ok {
		return domain.Product{}, store.ErrNotFound
	}
	t.reads[id] = row.version
	return row.product, nil
}

func (t *memTx) WriteStock(ctx context.Context, id domain.ProductID, stock int) error {
	if stock < 0 {
		return store.ErrNegativeStock
	}
	t.wrote = true
	t.stock[id] = stock
	return nil
}

func (t *memTx) CreateOrder(ctx context.Context, o domain.NewOrder) (domain.OrderID, error) {
	t.wrote = true
	if !o.Status.Valid() {
		return "", &domain.InvalidStatusError{Value: string(o.Status)}
	}
	id := domain.OrderID(uuid.NewString())
	items := make([]domain.CartItem, len(o.Items))
	copy(items, o.Items)
	t.orders = append(t.orders, orderRow{
		order: domain.Order{ID: id, UserID: o.UserID, Items: items, Total: o.Total, Status: o.Status},
		key:   o.IdempotencyKey,
	})
	return id, nil
}

func (t *memTx) commitLocked() error {
	s := t.s
	for id, v := range t.reads {
		row, ok := s.products[id]
		if !ok || row.version != v {
			return fmt.Errorf("product %s changed: %w", id, retry.ErrConflict)
		}
	}
	for id := range t.stock {
		if _, ok := s.products[id]; !ok {
			return store.ErrNotFound
		}
	}
	for _, o := range t.orders {
		if o.key == "" {
			continue
		}
		if _, dup := s.keys[ownedKey{o.order.UserID, o.key}]; dup {
			return store.ErrDuplicateKey
		}
	}

	for id, stock := range t.stock {
		row := s.products[id]
		row.product.Stock = stock
		row.version++
	}
	for _, o := range t.orders {
		o.order.CreatedAt = s.timestampLocked()
		s.orders[o.order.ID] = o
		if o.key != "" {
			s.keys[ownedKey{o.order.UserID, o.key}] = o.order.ID
		}
		s.events = append(s.events, contracts.OrderCreated(string(o.order.ID), string(o.order.UserID), o.order.Total.StringFixed(2), len(o.order.Items)))
	}
	return nil
}

func (s *Store) OrderForKey(ctx context.Context, user domain.UserID, key string) (domain.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.keys[ownedKey{user, key}]
	if !ok {
		return domain.Order{}, false, nil
	}
	return copyOrder(s.orders[id].order), true, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Product, 0, len(s.products))
	for _, row := range s.products {
		out = append(out, row.product)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetProduct(ctx context.Context, id domain.ProductID) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.products[id]
	if !ok {
		return domain.Product{}, store.ErrNotFound
	}
	return row.product, nil
}

// PutProduct creates or replaces a product. Replacing bumps the version, so
// an in-flight checkout that read the old record will retry.
func (s *Store) PutProduct(ctx context.Context, p domain.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.products[p.ID]; ok {
		row.product = p
		row.version++
		return nil
	}
	s.products[p.ID] = &productRow{product: p, version: 1}
	return nil
}

func copyOrder(o domain.Order) domain.Order {
	items := make([]domain.CartItem, len(o.Items))
	copy(items, o.Items)
	o.Items = items
	return o
}

func (s *Store) ListOrders(ctx context.Context, f store.OrderFilter) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Order, 0, len(s.orders))
	for _, row := range s.orders {
		if f.UserID != "" && row.order.UserID != f.UserID {
			continue
		}
		out = append(out, copyOrder(row.order))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) GetOrder(ctx context.Context, id domain.OrderID) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return copyOrder(row.order), nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id domain.OrderID, status domain.OrderStatus) error {
	if !status.Valid() {
		return &domain.InvalidStatusError{Value: string(status)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	row.order.Status = status
	s.orders[id] = row
	s.events = append(s.events, contracts.OrderStatusChanged(string(id), string(row.order.UserID), string(status)))
	return nil
}

func (s *Store) GetProfile(ctx context.Context, id domain.UserID) (domain.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return domain.UserProfile{}, store.ErrNotFound
	}
	return p, nil
}

func (s *Store) PutProfile(ctx context.Context, p domain.UserProfile) error {
	if p.UID == "" {
		return &domain.MalformedRecordError{Kind: "user", Field: "uid", Reason: "empty"}
	}
	if p.Role == "" {
		p.Role = domain.RoleUser
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UID] = p
	return nil
}

// Events returns the outbox contents in commit order.
func (s *Store) Events() []contracts.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]contracts.Event, len(s.events))
	copy(out, s.events)
	return out
}

// FetchPending exposes unsent events to an outbox relay. Record ids are
// positions in the event log, starting at 1.
func (s *Store) FetchPending(ctx context.Context, limit int) ([]outbox.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []outbox.Record
	for i, ev := range s.events {
		id := int64(i + 1)
		if s.sent[id] {
			continue
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return nil, err
		}
		out = append(out, outbox.Record{
			ID:        id,
			EventID:   ev.EventID,
			Topic:     contracts.TopicOrders,
			Key:       ev.OrderID,
			Payload:   data,
			CreatedAt: ev.CreatedAt,
		})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkSent(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[id] = true
	return nil
}
