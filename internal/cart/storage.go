package cart

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/nazeru/storefront-tx-go/internal/order/domain"
)

func slotKey(session string) []byte { return []byte("cart/" + session) }

// PebbleStorage keeps one JSON item list per session in a Pebble database.
type PebbleStorage struct {
	db *pebble.DB
}

func OpenPebble(dir string) (*PebbleStorage, error) {
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleStorage{db: db}, nil
}

func (p *PebbleStorage) Close() error { return p.db.Close() }

func (p *PebbleStorage) Load(ctx context.Context, session string) ([]domain.CartItem, bool, error) {
	v, closer, err := p.db.Get(slotKey(session))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	items, err := domain.DecodeItems(v, "cart", session)
	if err != nil {
		return nil, true, err
	}
	return items, true, nil
}

func (p *PebbleStorage) Save(ctx context.Context, session string, items []domain.CartItem) error {
	data, err := domain.EncodeItems(items)
	if err != nil {
		return err
	}
	return p.db.Set(slotKey(session), data, pebble.Sync)
}

// MemoryStorage is a process-local Storage.
type MemoryStorage struct {
	mu    sync.Mutex
	slots map[string][]byte
	saves int
	err   error
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{slots: make(map[string][]byte)}
}

// FailWith makes every later Save return err. Pass nil to recover.
func (m *MemoryStorage) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Put seeds a slot with raw bytes.
func (m *MemoryStorage) Put(session string, raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[session] = append([]byte(nil), raw...)
}

func (m *MemoryStorage) Raw(session string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.slots[session]
	return v, ok
}

func (m *MemoryStorage) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *MemoryStorage) Load(ctx context.Context, session string) ([]domain.CartItem, bool, error) {
	m.mu.Lock()
	raw, ok := m.slots[session]
	m.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	items, err := domain.DecodeItems(raw, "cart", session)
	return items, true, err
}

func (m *MemoryStorage) Save(ctx context.Context, session string, items []domain.CartItem) error {
	data, err := domain.EncodeItems(items)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saves++
	m.slots[session] = data
	return nil
}
