package projection

import (
	"context"
	"sync"

	"github.com/nazeru/storefront-tx-go/internal/order/domain"
)

// Command is a change applied locally before the remote write. When the
// remote write fails, Compensate undoes the local change.
type Command interface {
	Apply() error
	Commit(ctx context.Context) error
	Compensate()
}

// RunOptimistic applies cmd, commits it and compensates on failure. It never
// retries; the commit error is returned to the caller.
func RunOptimistic(ctx context.Context, cmd Command) error {
	if err := cmd.Apply(); err != nil {
		return err
	}
	if err := cmd.Commit(ctx); err != nil {
		cmd.Compensate()
		return err
	}
	return nil
}

// Board is a client-side copy of the admin order list.
type Board struct {
	mu    sync.Mutex
	rows  []OrderView
	index map[domain.OrderID]int
}

func NewBoard(rows []OrderView) *Board {
	b := &Board{}
	b.Reset(rows)
	return b
}

func (b *Board) Reset(rows []OrderView) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows = append([]OrderView(nil), rows...)
	b.index = make(map[domain.OrderID]int, len(rows))
	for i, r := range b.rows {
		b.index[r.ID] = i
	}
}

func (b *Board) Rows() []OrderView {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]OrderView(nil), b.rows...)
}

func (b *Board) Status(id domain.OrderID) (domain.OrderStatus, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i, ok := b.index[id]
	if !ok {
		return "", false
	}
	return b.rows[i].Status, true
}

// swap sets the status when the row currently shows from.
func (b *Board) swap(id domain.OrderID, from, to domain.OrderStatus) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	i, ok := b.index[id]
	if !ok || b.rows[i].Status != from {
		return false
	}
	b.rows[i].Status = to
	return true
}

// StatusChange edits one row's status on a Board.
type StatusChange struct {
	Board   *Board
	OrderID domain.OrderID
	Status  domain.OrderStatus
	Remote  func(ctx context.Context, id domain.OrderID, status domain.OrderStatus) error

	prev domain.OrderStatus
}

func (c *StatusChange) Apply() error {
	if !c.Status.Valid() {
		return &domain.InvalidStatusError{Value: string(c.Status)}
	}
	prev, ok := c.Board.Status(c.OrderID)
	if !ok {
		return domain.ErrOrderNotFound
	}
	c.prev = prev
	c.Board.swap(c.OrderID, prev, c.Status)
	return nil
}

func (c *StatusChange) Commit(ctx context.Context) error {
	return c.Remote(ctx, c.OrderID, c.Status)
}

// Compensate restores the previous status unless the row was changed again
// in the meantime.
func (c *StatusChange) Compensate() {
	c.Board.swap(c.OrderID, c.Status, c.prev)
}
