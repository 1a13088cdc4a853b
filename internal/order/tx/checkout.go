// Package tx implements the stock verification and reservation protocol:
// read every product, validate stock, then create the order and decrement
// stock, all inside one store transaction retried on write conflicts.
package tx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nazeru/storefront-tx-go/internal/order/domain"
	"github.com/nazeru/storefront-tx-go/internal/order/store"
	"github.com/nazeru/storefront-tx-go/pkg/logging"
	"github.com/nazeru/storefront-tx-go/pkg/metrics"
	"github.com/nazeru/storefront-tx-go/pkg/tx/common"
	"github.com/nazeru/storefront-tx-go/pkg/tx/retry"
)

type Engine struct {
	store   store.CheckoutStore
	policy  retry.Policy
	timeout time.Duration
	metrics *metrics.CheckoutMetrics
	observe func(common.TxState)
	service string
}

type Option func(*Engine)

func WithPolicy(p retry.Policy) Option { return func(e *Engine) { e.policy = p } }

// WithTimeout bounds a whole checkout, retries included.
func WithTimeout(d time.Duration) Option { return func(e *Engine) { e.timeout = d } }

func WithMetrics(m *metrics.CheckoutMetrics) Option { return func(e *Engine) { e.metrics = m } }

// WithObserver is called on every state transition.
func WithObserver(fn func(common.TxState)) Option { return func(e *Engine) { e.observe = fn } }

func WithService(name string) Option { return func(e *Engine) { e.service = name } }

func NewEngine(s store.CheckoutStore, opts ...Option) *Engine {
	e := &Engine{store: s, policy: retry.DefaultPolicy(), service: "checkout"}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ CheckoutEngine = (*Engine)(nil)

type machine struct {
	state   common.TxState
	observe func(common.TxState)
}

func (m *machine) to(next common.TxState) {
	if !common.CanTransition(m.state, next) {
		panic(fmt.Sprintf("checkout: illegal transition %s -> %s", m.state, next))
	}
	m.state = next
	if m.observe != nil {
		m.observe(next)
	}
}

type line struct {
	id  domain.ProductID
	qty int
}

// mergeLines folds duplicate product lines so each product is read and
// validated once against its total requested quantity.
func mergeLines(items []domain.CartItem) ([]line, error) {
	if len(items) == 0 {
		return nil, domain.ErrEmptyCart
	}
	idx := make(map[domain.ProductID]int, len(items))
	lines := make([]line, 0, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("product %s: %w", it.ID, domain.ErrInvalidQuantity)
		}
		if i, ok := idx[it.ID]; ok {
			lines[i].qty += it.Quantity
			continue
		}
		idx[it.ID] = len(lines)
		lines = append(lines, line{id: it.ID, qty: it.Quantity})
	}
	return lines, nil
}

func (e *Engine) ExecuteCheckout(ctx context.Context, in CheckoutInput) (CheckoutResult, error) {
	start := time.Now()
	m := &machine{state: common.TxNotStarted, observe: e.observe}
	var res CheckoutResult

	fail := func(outcome string, err error) (CheckoutResult, error) {
		m.to(common.TxAborted)
		res.State = m.state
		e.finish(in, res, outcome, start, err)
		return res, err
	}

	if !in.Principal.Authenticated() {
		return fail("unauthorized", domain.ErrUnauthorized)
	}
	lines, err := mergeLines(in.Items)
	if err != nil {
		return fail("invalid_cart", err)
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	// replay answers with the order already placed under this user's key.
	// done is false when there is no such order or the lookup failed.
	replay := func(attempts int) (CheckoutResult, bool, error) {
		prior, ok, err := e.store.OrderForKey(ctx, in.Principal.ID, in.IdempotencyKey)
		if err != nil || !ok {
			return CheckoutResult{}, false, err
		}
		if !sameLines(prior.Items, lines) {
			r, err := fail("key_reused", domain.ErrKeyReused)
			return r, true, err
		}
		res = CheckoutResult{
			OrderID:  prior.ID,
			Items:    prior.Items,
			Total:    prior.Total,
			Status:   prior.Status,
			Attempts: attempts,
			Replayed: true,
		}
		m.to(common.TxCommitted)
		res.State = m.state
		e.finish(in, res, "replayed", start, nil)
		return res, true, nil
	}

	if in.IdempotencyKey != "" {
		r, done, err := replay(0)
		if done {
			return r, err
		}
		if err != nil {
			return fail("store_unavailable", fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err))
		}
	}

	var placed CheckoutResult
	attempts, err := retry.Run(ctx, e.policy, func(ctx context.Context, attempt int) error {
		m.to(common.TxReadingStock)
		return e.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
			var err error
			placed, err = e.reserve(ctx, tx, m, in, lines)
			return err
		})
	})
	res.Attempts = attempts

	if errors.Is(err, store.ErrDuplicateKey) {
		// A concurrent request with the same key committed first.
		if r, done, replayErr := replay(attempts); done {
			return r, replayErr
		}
	}
	if err != nil {
		outcome, classified := classify(err)
		return fail(outcome, classified)
	}

	res.OrderID, res.Items, res.Total = placed.OrderID, placed.Items, placed.Total
	res.Status = domain.OrderStatusPending
	m.to(common.TxCommitted)
	res.State = m.state
	e.finish(in, res, "committed", start, nil)
	return res, nil
}

// sameLines reports whether a stored order holds exactly the requested
// products and quantities.
func sameLines(items []domain.CartItem, lines []line) bool {
	want := make(map[domain.ProductID]int, len(lines))
	for _, l := range lines {
		want[l.id] = l.qty
	}
	got := make(map[domain.ProductID]int, len(items))
	for _, it := range items {
		got[it.ID] += it.Quantity
	}
	if len(got) != len(want) {
		return false
	}
	for id, q := range want {
		if got[id] != q {
			return false
		}
	}
	return true
}

// reserve is one read-validate-write pass. All reads complete before the
// first write is issued. The returned order only exists once the
// surrounding transaction commits.
func (e *Engine) reserve(ctx context.Context, tx store.Tx, m *machine, in CheckoutInput, lines []line) (CheckoutResult, error) {
	products := make(map[domain.ProductID]domain.Product, len(lines))
	for _, l := range lines {
		p, err := tx.ReadProduct(ctx, l.id)
		if errors.Is(err, store.ErrNotFound) {
			return CheckoutResult{}, &domain.ProductNotFoundError{ProductID: l.id}
		}
		if err != nil {
			return CheckoutResult{}, err
		}
		if err := p.Validate(); err != nil {
			return CheckoutResult{}, err
		}
		products[l.id] = p
	}

	m.to(common.TxValidating)
	for _, l := range lines {
		p := products[l.id]
		if p.Stock < l.qty {
			return CheckoutResult{}, &domain.InsufficientStockError{ProductID: l.id, Name: p.Name, Requested: l.qty, Available: p.Stock}
		}
	}

	m.to(common.TxWriting)
	items := make([]domain.CartItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, products[l.id].CartItem(l.qty))
	}
	total := domain.Total(items)
	orderID, err := tx.CreateOrder(ctx, domain.NewOrder{
		UserID:         in.Principal.ID,
		Items:          items,
		Total:          total,
		Status:         domain.OrderStatusPending,
		IdempotencyKey: in.IdempotencyKey,
	})
	if err != nil {
		return CheckoutResult{}, err
	}
	for _, l := range lines {
		if err := tx.WriteStock(ctx, l.id, products[l.id].Stock-l.qty); err != nil {
			return CheckoutResult{}, err
		}
	}
	return CheckoutResult{OrderID: orderID, Items: items, Total: total}, nil
}

func classify(err error) (string, error) {
	var stock *domain.InsufficientStockError
	var missing *domain.ProductNotFoundError
	switch {
	case errors.As(err, &stock):
		return "insufficient_stock", err
	case errors.As(err, &missing):
		return "product_not_found", err
	case errors.Is(err, retry.ErrExhausted):
		return "aborted", fmt.Errorf("%w: %w", domain.ErrTransactionAborted, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "aborted", fmt.Errorf("%w: %w", domain.ErrTransactionAborted, err)
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "store_unavailable", err
	}
	return "store_unavailable", fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}

func (e *Engine) finish(in CheckoutInput, res CheckoutResult, outcome string, start time.Time, err error) {
	took := time.Since(start)
	e.metrics.Observe(outcome, res.Attempts, took)
	f := logging.Fields{
		Service:    e.service,
		RequestID:  string(in.CorrelationID),
		OrderID:    string(res.OrderID),
		Step:       "checkout",
		Status:     outcome,
		Attempt:    res.Attempts,
		DurationMS: took.Milliseconds(),
	}
	if in.Principal != nil {
		f.UserID = string(in.Principal.ID)
	}
	if err != nil {
		f.Error = err.Error()
	}
	logging.Log(f)
}
