// Package pgstore keeps products, orders and user profiles in Postgres.
// Checkout transactions run at SERIALIZABLE isolation; serialization
// failures surface as retry.ErrConflict.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nazeru/storefront-tx-go/internal/order/domain"
	"github.com/nazeru/storefront-tx-go/internal/order/store"
	"github.com/nazeru/storefront-tx-go/pkg/contracts"
	"github.com/nazeru/storefront-tx-go/pkg/outbox"
	"github.com/nazeru/storefront-tx-go/pkg/tx/retry"
)

const (
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"

	idempotencyConstraint = "orders_user_idempotency_key"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return s, nil
}

var _ store.Store = (*Store)(nil)

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

func (s *Store) Close() { s.pool.Close() }

// Outbox returns the relay source backed by this database.
func (s *Store) Outbox() outbox.Source { return outbox.PgSource{DB: s.pool} }

func (s *Store) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			price NUMERIC(12,2) NOT NULL CHECK (price >= 0),
			stock INTEGER NOT NULL CHECK (stock >= 0),
			image_url TEXT NOT NULL DEFAULT '',
			image_hint TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			items JSONB NOT NULL,
			total NUMERIC(12,2) NOT NULL CHECK (total >= 0),
			status TEXT NOT NULL CHECK (status IN ('Pending', 'Shipped', 'Delivered', 'Cancelled')),
			idempotency_key TEXT,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT clock_timestamp(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
		)`,
		`ALTER TABLE orders DROP CONSTRAINT IF EXISTS orders_idempotency_key_key`,
		`CREATE UNIQUE INDEX IF NOT EXISTS orders_user_idempotency_key ON orders(user_id, idempotency_key)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_user_created ON orders(user_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_created ON orders(created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS users (
			uid TEXT PRIMARY KEY,
			email TEXT NOT NULL DEFAULT '',
			display_name TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('admin', 'user'))
		)`,
		`CREATE TABLE IF NOT EXISTS outbox (
			id BIGSERIAL PRIMARY KEY,
			event_id UUID NOT NULL UNIQUE,
			topic TEXT NOT NULL,
			key TEXT NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
			sent_at TIMESTAMP WITH TIME ZONE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox(id) WHERE sent_at IS NULL`,
	}
	for _, m := range migrations {
		if _, err := s.pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}

// classify maps Postgres failures onto store and retry errors. Anything
// else, including errors returned by the transaction body, is passed through.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected:
		return fmt.Errorf("%w: %s", retry.ErrConflict, pgErr.Message)
	case codeUniqueViolation:
		if pgErr.ConstraintName == idempotencyConstraint {
			return store.ErrDuplicateKey
		}
	case codeCheckViolation:
		return fmt.Errorf("%w: %s", store.ErrNegativeStock, pgErr.ConstraintName)
	}
	return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	t := &pgTx{tx: tx}
	if err := fn(ctx, t); err != nil {
		return classify(err)
	}
	// Orders are listed by created_at, so stamp them as late as possible.
	for _, id := range t.created {
		if _, err := tx.Exec(ctx, `UPDATE orders SET created_at=clock_timestamp() WHERE id=$1`, id); err != nil {
			return classify(err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(err)
	}
	return nil
}

type pgTx struct {
	tx      pgx.Tx
	wrote   bool
	created []domain.OrderID
}

const productColumns = `id, name, description, price::text, stock, image_url, image_hint`

func scanProduct(row pgx.Row) (domain.Product, error) {
	var (
		p     domain.Product
		price string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &price, &p.Stock, &p.ImageURL, &p.ImageHint); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Product{}, store.ErrNotFound
		}
		return domain.Product{}, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return domain.Product{}, &domain.MalformedRecordError{Kind: "product", ID: string(p.ID), Field: "price", Reason: err.Error()}
	}
	p.Price = d
	if err := p.Validate(); err != nil {
		return domain.Product{}, err
	}
	return p, nil
}

func (t *pgTx) ReadProduct(ctx context.Context, id domain.ProductID) (domain.Product, error) {
	if t.wrote {
		return domain.Product{}, store.ErrReadAfterWrite
	}
	return scanProduct(t.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id))
}

func (t *pgTx) WriteStock(ctx context.Context, id domain.ProductID, stock int) error {
	if stock < 0 {
		return store.ErrNegativeStock
	}
	t.wrote = true
	tag, err := t.tx.Exec(ctx, `UPDATE products SET stock=$2, updated_at=now() WHERE id=$1`, id, stock)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) CreateOrder(ctx context.Context, o domain.NewOrder) (domain.OrderID, error) {
	t.wrote = true
	if !o.Status.Valid() {
		return "", &domain.InvalidStatusError{Value: string(o.Status)}
	}
	items, err := domain.EncodeItems(o.Items)
	if err != nil {
		return "", err
	}
	id := domain.OrderID(uuid.NewString())
	_, err = t.tx.Exec(ctx,
		`INSERT INTO orders(id, user_id, items, total, status, idempotency_key) VALUES ($1, $2, $3, $4::numeric, $5, NULLIF($6, ''))`,
		id, o.UserID, items, o.Total.String(), o.Status, o.IdempotencyKey,
	)
	if err != nil {
		return "", err
	}
	ev := contracts.OrderCreated(string(id), string(o.UserID), o.Total.StringFixed(2), len(o.Items))
	if err := outbox.Insert(ctx, t.tx, contracts.TopicOrders, ev); err != nil {
		return "", err
	}
	t.created = append(t.created, id)
	return id, nil
}

func (s *Store) OrderForKey(ctx context.Context, user domain.UserID, key string) (domain.Order, bool, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id=$1 AND idempotency_key=$2`, user, key))
	if errors.Is(err, domain.ErrOrderNotFound) {
		return domain.Order{}, false, nil
	}
	if err != nil {
		return domain.Order{}, false, err
	}
	return o, true, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetProduct(ctx context.Context, id domain.ProductID) (domain.Product, error) {
	return scanProduct(s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id))
}

func (s *Store) PutProduct(ctx context.Context, p domain.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO products(id, name, description, price, stock, image_url, image_hint)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, description=EXCLUDED.description, price=EXCLUDED.price,
			stock=EXCLUDED.stock, image_url=EXCLUDED.image_url, image_hint=EXCLUDED.image_hint, updated_at=now()`,
		p.ID, p.Name, p.Description, p.Price.String(), p.Stock, p.ImageURL, p.ImageHint)
	return err
}

const orderColumns = `id::text, user_id, items, total::text, status, created_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o      domain.Order
		items  []byte
		total  string
		status string
	)
	if err := row.Scan(&o.ID, &o.UserID, &items, &total, &status, &o.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, err
	}
	var err error
	if o.Items, err = domain.DecodeItems(items, "order", string(o.ID)); err != nil {
		return domain.Order{}, err
	}
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return domain.Order{}, &domain.MalformedRecordError{Kind: "order", ID: string(o.ID), Field: "total", Reason: err.Error()}
	}
	o.Status = domain.OrderStatus(status)
	if !o.Status.Valid() {
		return domain.Order{}, &domain.MalformedRecordError{Kind: "order", ID: string(o.ID), Field: "status", Reason: fmt.Sprintf("unknown value %q", status)}
	}
	o.CreatedAt = o.CreatedAt.UTC()
	return o, nil
}

func (s *Store) ListOrders(ctx context.Context, f store.OrderFilter) ([]domain.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders`
	var args []any
	if f.UserID != "" {
		q += ` WHERE user_id=$1`
		args = append(args, f.UserID)
	}
	q += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) GetOrder(ctx context.Context, id domain.OrderID) (domain.Order, error) {
	if _, err := uuid.Parse(string(id)); err != nil {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return scanOrder(s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
}

// UpdateOrderStatus changes only the status column. The status event is
// written to the outbox in the same transaction.
func (s *Store) UpdateOrderStatus(ctx context.Context, id domain.OrderID, status domain.OrderStatus) error {
	if !status.Valid() {
		return &domain.InvalidStatusError{Value: string(status)}
	}
	if _, err := uuid.Parse(string(id)); err != nil {
		return domain.ErrOrderNotFound
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	var userID string
	err = tx.QueryRow(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1 RETURNING user_id`, id, status).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrOrderNotFound
	}
	if err != nil {
		return err
	}
	if err := outbox.Insert(ctx, tx, contracts.TopicOrders, contracts.OrderStatusChanged(string(id), userID, string(status))); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) GetProfile(ctx context.Context, id domain.UserID) (domain.UserProfile, error) {
	var p domain.UserProfile
	err := s.pool.QueryRow(ctx, `SELECT uid, email, display_name, role FROM users WHERE uid=$1`, id).
		Scan(&p.UID, &p.Email, &p.DisplayName, &p.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserProfile{}, store.ErrNotFound
	}
	return p, err
}

func (s *Store) PutProfile(ctx context.Context, p domain.UserProfile) error {
	if p.UID == "" {
		return &domain.MalformedRecordError{Kind: "user", Field: "uid", Reason: "empty"}
	}
	if p.Role == "" {
		p.Role = domain.RoleUser
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO users(uid, email, display_name, role) VALUES ($1, $2, $3, $4)
		ON CONFLICT (uid) DO UPDATE SET email=EXCLUDED.email, display_name=EXCLUDED.display_name, role=EXCLUDED.role`,
		p.UID, p.Email, p.DisplayName, p.Role)
	return err
}

// Truncate empties every table.
func (s *Store) Truncate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE products, orders, users, outbox RESTART IDENTITY`)
	return err
}
