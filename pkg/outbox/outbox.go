// Package outbox stores domain events in the same transaction as the state
// change that produced them, and relays them to the broker afterwards.
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nazeru/storefront-tx-go/pkg/contracts"
	"github.com/nazeru/storefront-tx-go/pkg/logging"
)

type Record struct {
	ID        int64           `json:"id"`
	EventID   string          `json:"event_id"`
	Topic     string          `json:"topic"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at"`
}

// DB is satisfied by both *pgxpool.Pool and pgx.Tx.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Insert writes ev keyed by its order id. Pass the open transaction so the
// event commits or rolls back with the order.
func Insert(ctx context.Context, db DB, topic string, ev contracts.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `INSERT INTO outbox(event_id, topic, key, payload) VALUES ($1, $2, $3, $4)`, ev.EventID, topic, ev.OrderID, data)
	return err
}

func MarkSent(ctx context.Context, db DB, id int64) error {
	_, err := db.Exec(ctx, `UPDATE outbox SET sent_at=now() WHERE id=$1`, id)
	return err
}

func FetchPending(ctx context.Context, db DB, limit int) ([]Record, error) {
	rows, err := db.Query(ctx, `SELECT id, event_id, topic, key, payload, created_at, sent_at FROM outbox WHERE sent_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.Topic, &rec.Key, &rec.Payload, &rec.CreatedAt, &rec.SentAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Source is where the relay reads unsent records from.
type Source interface {
	FetchPending(ctx context.Context, limit int) ([]Record, error)
	MarkSent(ctx context.Context, id int64) error
}

type Publisher interface {
	Publish(ctx context.Context, rec Record) error
}

// PgSource reads the outbox table.
type PgSource struct {
	DB DB
}

func (s PgSource) FetchPending(ctx context.Context, limit int) ([]Record, error) {
	return FetchPending(ctx, s.DB, limit)
}

func (s PgSource) MarkSent(ctx context.Context, id int64) error {
	return MarkSent(ctx, s.DB, id)
}

type Relay struct {
	Source    Source
	Publisher Publisher
	Interval  time.Duration
	BatchSize int
	Service   string
}

// Flush publishes one batch in id order and stops at the first publish
// failure, so records are delivered at least once and never reordered.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	limit := r.BatchSize
	if limit <= 0 {
		limit = 100
	}
	recs, err := r.Source.FetchPending(ctx, limit)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, rec := range recs {
		if err := r.Publisher.Publish(ctx, rec); err != nil {
			return sent, err
		}
		if err := r.Source.MarkSent(ctx, rec.ID); err != nil {
			return sent, err
		}
		sent++
		logging.Log(logging.Fields{Service: r.Service, EventID: rec.EventID, OrderID: rec.Key, Step: "outbox_relay", Status: "published"})
	}
	return sent, nil
}

// Run flushes every Interval until ctx ends.
func (r *Relay) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			logging.Err(r.Service, "outbox_relay", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
