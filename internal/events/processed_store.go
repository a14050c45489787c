package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProcessedEvent is the append-only idempotency record for one webhook delivery.
type ProcessedEvent struct {
	Provider    string
	Key         string
	EventType   string
	ResourceID  string
	Payload     json.RawMessage
	ProcessedAt time.Time
}

// RowQuerier is satisfied by *pgxpool.Pool and pgxmock pools.
type RowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProcessedStore records webhook events that were already handled. Rows are
// only ever inserted.
type ProcessedStore struct {
	pool RowQuerier
}

func NewProcessedStore(pool *pgxpool.Pool) *ProcessedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &ProcessedStore{pool: pool}
}

// NewProcessedStoreWithQuerier allows injecting mocks for tests.
func NewProcessedStoreWithQuerier(exec RowQuerier) *ProcessedStore {
	if exec == nil {
		panic("events: exec required")
	}
	return &ProcessedStore{pool: exec}
}

// AlreadyProcessed is a read-only pre-check. It is advisory: Claim inside the
// reconciliation transaction is what actually guards against double effects.
func (s *ProcessedStore) AlreadyProcessed(ctx context.Context, provider, key string) (bool, error) {
	query := `SELECT 1 FROM processed_events WHERE provider = $1 AND event_id = $2`
	var exists int
	if err := s.pool.QueryRow(ctx, query, provider, key).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("events: check processed: %w", err)
	}
	return true, nil
}

const claimSQL = `
	INSERT INTO processed_events (provider, event_id, event_type, resource_id, payload, processed_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT DO NOTHING
`

// Claim inserts the idempotency record using exec, normally the open
// reconciliation transaction. It returns false when another delivery already
// holds the key; the caller must then roll back without touching state.
func (s *ProcessedStore) Claim(ctx context.Context, exec Execer, evt ProcessedEvent) (bool, error) {
	if exec == nil {
		exec = s.pool
	}
	if evt.ProcessedAt.IsZero() {
		evt.ProcessedAt = nowFunc().UTC()
	}
	payload := []byte(evt.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	ct, err := exec.Exec(ctx, claimSQL, evt.Provider, evt.Key, evt.EventType, evt.ResourceID, payload, evt.ProcessedAt)
	if err != nil {
		return false, fmt.Errorf("events: claim processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// MarkProcessed inserts the key outside any transaction, returning false if it
// already exists.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, provider, key string) (bool, error) {
	return s.Claim(ctx, s.pool, ProcessedEvent{Provider: provider, Key: key})
}
