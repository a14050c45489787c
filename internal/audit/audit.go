// Package audit keeps the forensic trail for webhook deliveries that were not
// reconciled normally: unknown event types, permanent failures and rejected
// signatures. Records are append-only.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// EventType classifies an audit record.
type EventType string

const (
	// EventUnknownWebhook is logged for event types the classifier does not know.
	EventUnknownWebhook EventType = "webhook.unknown_event"
	// EventReconcileFailed is logged when reconciliation failed permanently.
	EventReconcileFailed EventType = "webhook.reconcile_failed"
	// EventDeadLettered is logged when a retryable failure was queued for replay.
	EventDeadLettered EventType = "webhook.dead_lettered"
)

// Entry is an immutable audit record.
type Entry struct {
	ID             string          `json:"id"`
	EventType      EventType       `json:"event_type"`
	Provider       string          `json:"provider"`
	ProviderEvent  string          `json:"provider_event_type,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	ResourceID     string          `json:"resource_id,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	RemoteIP       string          `json:"remote_ip,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Store writes and lists audit entries.
type Store struct {
	db *sql.DB
}

// NewStore creates an audit store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record appends an entry.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	payload := []byte(e.Payload)
	if len(payload) == 0 || !json.Valid(payload) {
		// Rejected deliveries may not even be JSON; keep them as a string.
		wrapped, _ := json.Marshal(map[string]string{"raw": string(payload)})
		payload = wrapped
	}

	query := `
		INSERT INTO webhook_audit_events (
			id, event_type, provider, provider_event_type, idempotency_key,
			resource_id, reason, remote_ip, payload, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.EventType,
		e.Provider,
		nullString(e.ProviderEvent),
		nullString(e.IdempotencyKey),
		nullString(e.ResourceID),
		nullString(e.Reason),
		nullString(e.RemoteIP),
		payload,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: failed to record event: %w", err)
	}
	return nil
}

// Filter narrows List results.
type Filter struct {
	Providers []string
	EventType EventType
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Offset    int
}

const maxListLimit = 500

// List returns entries newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Entry, error) {
	query := `
		SELECT id, event_type, provider, provider_event_type, idempotency_key,
		       resource_id, reason, remote_ip, payload, created_at
		FROM webhook_audit_events
		WHERE 1 = 1
	`
	var args []interface{}
	argIdx := 1

	if len(filter.Providers) > 0 {
		query += fmt.Sprintf(" AND provider = ANY($%d)", argIdx)
		args = append(args, pq.Array(filter.Providers))
		argIdx++
	}
	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, filter.EventType)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	switch {
	case limit <= 0:
		limit = 100
	case limit > maxListLimit:
		limit = maxListLimit
	}
	query += fmt.Sprintf(" LIMIT %d", limit)
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var providerEvent, key, resourceID, reason, remoteIP sql.NullString
		var payload []byte
		if err := rows.Scan(
			&e.ID, &e.EventType, &e.Provider, &providerEvent, &key,
			&resourceID, &reason, &remoteIP, &payload, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("audit: failed to scan event: %w", err)
		}
		e.ProviderEvent = providerEvent.String
		e.IdempotencyKey = key.String
		e.ResourceID = resourceID.String
		e.Reason = reason.String
		e.RemoteIP = remoteIP.String
		e.Payload = payload
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
