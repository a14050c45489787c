package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wolfman30/marketplace-payments/internal/events"
)

// OutboxMessage is the wire shape of a delivered outbox entry.
type OutboxMessage struct {
	ID        string          `json:"id"`
	Aggregate string          `json:"aggregate"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// OutboxPublisher ships outbox entries to a queue. It implements
// events.DeliveryHandler.
type OutboxPublisher struct {
	queue Queue
}

func NewOutboxPublisher(q Queue) *OutboxPublisher {
	if q == nil {
		panic("queue: outbox publisher requires a queue")
	}
	return &OutboxPublisher{queue: q}
}

func (p *OutboxPublisher) Handle(ctx context.Context, entry events.OutboxEntry) error {
	body, err := json.Marshal(OutboxMessage{
		ID:        entry.ID.String(),
		Aggregate: entry.Aggregate,
		Type:      entry.Type,
		Payload:   entry.Payload,
		CreatedAt: entry.CreatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("queue: marshal outbox entry: %w", err)
	}
	return p.queue.Send(ctx, string(body))
}

var _ events.DeliveryHandler = (*OutboxPublisher)(nil)
