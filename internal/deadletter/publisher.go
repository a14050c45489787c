package deadletter

import (
	"context"
	"fmt"

	"github.com/wolfman30/marketplace-payments/internal/queue"
	"github.com/wolfman30/marketplace-payments/pkg/logging"
)

// Publisher sends letters to the dead-letter queue.
type Publisher struct {
	queue  queue.Queue
	logger *logging.Logger
}

func NewPublisher(q queue.Queue, logger *logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: q, logger: logger}
}

// Publish enqueues the letter. A nil Publisher or queue is an error so the
// webhook is retried by the provider instead of being dropped.
func (p *Publisher) Publish(ctx context.Context, letter Letter) error {
	if p == nil || p.queue == nil {
		return fmt.Errorf("deadletter: queue not configured")
	}
	body, err := letter.Encode()
	if err != nil {
		return err
	}
	if err := p.queue.Send(ctx, body); err != nil {
		p.logger.Error("dead-letter publish failed", "error", err, "idempotency_key", letter.IdempotencyKey, "provider", letter.Provider)
		return fmt.Errorf("deadletter: publish: %w", err)
	}
	p.logger.Warn("webhook event dead-lettered",
		"letter_id", letter.ID,
		"provider", letter.Provider,
		"idempotency_key", letter.IdempotencyKey,
		"reason", letter.Reason,
	)
	return nil
}
