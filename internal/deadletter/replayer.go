package deadletter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/marketplace-payments/internal/audit"
	"github.com/wolfman30/marketplace-payments/internal/notify"
	"github.com/wolfman30/marketplace-payments/internal/queue"
	"github.com/wolfman30/marketplace-payments/internal/reconcile"
	"github.com/wolfman30/marketplace-payments/internal/webhooks"
	"github.com/wolfman30/marketplace-payments/pkg/logging"
)

const (
	defaultWorkerCount   = 1
	defaultWaitSeconds   = 10
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	defaultMaxAttempts   = 8
	deleteTimeoutSeconds = 5
)

type reconciler interface {
	Reconcile(ctx context.Context, evt webhooks.Event, intent webhooks.Intent) (reconcile.Result, error)
}

type auditRecorder interface {
	Record(ctx context.Context, e audit.Entry) error
}

type alerter interface {
	Notify(ctx context.Context, alert notify.Alert) error
}

// ReplayerOption customizes replay behavior.
type ReplayerOption func(*replayerConfig)

type replayerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	maxAttempts      int
	audit            auditRecorder
	alerts           alerter
}

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) ReplayerOption {
	return func(cfg *replayerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) ReplayerOption {
	return func(cfg *replayerConfig) {
		if seconds < 0 {
			seconds = 0
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many letters to fetch per poll.
func WithReceiveBatchSize(size int) ReplayerOption {
	return func(cfg *replayerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithMaxAttempts caps redeliveries before a letter is abandoned to the audit log.
func WithMaxAttempts(attempts int) ReplayerOption {
	return func(cfg *replayerConfig) {
		if attempts > 0 {
			cfg.maxAttempts = attempts
		}
	}
}

func WithAuditRecorder(rec auditRecorder) ReplayerOption {
	return func(cfg *replayerConfig) {
		cfg.audit = rec
	}
}

func WithAlerter(a alerter) ReplayerOption {
	return func(cfg *replayerConfig) {
		cfg.alerts = a
	}
}

// Replayer consumes dead letters and re-runs them through the reconciler.
// Letters that succeed, turn out to be duplicates, or fail permanently are
// deleted. Retryable failures are left on the queue for redelivery.
type Replayer struct {
	queue      queue.Queue
	reconciler reconciler
	logger     *logging.Logger
	cfg        replayerConfig
	wg         sync.WaitGroup
}

func NewReplayer(q queue.Queue, rec reconciler, logger *logging.Logger, opts ...ReplayerOption) *Replayer {
	if q == nil {
		panic("deadletter: queue cannot be nil")
	}
	if rec == nil {
		panic("deadletter: reconciler cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := replayerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		maxAttempts:      defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Replayer{queue: q, reconciler: rec, logger: logger, cfg: cfg}
}

// Start launches replay goroutines until ctx is cancelled.
func (r *Replayer) Start(ctx context.Context) {
	for i := 0; i < r.cfg.workers; i++ {
		r.wg.Add(1)
		go r.run(ctx, i+1)
	}
}

// Wait blocks until all replay goroutines exit.
func (r *Replayer) Wait() {
	r.wg.Wait()
}

func (r *Replayer) run(ctx context.Context, workerID int) {
	defer r.wg.Done()
	r.logger.Debug("dead-letter replayer started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("dead-letter replayer stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := r.queue.Receive(ctx, r.cfg.receiveBatchSize, r.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			r.logger.Error("failed to receive dead letters", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			r.HandleMessage(ctx, msg)
		}
	}
}

// HandleMessage replays a single letter. It reports whether the message was
// deleted from the queue.
func (r *Replayer) HandleMessage(ctx context.Context, msg queue.Message) bool {
	letter, err := Decode(msg.Body)
	if err != nil {
		r.logger.Error("discarding undecodable dead letter", "error", err, "message_id", msg.ID)
		r.deleteMessage(ctx, msg.ReceiptHandle)
		return true
	}

	intent := letter.Intent
	if intent == "" {
		intent = webhooks.Classify(letter.Event.Provider, letter.Event.EventType)
	}

	result, err := r.reconciler.Reconcile(ctx, letter.Event, intent)
	if err == nil {
		r.logger.Info("dead letter replayed",
			"letter_id", letter.ID,
			"idempotency_key", letter.IdempotencyKey,
			"outcome", result.Outcome,
		)
		r.deleteMessage(ctx, msg.ReceiptHandle)
		return true
	}

	if reconcile.Retryable(err) && (msg.ReceiveCount <= 0 || msg.ReceiveCount < r.cfg.maxAttempts) {
		r.logger.Warn("dead letter replay failed, will retry",
			"error", err,
			"letter_id", letter.ID,
			"idempotency_key", letter.IdempotencyKey,
			"attempt", msg.ReceiveCount,
		)
		return false
	}

	r.abandon(ctx, letter, err)
	r.deleteMessage(ctx, msg.ReceiptHandle)
	return true
}

func (r *Replayer) abandon(ctx context.Context, letter Letter, cause error) {
	r.logger.Error("dead letter abandoned",
		"error", cause,
		"letter_id", letter.ID,
		"idempotency_key", letter.IdempotencyKey,
		"kind", reconcile.KindOf(cause).String(),
	)
	if r.cfg.audit != nil {
		entry := audit.Entry{
			EventType:      audit.EventDeadLettered,
			Provider:       letter.Provider,
			ProviderEvent:  letter.Event.EventType,
			IdempotencyKey: letter.IdempotencyKey,
			ResourceID:     letter.Event.ResourceID,
			Reason:         cause.Error(),
			Payload:        letter.Event.Raw,
		}
		if err := r.cfg.audit.Record(ctx, entry); err != nil {
			r.logger.Error("failed to audit abandoned dead letter", "error", err, "letter_id", letter.ID)
		}
	}
	if r.cfg.alerts != nil {
		_ = r.cfg.alerts.Notify(ctx, notify.Alert{
			Severity:       notify.SeverityCritical,
			Provider:       letter.Provider,
			EventType:      letter.Event.EventType,
			EventID:        letter.Event.EventID,
			IdempotencyKey: letter.IdempotencyKey,
			ResourceID:     letter.Event.ResourceID,
			Reason:         "dead letter abandoned: " + cause.Error(),
		})
	}
}

func (r *Replayer) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := r.queue.Delete(deleteCtx, receiptHandle); err != nil {
		r.logger.Error("failed to delete dead letter", "error", err)
	}
}
