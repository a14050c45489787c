package deadletter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/wolfman30/marketplace-payments/internal/audit"
	"github.com/wolfman30/marketplace-payments/internal/bookings"
	"github.com/wolfman30/marketplace-payments/internal/notify"
	"github.com/wolfman30/marketplace-payments/internal/queue"
	"github.com/wolfman30/marketplace-payments/internal/reconcile"
	"github.com/wolfman30/marketplace-payments/internal/webhooks"
)

type stubReconciler struct {
	mu    sync.Mutex
	calls []webhooks.Event
	err   error
}

func (s *stubReconciler) Reconcile(ctx context.Context, evt webhooks.Event, intent webhooks.Intent) (reconcile.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, evt)
	if s.err != nil {
		return reconcile.Result{Intent: intent}, s.err
	}
	return reconcile.Result{Outcome: reconcile.OutcomeApplied, Intent: intent}, nil
}

type stubAudit struct {
	entries []audit.Entry
}

func (s *stubAudit) Record(ctx context.Context, e audit.Entry) error {
	s.entries = append(s.entries, e)
	return nil
}

type stubAlerter struct {
	alerts []notify.Alert
}

func (s *stubAlerter) Notify(ctx context.Context, alert notify.Alert) error {
	s.alerts = append(s.alerts, alert)
	return nil
}

type retryableErr struct{}

func (retryableErr) Error() string { return "connection reset" }

func sampleEvent() webhooks.Event {
	return webhooks.Event{
		Provider:    webhooks.ProviderMaya,
		EventType:   "PAYMENT_SUCCESS",
		ResourceID:  "pay-1",
		AmountCents: 150000,
		Currency:    "PHP",
		Correlation: webhooks.Correlation{Kind: webhooks.KindBookingPayment, BookingID: "b-1"},
		ReceivedAt:  time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestLetterEncodeDecode(t *testing.T) {
	evt := sampleEvent()
	letter := NewLetter(evt, webhooks.IntentPaymentSucceeded, errors.New("db down"), true)

	body, err := letter.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.IdempotencyKey != "pay-1:PAYMENT_SUCCESS" {
		t.Fatalf("unexpected key %q", got.IdempotencyKey)
	}
	if got.Event.Correlation.BookingID != "b-1" || got.Intent != webhooks.IntentPaymentSucceeded || !got.Retryable {
		t.Fatalf("unexpected letter %+v", got)
	}
	if got.Reason != "db down" {
		t.Fatalf("unexpected reason %q", got.Reason)
	}
}

func TestDecodeRejectsLetterWithoutKey(t *testing.T) {
	if _, err := Decode(`{"id":"x"}`); err == nil {
		t.Fatal("expected error")
	}
	if _, err := Decode("not json"); err == nil {
		t.Fatal("expected error")
	}
}

func TestPublisherPublish(t *testing.T) {
	q := queue.NewMemoryQueue(1)
	pub := NewPublisher(q, nil)

	if err := pub.Publish(context.Background(), NewLetter(sampleEvent(), webhooks.IntentPaymentSucceeded, nil, true)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("expected one queued letter, got %d", q.Len())
	}
}

func TestPublisherWithoutQueue(t *testing.T) {
	var pub *Publisher
	if err := pub.Publish(context.Background(), Letter{}); err == nil {
		t.Fatal("expected error from nil publisher")
	}
}

func enqueue(t *testing.T, q *queue.MemoryQueue, letter Letter) queue.Message {
	t.Helper()
	body, err := letter.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := q.Send(context.Background(), body); err != nil {
		t.Fatalf("send: %v", err)
	}
	msgs, err := q.Receive(context.Background(), 1, 0)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("receive: %v %v", msgs, err)
	}
	return msgs[0]
}

func TestReplayerDeletesOnSuccess(t *testing.T) {
	q := queue.NewMemoryQueue(1)
	rec := &stubReconciler{}
	r := NewReplayer(q, rec, nil)

	msg := enqueue(t, q, NewLetter(sampleEvent(), webhooks.IntentPaymentSucceeded, nil, true))
	if !r.HandleMessage(context.Background(), msg) {
		t.Fatal("expected message to be deleted")
	}
	if !q.Deleted(msg.ReceiptHandle) {
		t.Fatal("expected queue delete")
	}
	if len(rec.calls) != 1 || rec.calls[0].ResourceID != "pay-1" {
		t.Fatalf("unexpected reconcile calls %+v", rec.calls)
	}
}

func TestReplayerKeepsRetryableFailures(t *testing.T) {
	q := queue.NewMemoryQueue(1)
	rec := &stubReconciler{err: &reconcile.Error{Kind: reconcile.ErrKindRetryable, Op: "claim", Err: retryableErr{}}}
	aud := &stubAudit{}
	r := NewReplayer(q, rec, nil, WithAuditRecorder(aud), WithMaxAttempts(3))

	msg := enqueue(t, q, NewLetter(sampleEvent(), webhooks.IntentPaymentSucceeded, nil, true))
	msg.ReceiveCount = 2
	if r.HandleMessage(context.Background(), msg) {
		t.Fatal("retryable failure should stay on the queue")
	}
	if q.Deleted(msg.ReceiptHandle) || len(aud.entries) != 0 {
		t.Fatal("unexpected delete or audit")
	}
}

func TestReplayerAbandonsAfterMaxAttempts(t *testing.T) {
	q := queue.NewMemoryQueue(1)
	rec := &stubReconciler{err: &reconcile.Error{Kind: reconcile.ErrKindRetryable, Op: "claim", Err: retryableErr{}}}
	aud := &stubAudit{}
	alerts := &stubAlerter{}
	r := NewReplayer(q, rec, nil, WithAuditRecorder(aud), WithAlerter(alerts), WithMaxAttempts(3))

	msg := enqueue(t, q, NewLetter(sampleEvent(), webhooks.IntentPaymentSucceeded, nil, true))
	msg.ReceiveCount = 3
	if !r.HandleMessage(context.Background(), msg) {
		t.Fatal("expected letter to be abandoned")
	}
	if len(aud.entries) != 1 || aud.entries[0].EventType != audit.EventDeadLettered {
		t.Fatalf("unexpected audit entries %+v", aud.entries)
	}
	if len(alerts.alerts) != 1 || alerts.alerts[0].Severity != notify.SeverityCritical {
		t.Fatalf("unexpected alerts %+v", alerts.alerts)
	}
}

func TestReplayerDropsPermanentFailures(t *testing.T) {
	q := queue.NewMemoryQueue(1)
	rec := &stubReconciler{err: &reconcile.Error{Kind: reconcile.ErrKindPermanent, Op: "booking", Err: fmt.Errorf("lookup: %w", bookings.ErrNotFound)}}
	aud := &stubAudit{}
	r := NewReplayer(q, rec, nil, WithAuditRecorder(aud))

	msg := enqueue(t, q, NewLetter(sampleEvent(), webhooks.IntentPaymentSucceeded, nil, true))
	if !r.HandleMessage(context.Background(), msg) {
		t.Fatal("permanent failure should be removed")
	}
	if len(aud.entries) != 1 {
		t.Fatalf("expected audit entry, got %d", len(aud.entries))
	}
}

func TestReplayerDiscardsGarbage(t *testing.T) {
	q := queue.NewMemoryQueue(1)
	rec := &stubReconciler{}
	r := NewReplayer(q, rec, nil)

	if !r.HandleMessage(context.Background(), queue.Message{ID: "m", Body: "{", ReceiptHandle: "rh"}) {
		t.Fatal("expected garbage to be deleted")
	}
	if len(rec.calls) != 0 {
		t.Fatal("reconciler should not run")
	}
}

func TestReplayerStartStops(t *testing.T) {
	q := queue.NewMemoryQueue(4)
	rec := &stubReconciler{}
	r := NewReplayer(q, rec, nil, WithReceiveWaitSeconds(0), WithWorkerCount(2))

	body, _ := NewLetter(sampleEvent(), webhooks.IntentPaymentSucceeded, nil, true).Encode()
	_ = q.Send(context.Background(), body)

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec.mu.Lock()
		n := len(rec.calls)
		rec.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("letter was not replayed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	r.Wait()
}
