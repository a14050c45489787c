// Package queue wraps the message queues used for dead letters and outbox
// delivery. SQSQueue is used in deployed environments; MemoryQueue backs
// local runs and tests.
package queue

import "context"

// Queue sends, receives and acknowledges string messages.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Message is one received queue message.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
	// ReceiveCount is the provider's approximate delivery count, when known.
	ReceiveCount int
}
