package ports

import (
	"context"
	"time"
)

// Delivery is one message handed out by an EventSource.
type Delivery interface {
	// Key is the broker ordering key (the order id for well-behaved producers).
	Key() string
	Payload() []byte
	// Source describes the broker position, e.g. "orders/3@1042".
	Source() string
	// Lane names the unit over which acks are ordered. Kafka commits are
	// cumulative per partition, so its lane is the partition; brokers that
	// ack single messages use the key. Deliveries of one lane must be acked
	// in fetch order.
	Lane() string
	// Ack commits the message so it is not redelivered.
	Ack(ctx context.Context) error
}

// EventSource yields deliveries one at a time. Fetch blocks until a message is
// available or ctx is done.
type EventSource interface {
	Fetch(ctx context.Context) (Delivery, error)
	Close() error
}

// EventPublisher writes raw events keyed by order id.
type EventPublisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
	Close() error
}

// DeadLetter is an event that could not be processed, forwarded unchanged with
// the failure attached.
type DeadLetter struct {
	ID       string
	Key      string
	Payload  []byte
	Reason   string
	Field    string
	Detail   string
	Source   string
	FailedAt time.Time
}

type DeadLetterSink interface {
	Send(ctx context.Context, letter DeadLetter) error
}

type DeadLetterReader interface {
	ListDeadLetters(ctx context.Context, limit int) ([]DeadLetter, error)
}
