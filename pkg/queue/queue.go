package queue

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by brokers after Close.
var ErrClosed = errors.New("queue: broker closed")

// Delivery is one message handed to a consumer. The broker keeps it pending
// until Ack; unacked deliveries are eligible for reclaim, which is what makes
// the substrate at-least-once.
type Delivery struct {
	ID      string
	Payload []byte
}

// Broker is the event substrate port. Streams are named after event types;
// all consumers of a stream share one group, so each delivery goes to a single
// worker but may be redelivered if that worker dies before Ack.
type Broker interface {
	Publish(ctx context.Context, stream string, payload []byte) (string, error)
	// Consume blocks up to block for new deliveries on stream for the given
	// group/consumer. It may return fewer than count deliveries, or none.
	Consume(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]Delivery, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
	// Claim transfers deliveries pending longer than minIdle to consumer.
	Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int) ([]Delivery, error)
	Close() error
}
