// Package broker provides the durable message stream that carries jobs from
// producers to worker consumer groups.
package broker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// Dead-letter reasons.
const (
	ReasonInvalidFormat  = "invalid_format"
	ReasonUnmarshalError = "unmarshal_error"
	ReasonJobFailed      = "job_failed"
)

// ErrEmptyPayload is returned when publishing an envelope without a payload.
var ErrEmptyPayload = errors.New("broker: empty payload")

// Envelope is a message as published to a stream.
type Envelope struct {
	Key        string
	JobID      string
	Payload    []byte
	EnqueuedAt time.Time
}

// Delivery is a message handed to a consumer. It stays pending until acknowledged.
type Delivery struct {
	ID string
	Envelope
}

// Stream is a consumer-group message stream with at-least-once delivery.
type Stream interface {
	// EnsureGroup creates the consumer group (and stream) if missing.
	EnsureGroup(ctx context.Context) error
	// Publish appends an envelope and returns its message id.
	Publish(ctx context.Context, env Envelope) (string, error)
	// Read returns up to count new messages for consumer, waiting at most block.
	Read(ctx context.Context, consumer string, count int, block time.Duration) ([]Delivery, error)
	// Claim transfers messages pending longer than minIdle to consumer.
	Claim(ctx context.Context, consumer string, minIdle time.Duration, count int) ([]Delivery, error)
	// Ack removes messages from the pending list.
	Ack(ctx context.Context, ids ...string) error
	// DeadLetter copies a delivery to the dead-letter stream.
	DeadLetter(ctx context.Context, d Delivery, reason, detail string) error
	// Depth reports messages not yet acknowledged (pending plus unread).
	Depth(ctx context.Context) (int64, error)
}

// DeadLetterName returns the dead-letter stream name for stream.
func DeadLetterName(stream string) string {
	return stream + ":dlq"
}

// NewConsumerID creates a stable-ish consumer name for consumer groups.
func NewConsumerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%d", host, os.Getpid(), time.Now().UnixNano())
}
