package broker

import (
	"context"
	"errors"
	"fmt"
)

// Backends accepted by Open.
const (
	BackendRedis  = "redis"
	BackendAMQP   = "amqp"
	BackendMemory = "memory"
)

// Options selects and addresses a Stream backend.
type Options struct {
	Backend  string
	RedisURL string
	AMQPURL  string
	// Stream names the Redis stream or the AMQP queue.
	Stream string
	// Group names the Redis consumer group. AMQP consumers share the queue instead.
	Group    string
	Prefetch int
}

// Pinger is implemented by streams backed by a network connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Open connects the configured backend. The returned close function releases
// every connection Open made.
func Open(ctx context.Context, opts Options) (Stream, func() error, error) {
	switch opts.Backend {
	case BackendRedis:
		client, err := Connect(ctx, opts.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return NewRedisStream(client, opts.Stream, opts.Group), client.Close, nil

	case BackendAMQP:
		conn, err := DialAMQP(opts.AMQPURL)
		if err != nil {
			return nil, nil, err
		}
		stream, err := NewAMQPStream(conn, opts.Stream, opts.Prefetch)
		if err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		closeAll := func() error {
			return errors.Join(stream.Close(), conn.Close())
		}
		return stream, closeAll, nil

	case BackendMemory:
		return NewMemoryStream(), func() error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unknown broker backend %q", opts.Backend)
	}
}

// URL returns the connection string Open dials for opts, for log redaction.
func (o Options) URL() string {
	switch o.Backend {
	case BackendRedis:
		return o.RedisURL
	case BackendAMQP:
		return o.AMQPURL
	default:
		return ""
	}
}
