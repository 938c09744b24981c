package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultMaxLen is the approximate max length of a job stream.
	DefaultMaxLen = 100000

	// DefaultDeadLetterMaxLen keeps the last dead-lettered messages.
	DefaultDeadLetterMaxLen = 10000
)

// Stream message field names.
const (
	fieldPayload    = "payload"
	fieldKey        = "key"
	fieldJobID      = "job_id"
	fieldEnqueuedAt = "enqueued_at"
)

// Connect parses redisURL, configures the connection pool and verifies connectivity.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opt.PoolSize = 10
	opt.MinIdleConns = 2
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return client, nil
}

// RedisStream implements Stream on Redis Streams.
type RedisStream struct {
	client *redis.Client
	stream string
	group  string
	dlq    string
	maxLen int64

	mu         sync.Mutex
	claimStart string
}

// NewRedisStream binds a stream and consumer group on client.
func NewRedisStream(client *redis.Client, stream, group string) *RedisStream {
	return &RedisStream{
		client:     client,
		stream:     stream,
		group:      group,
		dlq:        DeadLetterName(stream),
		maxLen:     DefaultMaxLen,
		claimStart: "0-0",
	}
}

// Ping checks Redis connectivity.
func (s *RedisStream) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// EnsureGroup creates the consumer group if it doesn't exist.
func (s *RedisStream) EnsureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !isGroupExistsError(err) {
		return fmt.Errorf("xgroup create: %w", err)
	}
	return nil
}

// Publish adds an envelope to the stream.
func (s *RedisStream) Publish(ctx context.Context, env Envelope) (string, error) {
	if len(env.Payload) == 0 {
		return "", ErrEmptyPayload
	}
	if env.EnqueuedAt.IsZero() {
		env.EnqueuedAt = time.Now()
	}

	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			fieldPayload:    string(env.Payload),
			fieldKey:        env.Key,
			fieldJobID:      env.JobID,
			fieldEnqueuedAt: env.EnqueuedAt.UTC().Format(time.RFC3339Nano),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return id, nil
}

// Read reads new messages using XREADGROUP. A non-positive block does not wait.
func (s *RedisStream) Read(ctx context.Context, consumer string, count int, block time.Duration) ([]Delivery, error) {
	if block <= 0 {
		block = -1
	}

	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: consumer,
		Streams:  []string{s.stream, ">"},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(streams) == 0) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	return toDeliveries(streams[0].Messages), nil
}

// Claim reclaims messages left pending by other consumers using XAUTOCLAIM.
func (s *RedisStream) Claim(ctx context.Context, consumer string, minIdle time.Duration, count int) ([]Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages, next, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.stream,
		Group:    s.group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    s.claimStart,
		Count:    int64(count),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	if next != "" {
		s.claimStart = next
	}
	return toDeliveries(messages), nil
}

// Ack acknowledges processed messages.
func (s *RedisStream) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.client.XAck(ctx, s.stream, s.group, ids...).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

// DeadLetter writes the delivery and failure metadata to the dead-letter stream.
func (s *RedisStream) DeadLetter(ctx context.Context, d Delivery, reason, detail string) error {
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.dlq,
		MaxLen: DefaultDeadLetterMaxLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"original_id":      d.ID,
			"original_stream":  s.stream,
			"reason":           reason,
			"detail":           detail,
			fieldPayload:       string(d.Payload),
			fieldKey:           d.Key,
			fieldJobID:         d.JobID,
			"dead_lettered_at": time.Now().UTC().Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd dlq: %w", err)
	}
	return nil
}

// Depth returns pending plus lag for the consumer group.
func (s *RedisStream) Depth(ctx context.Context) (int64, error) {
	groups, err := s.client.XInfoGroups(ctx, s.stream).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("xinfo groups: %w", err)
	}
	for _, group := range groups {
		if group.Name == s.group {
			return group.Pending + group.Lag, nil
		}
	}
	return 0, nil
}

func toDeliveries(messages []redis.XMessage) []Delivery {
	if len(messages) == 0 {
		return nil
	}
	out := make([]Delivery, 0, len(messages))
	for _, msg := range messages {
		out = append(out, toDelivery(msg))
	}
	return out
}

// toDelivery tolerates missing fields; a missing payload surfaces as an
// empty Payload for the consumer to reject.
func toDelivery(msg redis.XMessage) Delivery {
	d := Delivery{ID: msg.ID}
	if v, ok := msg.Values[fieldPayload].(string); ok {
		d.Payload = []byte(v)
	}
	d.Key, _ = msg.Values[fieldKey].(string)
	d.JobID, _ = msg.Values[fieldJobID].(string)
	if v, ok := msg.Values[fieldEnqueuedAt].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			d.EnqueuedAt = ts
		}
	}
	return d
}

func isGroupExistsError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
