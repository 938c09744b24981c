package broker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultPrefetch caps unacknowledged AMQP deliveries per consumer.
const DefaultPrefetch = 16

// AMQP header names.
const (
	headerKey    = "key"
	headerReason = "dlq_reason"
	headerDetail = "dlq_detail"
	headerOrigin = "dlq_original_id"
)

// AMQP errors.
var (
	// ErrDeliveriesClosed is returned by Read once the broker closed the consumer.
	ErrDeliveriesClosed = errors.New("broker: amqp deliveries closed")
	// ErrPublishNacked is returned when the broker refuses a published message.
	ErrPublishNacked = errors.New("broker: amqp publish nacked")
	// ErrUnroutable is returned when no queue accepted a mandatory publish.
	ErrUnroutable = errors.New("broker: amqp message unroutable")
)

// DialAMQP connects to a RabbitMQ broker.
func DialAMQP(amqpURL string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}
	return conn, nil
}

// AMQPStream implements Stream on a durable RabbitMQ queue. RabbitMQ returns
// unacknowledged deliveries to the queue when a consumer goes away, so Claim
// never has anything to transfer.
type AMQPStream struct {
	conn  *amqp.Connection
	queue string
	dlq   string

	pubMu   sync.Mutex
	pub     *amqp.Channel
	returns chan amqp.Return

	mu         sync.Mutex
	sub        *amqp.Channel
	deliveries <-chan amqp.Delivery
}

// NewAMQPStream opens the channels used to publish to and consume from queue.
func NewAMQPStream(conn *amqp.Connection, queue string, prefetch int) (*AMQPStream, error) {
	if prefetch <= 0 {
		prefetch = DefaultPrefetch
	}

	pub, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	if err := pub.Confirm(false); err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	// Publishes are serialized and each drains its own return, so one slot
	// keeps the connection reader from blocking.
	returns := pub.NotifyReturn(make(chan amqp.Return, 1))

	sub, err := conn.Channel()
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("open consume channel: %w", err)
	}
	if err := sub.Qos(prefetch, 0, false); err != nil {
		_ = pub.Close()
		_ = sub.Close()
		return nil, fmt.Errorf("set prefetch: %w", err)
	}

	return &AMQPStream{
		conn:    conn,
		queue:   queue,
		dlq:     DeadLetterName(queue),
		pub:     pub,
		returns: returns,
		sub:     sub,
	}, nil
}

// Ping reports whether the connection is still open.
func (s *AMQPStream) Ping(ctx context.Context) error {
	if s.conn.IsClosed() {
		return errors.New("amqp connection closed")
	}
	return nil
}

// Close closes both channels. The connection belongs to the caller.
func (s *AMQPStream) Close() error {
	return errors.Join(s.pub.Close(), s.sub.Close())
}

// EnsureGroup declares the durable job queue and its dead-letter queue.
func (s *AMQPStream) EnsureGroup(ctx context.Context) error {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	for _, name := range []string{s.queue, s.dlq} {
		if _, err := s.pub.QueueDeclare(
			name,
			true,  // durable
			false, // auto-delete
			false, // exclusive
			false, // no-wait
			nil,
		); err != nil {
			return fmt.Errorf("declare queue %s: %w", name, err)
		}
	}
	return nil
}

// Publish sends an envelope as a persistent message. The job id doubles as
// the returned message id.
func (s *AMQPStream) Publish(ctx context.Context, env Envelope) (string, error) {
	if len(env.Payload) == 0 {
		return "", ErrEmptyPayload
	}
	if env.EnqueuedAt.IsZero() {
		env.EnqueuedAt = time.Now()
	}

	if err := s.publish(ctx, s.queue, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.JobID,
		Timestamp:    env.EnqueuedAt.UTC(),
		Headers:      amqp.Table{headerKey: env.Key},
		Body:         env.Payload,
	}); err != nil {
		return "", err
	}
	return env.JobID, nil
}

// publish sends msg as a mandatory message and waits under ctx for the
// broker's confirm. An unroutable message is returned before its ack.
func (s *AMQPStream) publish(ctx context.Context, queue string, msg amqp.Publishing) error {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	confirm, err := s.pub.PublishWithDeferredConfirmWithContext(ctx,
		"",    // default exchange
		queue, // routing key
		true,  // mandatory
		false, // immediate
		msg,
	)
	if err != nil {
		return fmt.Errorf("amqp publish: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("amqp publish confirm: %w", err)
	}
	if ret, ok := s.takeReturn(); ok {
		return fmt.Errorf("%w: %s to %q: %s", ErrUnroutable, ret.MessageId, ret.RoutingKey, ret.ReplyText)
	}
	if !acked {
		return fmt.Errorf("%w: queue %s", ErrPublishNacked, queue)
	}
	return nil
}

func (s *AMQPStream) takeReturn() (amqp.Return, bool) {
	select {
	case ret, ok := <-s.returns:
		return ret, ok
	default:
		return amqp.Return{}, false
	}
}

// Read waits up to block for the first delivery, then takes whatever else is
// already buffered, up to count. A non-positive block does not wait.
func (s *AMQPStream) Read(ctx context.Context, consumer string, count int, block time.Duration) ([]Delivery, error) {
	if count <= 0 {
		count = 1
	}

	deliveries, err := s.consume(consumer)
	if err != nil {
		return nil, err
	}

	var timeout <-chan time.Time
	if block > 0 {
		timer := time.NewTimer(block)
		defer timer.Stop()
		timeout = timer.C
	}

	first, err := nextDelivery(ctx, deliveries, timeout, block > 0)
	if err != nil || first == nil {
		return nil, err
	}

	out := make([]Delivery, 0, count)
	out = append(out, *first)
	for len(out) < count {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return out, nil
			}
			out = append(out, fromAMQP(d))
		default:
			return out, nil
		}
	}
	return out, nil
}

// nextDelivery takes one delivery, waiting for it only when wait is set.
func nextDelivery(ctx context.Context, deliveries <-chan amqp.Delivery, timeout <-chan time.Time, wait bool) (*Delivery, error) {
	if !wait {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return nil, ErrDeliveriesClosed
			}
			out := fromAMQP(d)
			return &out, nil
		default:
			return nil, nil
		}
	}

	select {
	case d, ok := <-deliveries:
		if !ok {
			return nil, ErrDeliveriesClosed
		}
		out := fromAMQP(d)
		return &out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, nil
	}
}

// consume starts the consumer on first use.
func (s *AMQPStream) consume(consumer string) (<-chan amqp.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deliveries != nil {
		return s.deliveries, nil
	}

	deliveries, err := s.sub.Consume(
		s.queue,
		consumer,
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("amqp consume: %w", err)
	}
	s.deliveries = deliveries
	return deliveries, nil
}

// Claim is a no-op; the broker redelivers abandoned messages itself.
func (s *AMQPStream) Claim(ctx context.Context, consumer string, minIdle time.Duration, count int) ([]Delivery, error) {
	return nil, nil
}

// Ack acknowledges deliveries by delivery tag.
func (s *AMQPStream) Ack(ctx context.Context, ids ...string) error {
	var errs []error
	for _, id := range ids {
		tag, err := strconv.ParseUint(id, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid delivery tag %q", id))
			continue
		}
		if err := s.sub.Ack(tag, false); err != nil {
			errs = append(errs, fmt.Errorf("amqp ack %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// DeadLetter publishes a copy of d to the dead-letter queue.
func (s *AMQPStream) DeadLetter(ctx context.Context, d Delivery, reason, detail string) error {
	return s.publish(ctx, s.dlq, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    d.JobID,
		Timestamp:    time.Now().UTC(),
		Headers: amqp.Table{
			headerKey:    d.Key,
			headerReason: reason,
			headerDetail: detail,
			headerOrigin: d.ID,
		},
		Body: d.Payload,
	})
}

// Depth reports messages waiting in the queue. Deliveries held by consumers
// are not included.
func (s *AMQPStream) Depth(ctx context.Context) (int64, error) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	q, err := s.pub.QueueDeclarePassive(s.queue, true, false, false, false, nil)
	if err != nil {
		return 0, fmt.Errorf("inspect queue: %w", err)
	}
	return int64(q.Messages), nil
}

func fromAMQP(d amqp.Delivery) Delivery {
	key, _ := d.Headers[headerKey].(string)
	return Delivery{
		ID: strconv.FormatUint(d.DeliveryTag, 10),
		Envelope: Envelope{
			Key:        key,
			JobID:      d.MessageId,
			Payload:    d.Body,
			EnqueuedAt: d.Timestamp,
		},
	}
}
