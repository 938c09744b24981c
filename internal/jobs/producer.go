// Package jobs runs CSV import and export asynchronously over a broker stream.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/roster/roster/internal/apperr"
	"github.com/roster/roster/internal/broker"
	"github.com/roster/roster/internal/metrics"
	"github.com/roster/roster/internal/model"
)

// DefaultPublishTimeout bounds a single publish.
const DefaultPublishTimeout = 2 * time.Second

// Receipt identifies an enqueued job.
type Receipt struct {
	JobID      string        `json:"job_id"`
	MessageID  string        `json:"message_id"`
	Key        string        `json:"key"`
	Kind       model.JobKind `json:"kind"`
	Path       string        `json:"path"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
}

// Producer publishes jobs to a stream.
type Producer struct {
	stream  broker.Stream
	timeout time.Duration
	logger  *slog.Logger
	metrics metrics.Recorder
	now     func() time.Time
}

// NewProducer creates a job producer. A non-positive timeout uses DefaultPublishTimeout.
func NewProducer(stream broker.Stream, logger *slog.Logger, recorder metrics.Recorder, timeout time.Duration) *Producer {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	return &Producer{
		stream:  stream,
		timeout: timeout,
		logger:  logger.With("component", "jobs.producer"),
		metrics: recorder,
		now:     time.Now,
	}
}

// Enqueue validates and publishes job. It returns once the broker accepted the
// message or the publish timeout elapsed. Failures are not retried.
func (p *Producer) Enqueue(ctx context.Context, job model.Job) (*Receipt, error) {
	if err := job.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "invalid job", err)
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return nil, apperr.Internal("marshal job", err)
	}

	receipt := &Receipt{
		JobID:      ulid.Make().String(),
		Key:        job.String(),
		Kind:       job.Kind,
		Path:       job.Path,
		EnqueuedAt: p.now().UTC(),
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msgID, err := p.stream.Publish(ctx, broker.Envelope{
		Key:        receipt.Key,
		JobID:      receipt.JobID,
		Payload:    payload,
		EnqueuedAt: receipt.EnqueuedAt,
	})
	if err != nil {
		p.logger.Error("failed to publish job",
			"job_id", receipt.JobID,
			"key", receipt.Key,
			"error", err,
		)
		p.metrics.IncJobPublished(string(job.Kind), metrics.StatusFailed)
		return nil, apperr.Internal("publish job", err)
	}
	receipt.MessageID = msgID

	p.logger.Info("job published",
		"job_id", receipt.JobID,
		"message_id", msgID,
		"key", receipt.Key,
	)
	p.metrics.IncJobPublished(string(job.Kind), metrics.StatusSuccess)
	return receipt, nil
}
