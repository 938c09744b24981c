package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roster/roster/internal/apperr"
	"github.com/roster/roster/internal/broker"
	"github.com/roster/roster/internal/metrics"
	"github.com/roster/roster/internal/model"
	"github.com/roster/roster/internal/service"
)

const (
	// DefaultConcurrency is the number of jobs executed at once.
	DefaultConcurrency = 4

	// DefaultBlockTimeout is how long to block waiting for messages.
	DefaultBlockTimeout = 5 * time.Second

	// DefaultMaxRetries is the max attempts for a job that fails with an internal error.
	DefaultMaxRetries = 3

	// DefaultClaimInterval is how often to scan pending messages.
	DefaultClaimInterval = 10 * time.Second

	// DefaultClaimIdle is the idle time before reclaiming pending messages.
	DefaultClaimIdle = 5 * time.Minute

	// DefaultMetricsInterval is how often to refresh queue depth metrics.
	DefaultMetricsInterval = 5 * time.Second

	// DefaultBackoff is the base retry delay; attempt n waits DefaultBackoff << n.
	DefaultBackoff = 500 * time.Millisecond
)

// Runner executes jobs. service.UserService satisfies it.
type Runner interface {
	ImportFromPath(ctx context.Context, path string) (*service.BulkResult, error)
	ExportToPath(ctx context.Context, path string) (int, error)
}

// RunRecorder persists job outcomes.
type RunRecorder interface {
	RecordStart(ctx context.Context, run *model.JobRun) error
	RecordFinish(ctx context.Context, run *model.JobRun) error
}

type nopRuns struct{}

func (nopRuns) RecordStart(context.Context, *model.JobRun) error  { return nil }
func (nopRuns) RecordFinish(context.Context, *model.JobRun) error { return nil }

// Worker consumes jobs from a stream and dispatches them to a bounded pool.
type Worker struct {
	stream          broker.Stream
	runner          Runner
	runs            RunRecorder
	logger          *slog.Logger
	metrics         metrics.Recorder
	consumerID      string
	concurrency     int
	blockTimeout    time.Duration
	maxRetries      int
	backoff         time.Duration
	claimInterval   time.Duration
	claimIdle       time.Duration
	metricsInterval time.Duration
	lastClaim       time.Time
	lastMetrics     time.Time

	slots    chan struct{}
	tasks    sync.WaitGroup
	inFlight atomic.Int64

	activeMu sync.Mutex
	active   map[string]struct{} // delivery ids executing in this worker

	started  bool
	draining bool
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex
}

// NewWorker creates a job worker. A nil runs disables the run log.
func NewWorker(stream broker.Stream, runner Runner, runs RunRecorder, logger *slog.Logger, consumerID string, recorder metrics.Recorder) *Worker {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if runs == nil {
		runs = nopRuns{}
	}
	return &Worker{
		stream:          stream,
		runner:          runner,
		runs:            runs,
		logger:          logger.With("component", "jobs.worker", "consumer_id", consumerID),
		metrics:         recorder,
		consumerID:      consumerID,
		concurrency:     DefaultConcurrency,
		blockTimeout:    DefaultBlockTimeout,
		maxRetries:      DefaultMaxRetries,
		backoff:         DefaultBackoff,
		claimInterval:   DefaultClaimInterval,
		claimIdle:       DefaultClaimIdle,
		metricsInterval: DefaultMetricsInterval,
		active:          make(map[string]struct{}),
	}
}

// SetConcurrency overrides the number of concurrently executing jobs.
func (w *Worker) SetConcurrency(n int) {
	if n > 0 {
		w.concurrency = n
	}
}

// SetBlockTimeout overrides the default blocking timeout.
func (w *Worker) SetBlockTimeout(timeout time.Duration) {
	if timeout > 0 {
		w.blockTimeout = timeout
	}
}

// SetMaxRetries overrides the attempt limit for internal failures.
func (w *Worker) SetMaxRetries(n int) {
	if n > 0 {
		w.maxRetries = n
	}
}

// SetBackoff overrides the base retry delay.
func (w *Worker) SetBackoff(d time.Duration) {
	if d > 0 {
		w.backoff = d
	}
}

// SetClaimInterval overrides the default pending-claim interval.
func (w *Worker) SetClaimInterval(interval time.Duration) {
	if interval > 0 {
		w.claimInterval = interval
	}
}

// SetClaimIdle overrides the default pending idle threshold.
func (w *Worker) SetClaimIdle(idle time.Duration) {
	if idle > 0 {
		w.claimIdle = idle
	}
}

// SetMetricsInterval overrides the default metrics refresh interval.
func (w *Worker) SetMetricsInterval(interval time.Duration) {
	if interval > 0 {
		w.metricsInterval = interval
	}
}

// Run starts the consume loop. Blocks until ctx is cancelled or Shutdown is called.
// Dispatched jobs keep running after the loop stops; Shutdown waits for them.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return errors.New("worker already started")
	}
	w.started = true
	w.done = make(chan struct{})
	w.slots = make(chan struct{}, w.concurrency)
	ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	defer close(w.done)

	if err := w.stream.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	// Jobs outlive the loop so Shutdown can drain them.
	taskCtx := context.WithoutCancel(ctx)

	w.logger.Info("job worker started", "concurrency", w.concurrency)

	for {
		if w.isDraining() {
			w.logger.Info("job worker draining, stopping")
			return nil
		}

		select {
		case <-ctx.Done():
			w.logger.Info("job worker stopping")
			if w.isDraining() {
				return nil
			}
			return ctx.Err()
		default:
			if err := w.processOnce(ctx, taskCtx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				w.logger.Error("process error", "error", err)
				sleepCtx(ctx, time.Second)
			}
		}
	}
}

// Shutdown stops reading and waits for in-flight jobs.
// It implements server.ShutdownFunc for integration with graceful shutdown.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	w.draining = true
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	w.logger.Info("job worker shutdown initiated", "in_flight", w.inFlight.Load())

	if cancel != nil {
		cancel()
	}

	drained := make(chan struct{})
	go func() {
		<-done
		w.tasks.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		w.logger.Info("job worker shutdown complete")
		return nil
	case <-ctx.Done():
		w.logger.Warn("job worker shutdown timed out", "in_flight", w.inFlight.Load())
		return ctx.Err()
	}
}

func (w *Worker) isDraining() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.draining
}

// InFlight returns the number of jobs currently executing.
func (w *Worker) InFlight() int64 {
	return w.inFlight.Load()
}

// processOnce waits for a free slot, then fetches and dispatches one message.
func (w *Worker) processOnce(ctx, taskCtx context.Context) error {
	w.maybeUpdateQueueDepth(ctx)

	select {
	case w.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	deliveries, err := w.maybeClaimPending(ctx)
	if err != nil {
		w.logger.Warn("failed to claim pending messages", "error", err)
	}
	deliveries = w.dropActive(deliveries)
	if len(deliveries) == 0 {
		deliveries, err = w.stream.Read(ctx, w.consumerID, 1, w.blockTimeout)
		if err != nil {
			<-w.slots
			return fmt.Errorf("read: %w", err)
		}
	}
	if len(deliveries) == 0 {
		<-w.slots
		return nil
	}

	d := deliveries[0]
	job, reason, err := decodeJob(d)
	if err != nil {
		<-w.slots
		w.rejectMessage(ctx, d, reason, err)
		return nil
	}

	w.dispatch(taskCtx, d, job)
	return nil
}

func (w *Worker) dispatch(ctx context.Context, d broker.Delivery, job model.Job) {
	w.tasks.Add(1)
	w.metrics.SetJobsInFlight(w.inFlight.Add(1))
	w.setActive(d.ID, true)

	go func() {
		defer func() {
			w.setActive(d.ID, false)
			w.metrics.SetJobsInFlight(w.inFlight.Add(-1))
			<-w.slots
			w.tasks.Done()
		}()
		w.execute(ctx, d, job)
	}()
}

// maybeClaimPending reclaims messages another consumer left pending.
func (w *Worker) maybeClaimPending(ctx context.Context) ([]broker.Delivery, error) {
	if w.claimInterval <= 0 || w.claimIdle <= 0 {
		return nil, nil
	}
	if !w.lastClaim.IsZero() && time.Since(w.lastClaim) < w.claimInterval {
		return nil, nil
	}
	w.lastClaim = time.Now()

	return w.stream.Claim(ctx, w.consumerID, w.claimIdle, 1)
}

func (w *Worker) setActive(id string, on bool) {
	w.activeMu.Lock()
	defer w.activeMu.Unlock()
	if on {
		w.active[id] = struct{}{}
	} else {
		delete(w.active, id)
	}
}

// dropActive filters out reclaimed deliveries this worker is still executing.
// Claiming them reset their idle time, so they stay with this consumer.
func (w *Worker) dropActive(deliveries []broker.Delivery) []broker.Delivery {
	if len(deliveries) == 0 {
		return deliveries
	}
	w.activeMu.Lock()
	defer w.activeMu.Unlock()

	kept := deliveries[:0]
	for _, d := range deliveries {
		if _, running := w.active[d.ID]; running {
			w.logger.Debug("skipping reclaim of running job", "message_id", d.ID, "job_id", d.JobID)
			continue
		}
		kept = append(kept, d)
	}
	return kept
}

func (w *Worker) maybeUpdateQueueDepth(ctx context.Context) {
	if w.metricsInterval <= 0 {
		return
	}
	if !w.lastMetrics.IsZero() && time.Since(w.lastMetrics) < w.metricsInterval {
		return
	}
	w.lastMetrics = time.Now()

	depth, err := w.stream.Depth(ctx)
	if err != nil {
		w.logger.Warn("failed to read queue depth", "error", err)
		return
	}
	w.metrics.SetJobQueueDepth(depth)
}

// decodeJob parses a delivery payload, returning a dead-letter reason on failure.
func decodeJob(d broker.Delivery) (model.Job, string, error) {
	if len(d.Payload) == 0 {
		return model.Job{}, broker.ReasonInvalidFormat, errors.New("payload field missing or empty")
	}

	var job model.Job
	if err := json.Unmarshal(d.Payload, &job); err != nil {
		return model.Job{}, broker.ReasonUnmarshalError, err
	}
	if err := job.Validate(); err != nil {
		return model.Job{}, broker.ReasonInvalidFormat, err
	}
	return job, "", nil
}

// rejectMessage dead-letters and acknowledges a message that cannot be decoded.
func (w *Worker) rejectMessage(ctx context.Context, d broker.Delivery, reason string, cause error) {
	w.logger.Warn("dead-lettering poison message",
		"message_id", d.ID,
		"reason", reason,
		"detail", cause.Error(),
	)

	if err := w.stream.DeadLetter(ctx, d, reason, cause.Error()); err != nil {
		w.logger.Error("failed to write to dead-letter queue", "message_id", d.ID, "error", err)
	}
	if err := w.stream.Ack(ctx, d.ID); err != nil {
		w.logger.Error("failed to ack poison message", "message_id", d.ID, "error", err)
	}
	w.metrics.IncJobProcessed("unknown", metrics.StatusDeadLettered)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

var _ Runner = (*service.UserService)(nil)

// retryable reports whether err may succeed on another attempt.
func retryable(err error) bool {
	return apperr.KindOf(err) == apperr.KindInternal && !errors.Is(err, context.Canceled)
}
