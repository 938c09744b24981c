package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/roster/roster/internal/broker"
	"github.com/roster/roster/internal/metrics"
	"github.com/roster/roster/internal/model"
)

// execute runs one job to completion, then records and acknowledges it.
// Failures are logged and dead-lettered, never returned.
func (w *Worker) execute(ctx context.Context, d broker.Delivery, job model.Job) {
	start := time.Now()
	logger := w.logger.With("job_id", d.JobID, "message_id", d.ID, "kind", job.Kind, "path", job.Path)

	run := &model.JobRun{
		JobID:     d.JobID,
		MessageID: d.ID,
		Kind:      job.Kind,
		Path:      job.Path,
		Status:    model.JobRunRunning,
		StartedAt: start.UTC(),
	}
	if run.JobID == "" {
		run.JobID = d.ID
	}
	if err := w.runs.RecordStart(ctx, run); err != nil {
		logger.Warn("failed to record job start", "error", err)
	}

	logger.Info("job started")
	err := w.runWithRetry(ctx, job, run)

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	kind := string(job.Kind)
	w.metrics.ObserveJobDuration(kind, time.Since(start))

	if err != nil {
		run.Status = model.JobRunFailed
		run.Error = err.Error()
		logger.Error("job failed",
			"attempts", run.Attempts,
			"duration_ms", float64(time.Since(start).Microseconds())/1000,
			"error", err,
		)
		if dlqErr := w.stream.DeadLetter(ctx, d, broker.ReasonJobFailed, err.Error()); dlqErr != nil {
			logger.Error("failed to write to dead-letter queue", "error", dlqErr)
		}
		w.metrics.IncJobProcessed(kind, metrics.StatusFailed)
	} else {
		run.Status = model.JobRunSucceeded
		logger.Info("job finished",
			"attempts", run.Attempts,
			"created", run.Created,
			"failed", run.Failed,
			"duration_ms", float64(time.Since(start).Microseconds())/1000,
		)
		w.metrics.IncJobProcessed(kind, metrics.StatusSuccess)
	}

	if recErr := w.runs.RecordFinish(ctx, run); recErr != nil {
		logger.Warn("failed to record job finish", "error", recErr)
	}
	if ackErr := w.stream.Ack(ctx, d.ID); ackErr != nil {
		logger.Error("failed to ack job", "error", ackErr)
	}
}

// runWithRetry retries internal failures with exponential backoff.
func (w *Worker) runWithRetry(ctx context.Context, job model.Job, run *model.JobRun) error {
	var lastErr error

	for attempt := 1; attempt <= w.maxRetries; attempt++ {
		run.Attempts = attempt
		lastErr = w.runOnce(ctx, job, run)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt == w.maxRetries {
			break
		}

		backoff := w.backoff << (attempt - 1)
		w.logger.Warn("job failed, retrying",
			"kind", job.Kind,
			"path", job.Path,
			"attempt", attempt,
			"backoff_seconds", backoff.Seconds(),
			"error", lastErr,
		)
		w.metrics.IncJobProcessed(string(job.Kind), metrics.StatusRetried)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

func (w *Worker) runOnce(ctx context.Context, job model.Job, run *model.JobRun) error {
	switch job.Kind {
	case model.JobImportCSV:
		result, err := w.runner.ImportFromPath(ctx, job.Path)
		if err != nil {
			return err
		}
		run.Created = result.Created
		run.Failed = result.Failed()
		return nil
	case model.JobExportCSV:
		n, err := w.runner.ExportToPath(ctx, job.Path)
		if err != nil {
			return err
		}
		run.Created = n
		return nil
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}
