package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/roster/roster/internal/apperr"
	"github.com/roster/roster/internal/model"
)

// ErrJobRunNotFound is returned when no run is recorded for a job id.
var ErrJobRunNotFound = apperr.New(apperr.KindNotFound, "job run not found")

const (
	defaultJobRunLimit = 20
	maxJobRunLimit     = 100
)

// RecordStart upserts a run in running state. A redelivered job resets its row.
func (r *Repository) RecordStart(ctx context.Context, run *model.JobRun) error {
	query := `
		INSERT INTO job_runs (job_id, message_id, kind, path, status, attempts, created, failed, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, 0, 0, 0, '', $6, NULL)
		ON CONFLICT (job_id) DO UPDATE SET
			message_id = EXCLUDED.message_id,
			status = EXCLUDED.status,
			started_at = EXCLUDED.started_at,
			finished_at = NULL,
			error = ''
	`

	_, err := r.pool.Exec(ctx, query,
		run.JobID,
		run.MessageID,
		string(run.Kind),
		run.Path,
		run.Status,
		run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record job start: %w", err)
	}
	return nil
}

// RecordFinish upserts the final outcome of a run.
func (r *Repository) RecordFinish(ctx context.Context, run *model.JobRun) error {
	query := `
		INSERT INTO job_runs (job_id, message_id, kind, path, status, attempts, created, failed, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			attempts = EXCLUDED.attempts,
			created = EXCLUDED.created,
			failed = EXCLUDED.failed,
			error = EXCLUDED.error,
			finished_at = EXCLUDED.finished_at
	`

	_, err := r.pool.Exec(ctx, query,
		run.JobID,
		run.MessageID,
		string(run.Kind),
		run.Path,
		run.Status,
		run.Attempts,
		run.Created,
		run.Failed,
		run.Error,
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record job finish: %w", err)
	}
	return nil
}

// GetJobRun retrieves a run by job id.
func (r *Repository) GetJobRun(ctx context.Context, jobID string) (*model.JobRun, error) {
	query := `
		SELECT job_id, message_id, kind, path, status, attempts, created, failed, error, started_at, finished_at
		FROM job_runs
		WHERE job_id = $1
	`

	run, err := scanJobRun(r.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobRunNotFound
		}
		return nil, fmt.Errorf("failed to get job run: %w", err)
	}
	return run, nil
}

// ListJobRuns returns the most recently started runs matching filter.
func (r *Repository) ListJobRuns(ctx context.Context, filter model.JobRunFilter) ([]*model.JobRun, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultJobRunLimit
	}
	if limit > maxJobRunLimit {
		limit = maxJobRunLimit
	}

	query := `
		SELECT job_id, message_id, kind, path, status, attempts, created, failed, error, started_at, finished_at
		FROM job_runs
		WHERE $2::text IS NULL OR status = ANY($2::text::text[])
		ORDER BY started_at DESC, job_id DESC
		LIMIT $1
	`

	var statuses any
	if len(filter.Statuses) > 0 {
		statuses = pq.Array(filter.Statuses)
	}

	rows, err := r.pool.Query(ctx, query, limit, statuses)
	if err != nil {
		return nil, fmt.Errorf("failed to list job runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*model.JobRun, 0, limit)
	for rows.Next() {
		run, err := scanJobRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate job runs: %w", err)
	}
	return runs, nil
}

func scanJobRun(row pgx.Row) (*model.JobRun, error) {
	var run model.JobRun
	var kind string
	err := row.Scan(
		&run.JobID,
		&run.MessageID,
		&kind,
		&run.Path,
		&run.Status,
		&run.Attempts,
		&run.Created,
		&run.Failed,
		&run.Error,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	run.Kind = model.JobKind(kind)
	return &run, nil
}
