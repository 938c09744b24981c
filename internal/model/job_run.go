package model

import "time"

// Job run statuses.
const (
	JobRunRunning   = "running"
	JobRunSucceeded = "succeeded"
	JobRunFailed    = "failed"
)

// IsValidJobRunStatus reports whether s is a known run status.
func IsValidJobRunStatus(s string) bool {
	return s == JobRunRunning || s == JobRunSucceeded || s == JobRunFailed
}

// JobRunFilter narrows a job run listing. Empty Statuses matches every run.
type JobRunFilter struct {
	Limit    int
	Statuses []string
}

// JobRun is the recorded outcome of one job execution.
type JobRun struct {
	JobID      string     `json:"job_id"`
	MessageID  string     `json:"message_id"`
	Kind       JobKind    `json:"kind"`
	Path       string     `json:"path"`
	Status     string     `json:"status"`
	Attempts   int        `json:"attempts"`
	Created    int        `json:"created"`
	Failed     int        `json:"failed"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
