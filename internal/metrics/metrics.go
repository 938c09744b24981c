// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Job outcome labels.
const (
	StatusSuccess      = "success"
	StatusFailed       = "failed"
	StatusDeadLettered = "dead_lettered"
	StatusRetried      = "retried"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// User management metrics
	IncUserCreated()
	IncUserUpdated()
	IncUserDeleted()
	IncBulkItem(status string) // status: "success" or "failed"

	// Job pipeline metrics
	IncJobPublished(kind, status string) // status: "success" or "failed"
	IncJobProcessed(kind, status string) // status: "success", "failed", "retried", "dead_lettered"
	ObserveJobDuration(kind string, duration time.Duration)
	SetJobQueueDepth(depth int64)
	SetJobsInFlight(n int64)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
