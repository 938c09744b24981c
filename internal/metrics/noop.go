package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncUserCreated is a no-op.
func (n *NoopRecorder) IncUserCreated() {}

// IncUserUpdated is a no-op.
func (n *NoopRecorder) IncUserUpdated() {}

// IncUserDeleted is a no-op.
func (n *NoopRecorder) IncUserDeleted() {}

// IncBulkItem is a no-op.
func (n *NoopRecorder) IncBulkItem(status string) {}

// IncJobPublished is a no-op.
func (n *NoopRecorder) IncJobPublished(kind, status string) {}

// IncJobProcessed is a no-op.
func (n *NoopRecorder) IncJobProcessed(kind, status string) {}

// ObserveJobDuration is a no-op.
func (n *NoopRecorder) ObserveJobDuration(kind string, duration time.Duration) {}

// SetJobQueueDepth is a no-op.
func (n *NoopRecorder) SetJobQueueDepth(depth int64) {}

// SetJobsInFlight is a no-op.
func (n *NoopRecorder) SetJobsInFlight(count int64) {}
