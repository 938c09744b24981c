package handler

import (
	"fmt"
	"net/http"

	"github.com/roster/roster/internal/metrics"
)

// MetricsHandler exposes in-memory metrics.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Metrics returns metrics in Prometheus exposition format.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeMetric(w, "roster_users_created_total %d\n", snap.UsersCreated)
	writeMetric(w, "roster_users_updated_total %d\n", snap.UsersUpdated)
	writeMetric(w, "roster_users_deleted_total %d\n", snap.UsersDeleted)

	writeMetric(w, "roster_bulk_items_total{status=\"success\"} %d\n", snap.BulkItemsSucceeded)
	writeMetric(w, "roster_bulk_items_total{status=\"failed\"} %d\n", snap.BulkItemsFailed)

	for _, c := range snap.JobsPublished {
		writeMetric(w, "roster_jobs_published_total{kind=%q,status=%q} %d\n", c.Kind, c.Status, c.Value)
	}
	for _, c := range snap.JobsProcessed {
		writeMetric(w, "roster_jobs_processed_total{kind=%q,status=%q} %d\n", c.Kind, c.Status, c.Value)
	}

	writeMetric(w, "roster_job_duration_seconds_count %d\n", snap.JobDurationCount)
	writeMetric(w, "roster_job_duration_seconds_sum %.6f\n", float64(snap.JobDurationTotalNs)/1e9)
	writeMetric(w, "roster_job_queue_depth %d\n", snap.JobQueueDepth)
	writeMetric(w, "roster_jobs_in_flight %d\n", snap.JobsInFlight)
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
