package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/roster/roster/internal/handler/dto"
	"github.com/roster/roster/internal/jobs"
	"github.com/roster/roster/internal/model"
)

// Enqueuer publishes jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job model.Job) (*jobs.Receipt, error)
}

// JobRunReader reads the job run log.
type JobRunReader interface {
	GetJobRun(ctx context.Context, jobID string) (*model.JobRun, error)
	ListJobRuns(ctx context.Context, filter model.JobRunFilter) ([]*model.JobRun, error)
}

// JobHandler queues export and import jobs and reports their outcomes.
type JobHandler struct {
	producer          Enqueuer
	paths             *PathResolver
	defaultExportPath string
	defaultImportPath string
	runs              JobRunReader
	logger            *slog.Logger
}

// JobHandlerConfig configures a JobHandler.
type JobHandlerConfig struct {
	DataDir    string
	ExportPath string
	ImportPath string
	// Runs is optional; without it the run log endpoints answer 404.
	Runs JobRunReader
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(producer Enqueuer, cfg JobHandlerConfig, logger *slog.Logger) *JobHandler {
	return &JobHandler{
		producer:          producer,
		paths:             NewPathResolver(cfg.DataDir),
		defaultExportPath: cfg.ExportPath,
		defaultImportPath: cfg.ImportPath,
		runs:              cfg.Runs,
		logger:            logger,
	}
}

// Export handles POST /users/export.
func (h *JobHandler) Export(w http.ResponseWriter, r *http.Request) {
	h.enqueue(w, r, model.JobExportCSV, h.defaultExportPath)
}

// Import handles POST /users/import.
func (h *JobHandler) Import(w http.ResponseWriter, r *http.Request) {
	h.enqueue(w, r, model.JobImportCSV, h.defaultImportPath)
}

func (h *JobHandler) enqueue(w http.ResponseWriter, r *http.Request, kind model.JobKind, defaultPath string) {
	var req dto.EnqueueJobRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	if req.Path == "" {
		req.Path = defaultPath
	}

	path, err := h.paths.Resolve(req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PATH", err.Error())
		return
	}

	receipt, err := h.producer.Enqueue(r.Context(), model.Job{Kind: kind, Path: path})
	if err != nil {
		handleServiceError(h.logger, w, err)
		return
	}

	h.logger.Info("job_enqueued", "job_id", receipt.JobID, "kind", kind, "path", path)
	writeData(w, http.StatusAccepted, receipt)
}

// GetRun handles GET /jobs/{id}.
func (h *JobHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusNotFound, "JOB_LOG_DISABLED", "Job run log is not configured")
		return
	}

	run, err := h.runs.GetJobRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(h.logger, w, err)
		return
	}
	writeData(w, http.StatusOK, run)
}

// ListRuns handles GET /jobs?limit=&status=.
func (h *JobHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusNotFound, "JOB_LOG_DISABLED", "Job run log is not configured")
		return
	}

	query := r.URL.Query()

	var filter model.JobRunFilter
	if l := query.Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		filter.Limit = parsed
	}

	for _, raw := range query["status"] {
		for _, status := range strings.Split(raw, ",") {
			status = strings.TrimSpace(status)
			if status == "" {
				continue
			}
			if !model.IsValidJobRunStatus(status) {
				writeError(w, http.StatusBadRequest, "INVALID_STATUS", "status must be running, succeeded or failed")
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	runs, err := h.runs.ListJobRuns(r.Context(), filter)
	if err != nil {
		handleServiceError(h.logger, w, err)
		return
	}
	writeData(w, http.StatusOK, runs)
}
