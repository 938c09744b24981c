package handler

import (
	"net/http"

	"github.com/roster/roster/internal/model"
)

// StatsReader exposes service statistics.
type StatsReader interface {
	Stats() model.ServiceStats
}

// StatsHandler serves operation counters.
type StatsHandler struct {
	stats StatsReader
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(stats StatsReader) *StatsHandler {
	return &StatsHandler{stats: stats}
}

// Stats handles GET /stats.
func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.stats.Stats())
}
