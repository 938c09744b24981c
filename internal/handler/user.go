package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/roster/roster/internal/handler/dto"
	"github.com/roster/roster/internal/service"
)

const searchPageSize = 100

// UserHandler handles HTTP requests for user operations.
type UserHandler struct {
	svc    service.Service
	logger *slog.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(svc service.Service, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		svc:    svc,
		logger: logger,
	}
}

// List handles GET /users?page=&page_size=&search=.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	h.list(w, r, service.ListUsersInput{
		Page:     atoiDefault(query.Get("page"), 0),
		PageSize: atoiDefault(query.Get("page_size"), 0),
		Search:   query.Get("search"),
	})
}

// Search handles GET /users/search?q=.
func (h *UserHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "MISSING_QUERY", "Query parameter q is required")
		return
	}
	h.list(w, r, service.ListUsersInput{Page: 1, PageSize: searchPageSize, Search: q})
}

func (h *UserHandler) list(w http.ResponseWriter, r *http.Request, input service.ListUsersInput) {
	out, err := h.svc.ListUsers(r.Context(), input)
	if err != nil {
		handleServiceError(h.logger, w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.PageResponse{
		Success:  true,
		Data:     dto.ToUserResponses(out.Users),
		Page:     out.Page,
		PageSize: out.PageSize,
		Total:    out.Total,
	})
}

// Create handles POST /users.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateUserRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	user, err := h.svc.CreateUser(r.Context(), req.ToModel())
	if err != nil {
		handleServiceError(h.logger, w, err)
		return
	}

	h.logger.Info("user_created", "user_id", user.ID)
	writeData(w, http.StatusCreated, dto.ToUserResponse(user))
}

// Get handles GET /users/{id}.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(h.logger, w, err)
		return
	}
	writeData(w, http.StatusOK, dto.ToUserResponse(user))
}

// Update handles PUT and PATCH /users/{id}. Both apply a partial update.
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req dto.UpdateUserRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	user, err := h.svc.UpdateUser(r.Context(), id, req.ToModel())
	if err != nil {
		handleServiceError(h.logger, w, err)
		return
	}

	h.logger.Info("user_updated", "user_id", user.ID)
	writeData(w, http.StatusOK, dto.ToUserResponse(user))
}

// Delete handles DELETE /users/email/{email}.
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	email, err := url.PathUnescape(chi.URLParam(r, "email"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_EMAIL", "Invalid email in path")
		return
	}
	if err := h.svc.DeleteUser(r.Context(), email); err != nil {
		handleServiceError(h.logger, w, err)
		return
	}

	h.logger.Info("user_deleted")
	writeData(w, http.StatusOK, nil)
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
