// Package handler provides HTTP request handlers.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/roster/roster/internal/apperr"
	"github.com/roster/roster/internal/handler/dto"
	"github.com/roster/roster/internal/middleware"
	"github.com/roster/roster/internal/store"
)

// Handler serves the fallback routes.
type Handler struct{}

// New creates a new Handler instance.
func New() *Handler {
	return &Handler{}
}

// NotFound handles 404 responses.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
}

// MethodNotAllowed handles 405 responses.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, dto.Response{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, dto.ErrorResponse{Error: message, Code: code})
}

func writeValidationErrors(w http.ResponseWriter, errs []middleware.FieldError) {
	details := make([]dto.FieldError, len(errs))
	for i, e := range errs {
		details[i] = dto.FieldError{Field: e.Field, Message: e.Message}
	}
	writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{
		Error:   "Invalid request data",
		Code:    "VALIDATION_ERROR",
		Details: details,
	})
}

// decodeJSON decodes the request body into dst and validates it. It writes the
// error response and returns false when the body is unusable. An empty body is
// accepted when allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF) && allowEmpty:
		case errors.As(err, &maxErr):
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large")
			return false
		default:
			writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
			return false
		}
	}

	if errs := middleware.ValidateRequest(dst); len(errs) > 0 {
		writeValidationErrors(w, errs)
		return false
	}
	return true
}

// handleServiceError maps service errors to HTTP responses.
func handleServiceError(logger *slog.Logger, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, "EMAIL_TAKEN", "Email already exists")
		return
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
		return
	}

	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case apperr.KindValidation:
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case apperr.KindSchema:
		writeError(w, http.StatusBadRequest, "CSV_ERROR", err.Error())
	default:
		logger.Error("internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}
