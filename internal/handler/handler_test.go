package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/roster/roster/internal/apperr"
	"github.com/roster/roster/internal/handler/dto"
	"github.com/roster/roster/internal/store"
	"github.com/roster/roster/internal/testutil"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	var resp dto.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp
}

func TestHandler_Fallbacks(t *testing.T) {
	t.Parallel()

	h := New()

	rec := httptest.NewRecorder()
	h.NotFound(rec, httptest.NewRequest(http.MethodGet, "/nonexistent", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Success || resp.Code != "NOT_FOUND" {
		t.Errorf("unexpected body: %+v", resp)
	}

	rec = httptest.NewRecorder()
	h.MethodNotAllowed(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", rec.Code)
	}
}

func TestHandleServiceError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{"duplicate", store.ErrDuplicateEmail, http.StatusConflict, "EMAIL_TAKEN"},
		{"user_not_found", store.ErrNotFound, http.StatusNotFound, "USER_NOT_FOUND"},
		{"other_not_found", apperr.NotFoundf("job run not found"), http.StatusNotFound, "NOT_FOUND"},
		{"validation", apperr.Validationf("bad email"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"schema", apperr.Schemaf("bad header"), http.StatusBadRequest, "CSV_ERROR"},
		{"internal", apperr.Internal("disk", errors.New("secret detail")), http.StatusInternalServerError, "INTERNAL_ERROR"},
		{"plain", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			handleServiceError(testutil.DiscardLogger(), rec, tt.err)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			resp := decodeError(t, rec)
			if resp.Code != tt.wantBody {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantBody)
			}
			if tt.wantCode == http.StatusInternalServerError && resp.Error != "An internal error occurred" {
				t.Errorf("internal error leaked detail: %q", resp.Error)
			}
		})
	}
}

func TestPathResolver(t *testing.T) {
	t.Parallel()

	p := NewPathResolver("/data")

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr error
	}{
		{"plain", "users.csv", "/data/users.csv", nil},
		{"nested", "exports/today.csv", "/data/exports/today.csv", nil},
		{"inner_dotdot", "a/../b.csv", "/data/b.csv", nil},
		{"absolute", "/etc/passwd", "", ErrAbsolutePath},
		{"escape", "../secret.csv", "", ErrPathEscapes},
		{"escape_nested", "a/../../secret.csv", "", ErrPathEscapes},
		{"parent_only", "..", "", ErrPathEscapes},
		{"dot", ".", "", ErrEmptyPath},
		{"blank", "  ", "", ErrEmptyPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := p.Resolve(tt.path)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Resolve(%q) error = %v, want %v", tt.path, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
