package handler

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"

	"github.com/roster/roster/internal/model"
	"github.com/roster/roster/internal/testutil"
)

// loadSpec loads and validates docs/api/openapi.yaml.
func loadSpec(t *testing.T) (*openapi3.T, routers.Router) {
	t.Helper()

	root, err := testutil.ProjectRoot()
	if err != nil {
		t.Fatalf("project root: %v", err)
	}

	loader := openapi3.NewLoader()
	spec, err := loader.LoadFromFile(filepath.Join(root, "docs", "api", "openapi.yaml"))
	if err != nil {
		t.Fatalf("load OpenAPI document: %v", err)
	}
	if err := spec.Validate(context.Background()); err != nil {
		t.Fatalf("OpenAPI document is invalid: %v", err)
	}

	router, err := gorillamux.NewRouter(spec)
	if err != nil {
		t.Fatalf("build router from OpenAPI document: %v", err)
	}
	return spec, router
}

func TestOpenAPIDocumentCoversRoutes(t *testing.T) {
	t.Parallel()

	spec, _ := loadSpec(t)
	for _, path := range []string{
		"/healthz", "/readyz", "/metrics", "/stats",
		"/users", "/users/search", "/users/export", "/users/import",
		"/users/email/{email}", "/users/{id}",
		"/jobs", "/jobs/{id}",
	} {
		if spec.Paths.Find(path) == nil {
			t.Errorf("path %s missing from OpenAPI document", path)
		}
	}
}

// TestResponsesMatchOpenAPI drives the router through a realistic session and
// validates every response against the OpenAPI document.
func TestResponsesMatchOpenAPI(t *testing.T) {
	t.Parallel()

	_, specRouter := loadSpec(t)

	finished := time.Now().UTC()
	runs := &mockRuns{
		run: &model.JobRun{
			JobID: "01HZX", MessageID: "1-0", Kind: model.JobImportCSV, Path: "/data/in.csv",
			Status: model.JobRunSucceeded, Attempts: 1, Created: 2,
			StartedAt: finished.Add(-time.Second), FinishedAt: &finished,
		},
	}
	runs.runs = []*model.JobRun{runs.run}
	env := newTestEnv(t, runs)

	create := env.do(t, http.MethodPost, "/users", `{"name":"Alice","email":"alice@example.com","age":30}`)
	id := decodeBody[userEnvelope](t, create).Data.ID

	steps := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodGet, "/healthz", ""},
		{http.MethodGet, "/readyz", ""},
		{http.MethodGet, "/users?page=1&page_size=5", ""},
		{http.MethodGet, "/users/search?q=ali", ""},
		{http.MethodGet, "/users/search", ""},
		{http.MethodPost, "/users", `{"name":"Bob","email":"alice@example.com","age":4}`},
		{http.MethodPost, "/users", `{"name":"Bob"}`},
		{http.MethodGet, "/users/" + id, ""},
		{http.MethodGet, "/users/missing", ""},
		{http.MethodPatch, "/users/" + id, `{"age":31}`},
		{http.MethodPut, "/users/" + id, `{"name":"Alicia"}`},
		{http.MethodPost, "/users/export", ""},
		{http.MethodPost, "/users/import", `{"path":"in.csv"}`},
		{http.MethodPost, "/users/import", `{"path":"../in.csv"}`},
		{http.MethodGet, "/jobs?limit=10&status=succeeded", ""},
		{http.MethodGet, "/jobs/01HZX", ""},
		{http.MethodGet, "/stats", ""},
		{http.MethodGet, "/metrics", ""},
		{http.MethodDelete, "/users/email/alice%40example.com", ""},
		{http.MethodDelete, "/users/email/alice%40example.com", ""},
	}

	for _, step := range steps {
		rec := env.do(t, step.method, step.path, step.body)
		validateResponse(t, specRouter, step.method, step.path, step.body, rec)
	}
}

func validateResponse(t *testing.T, specRouter routers.Router, method, path, body string, rec *httptest.ResponseRecorder) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	route, pathParams, err := specRouter.FindRoute(req)
	if err != nil {
		t.Errorf("%s %s: route not in OpenAPI document: %v", method, path, err)
		return
	}

	input := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: &openapi3filter.RequestValidationInput{
			Request:    req,
			PathParams: pathParams,
			Route:      route,
		},
		Status: rec.Code,
		Header: rec.Header(),
		Body:   io.NopCloser(bytes.NewReader(rec.Body.Bytes())),
		Options: &openapi3filter.Options{
			IncludeResponseStatus: true,
		},
	}
	if err := openapi3filter.ValidateResponse(context.Background(), input); err != nil {
		t.Errorf("%s %s (%d): %v\nbody: %s", method, path, rec.Code, err, rec.Body.String())
	}
}
