//go:build e2e

package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

// The e2e suite drives a running API started with JOB_BROKER=memory, so jobs
// execute against the same store the HTTP handlers use. ROSTER_DATA_DIR must be
// the DATA_DIR of that process.

type userResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Age   int    `json:"age"`
}

type receiptResponse struct {
	JobID string `json:"job_id"`
	Path  string `json:"path"`
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Total   int    `json:"total"`
	Code    string `json:"code"`
}

func TestE2EExportImportRoundTrip(t *testing.T) {
	baseURL := envOrDefault("ROSTER_BASE_URL", "http://localhost:8080")
	dataDir := os.Getenv("ROSTER_DATA_DIR")
	if dataDir == "" {
		t.Skip("ROSTER_DATA_DIR not set")
	}

	tag := strings.ToLower(ulid.Make().String())
	emails := []string{"ada-" + tag + "@e2e.test", "grace-" + tag + "@e2e.test"}

	for i, email := range emails {
		var created envelope[userResponse]
		status := doJSON(t, http.MethodPost, baseURL+"/users", map[string]any{
			"name": "user " + tag, "email": email, "age": 30 + i,
		}, &created)
		if status != http.StatusCreated {
			t.Fatalf("expected 201 from create, got %d", status)
		}
		if created.Data.Email != email {
			t.Fatalf("create returned email %q", created.Data.Email)
		}
	}

	file := "e2e-" + tag + ".csv"
	var receipt envelope[receiptResponse]
	if status := doJSON(t, http.MethodPost, baseURL+"/users/export", map[string]string{"path": file}, &receipt); status != http.StatusAccepted {
		t.Fatalf("expected 202 from export, got %d", status)
	}
	if receipt.Data.JobID == "" {
		t.Fatal("export receipt missing job_id")
	}

	exported := waitForFile(t, filepath.Join(dataDir, file))
	for _, email := range emails {
		if !strings.Contains(exported, email) {
			t.Fatalf("export missing %s:\n%s", email, exported)
		}
	}

	for _, email := range emails {
		if status := doJSON(t, http.MethodDelete, baseURL+"/users/email/"+url.PathEscape(email), nil, nil); status != http.StatusOK {
			t.Fatalf("expected 200 from delete, got %d", status)
		}
	}

	if status := doJSON(t, http.MethodPost, baseURL+"/users/import", map[string]string{"path": file}, &receipt); status != http.StatusAccepted {
		t.Fatalf("expected 202 from import, got %d", status)
	}

	waitForSearchTotal(t, baseURL, tag, len(emails))
}

func TestE2EValidationErrors(t *testing.T) {
	baseURL := envOrDefault("ROSTER_BASE_URL", "http://localhost:8080")

	var resp envelope[json.RawMessage]
	status := doJSON(t, http.MethodPost, baseURL+"/users", map[string]any{"name": "x"}, &resp)
	if status != http.StatusBadRequest || resp.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected 400 VALIDATION_ERROR, got %d %q", status, resp.Code)
	}

	status = doJSON(t, http.MethodPost, baseURL+"/users/import", map[string]string{"path": "/etc/passwd"}, &resp)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for absolute import path, got %d", status)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func waitForFile(t *testing.T, path string) string {
	t.Helper()

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil {
			return string(data)
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("export file %s did not appear in time", path)
	return ""
}

func waitForSearchTotal(t *testing.T, baseURL, q string, want int) {
	t.Helper()

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		var page envelope[[]userResponse]
		status := doJSON(t, http.MethodGet, baseURL+"/users/search?q="+url.QueryEscape(q), nil, &page)
		if status == http.StatusOK && page.Total == want {
			return
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("import did not restore %d users in time", want)
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()

	var buf io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		buf = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, url, buf)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request %s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	if out != nil {
		decoder := json.NewDecoder(resp.Body)
		if err := decoder.Decode(out); err != nil && resp.ContentLength != 0 {
			t.Fatalf("decode response: %v", err)
		}
	}

	return resp.StatusCode
}
