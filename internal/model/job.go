package model

import (
	"errors"
	"fmt"
	"strings"
)

// JobKind tags a Job variant.
type JobKind string

const (
	JobImportCSV JobKind = "ImportCsv"
	JobExportCSV JobKind = "ExportCsv"
)

// IsValid checks if the job kind is known.
func (k JobKind) IsValid() bool {
	return k == JobImportCSV || k == JobExportCSV
}

// Job describes an asynchronous import or export.
// It is the message payload carried by the broker.
type Job struct {
	Kind JobKind `json:"kind"`
	Path string  `json:"path"`
}

// ImportCSV builds an import job for path.
func ImportCSV(path string) Job {
	return Job{Kind: JobImportCSV, Path: path}
}

// ExportCSV builds an export job for path.
func ExportCSV(path string) Job {
	return Job{Kind: JobExportCSV, Path: path}
}

// Validate checks that the job is one of the two known shapes.
func (j Job) Validate() error {
	if !j.Kind.IsValid() {
		return fmt.Errorf("unknown job kind %q", j.Kind)
	}
	if strings.TrimSpace(j.Path) == "" {
		return errors.New("job path is required")
	}
	return nil
}

// String renders the job as Kind{path=...}. The producer uses it as the message key,
// so two jobs on the same path share a key only if they are the same kind.
func (j Job) String() string {
	return fmt.Sprintf("%s{path=%s}", j.Kind, j.Path)
}
