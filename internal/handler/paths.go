package handler

import (
	"errors"
	"path/filepath"
	"strings"
)

// Path resolution errors.
var (
	ErrAbsolutePath = errors.New("path must be relative to the data directory")
	ErrPathEscapes  = errors.New("path escapes the data directory")
	ErrEmptyPath    = errors.New("path is empty")
)

// PathResolver confines client-supplied job paths to a data directory.
type PathResolver struct {
	dataDir string
}

// NewPathResolver creates a resolver rooted at dataDir.
func NewPathResolver(dataDir string) *PathResolver {
	return &PathResolver{dataDir: filepath.Clean(dataDir)}
}

// Resolve joins p onto the data directory, rejecting absolute paths and
// paths that climb out of it.
func (p *PathResolver) Resolve(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", ErrEmptyPath
	}
	if filepath.IsAbs(path) || strings.HasPrefix(path, "/") || strings.HasPrefix(path, `\`) {
		return "", ErrAbsolutePath
	}

	cleaned := filepath.Clean(path)
	if cleaned == "." {
		return "", ErrEmptyPath
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", ErrPathEscapes
	}
	return filepath.Join(p.dataDir, cleaned), nil
}
