package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/roster/roster/internal/apperr"
	"github.com/roster/roster/internal/csvcodec"
	"github.com/roster/roster/internal/store"
)

// ExportToPath writes every record to path as CSV and returns the row count.
// The file is replaced atomically.
func (s *UserService) ExportToPath(ctx context.Context, path string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	users, _, err := s.store.List(ctx, store.ListQuery{})
	if err != nil {
		return 0, fmt.Errorf("export users: %w", err)
	}

	data, err := csvcodec.Encode(users)
	if err != nil {
		return 0, apperr.Internal("encode export", err)
	}

	if err := writeFileAtomic(path, data); err != nil {
		return 0, apperr.Internal(fmt.Sprintf("write export file %s", path), err)
	}

	s.logger.Info("users exported", "path", path, "rows", len(users))
	return len(users), nil
}

// ImportFromPath decodes the CSV file at path and bulk-creates its rows.
// Decode errors abort the import before any record is created.
func (s *UserService) ImportFromPath(ctx context.Context, path string) (*BulkResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Internal(fmt.Sprintf("read import file %s", path), err)
	}

	reqs, err := csvcodec.Decode(data)
	if err != nil {
		return nil, err
	}

	result, err := s.BulkCreate(ctx, reqs)
	if err != nil {
		return nil, err
	}

	s.logger.Info("users imported", "path", path, "created", result.Created, "failed", result.Failed())
	return result, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}

	tmp, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
