package service

import (
	"context"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roster/roster/internal/metrics"
	"github.com/roster/roster/internal/model"
)

// BulkFailure describes one request that could not be created.
type BulkFailure struct {
	Index  int    `json:"index"`
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

// BulkResult summarizes a bulk create.
type BulkResult struct {
	Requested int           `json:"requested"`
	Created   int           `json:"created"`
	Failures  []BulkFailure `json:"failures,omitempty"`
}

// Failed returns the number of requests that were not created.
func (r *BulkResult) Failed() int {
	return len(r.Failures)
}

// BulkCreate creates every request independently through a bounded pool.
// Per-item failures are collected, not returned.
func (s *UserService) BulkCreate(ctx context.Context, reqs []model.CreateUserRequest) (*BulkResult, error) {
	result := &BulkResult{Requested: len(reqs)}
	if len(reqs) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.bulkConcurrency)

	for i, req := range reqs {
		i, req := i, prepareBulkItem(req)
		g.Go(func() error {
			err := ctx.Err()
			if err == nil {
				_, err = s.CreateUser(ctx, req)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Warn("bulk item failed", "index", i, "email", req.Email, "error", err)
				s.metrics.IncBulkItem(metrics.StatusFailed)
				result.Failures = append(result.Failures, BulkFailure{Index: i, Email: req.Email, Reason: err.Error()})
				return nil
			}
			s.metrics.IncBulkItem(metrics.StatusSuccess)
			result.Created++
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(result.Failures, func(a, b int) bool {
		return result.Failures[a].Index < result.Failures[b].Index
	})

	s.logger.Info("bulk create finished",
		"requested", result.Requested,
		"created", result.Created,
		"failed", result.Failed(),
	)
	return result, nil
}

func prepareBulkItem(req model.CreateUserRequest) model.CreateUserRequest {
	req.Name = strings.ToUpper(strings.TrimSpace(req.Name))
	req.Email = model.NormalizeEmail(req.Email)
	return req
}
