package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roster/roster/internal/apperr"
	"github.com/roster/roster/internal/metrics"
	"github.com/roster/roster/internal/model"
	"github.com/roster/roster/internal/store"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100

	// DefaultBulkConcurrency bounds the bulk-create worker pool.
	DefaultBulkConcurrency = 8
)

// Options tunes a UserService.
type Options struct {
	BulkConcurrency int
}

// UserService handles user business logic.
type UserService struct {
	store           store.Store
	stats           *Stats
	logger          *slog.Logger
	metrics         metrics.Recorder
	bulkConcurrency int
}

// NewUserService creates a new UserService. A nil stats gets a fresh aggregate.
func NewUserService(st store.Store, stats *Stats, logger *slog.Logger, recorder metrics.Recorder, opts Options) *UserService {
	if stats == nil {
		stats = NewStats()
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if opts.BulkConcurrency <= 0 {
		opts.BulkConcurrency = DefaultBulkConcurrency
	}
	return &UserService{
		store:           st,
		stats:           stats,
		logger:          logger.With("component", "service.users"),
		metrics:         recorder,
		bulkConcurrency: opts.BulkConcurrency,
	}
}

// ListUsersInput defines input for listing users.
type ListUsersInput struct {
	Page     int
	PageSize int
	Search   string
}

// ListUsersOutput defines output for listing users.
type ListUsersOutput struct {
	Users    []*model.User
	Page     int
	PageSize int
	Total    int
}

// ListUsers retrieves a page of users, optionally filtered by search.
func (s *UserService) ListUsers(ctx context.Context, input ListUsersInput) (*ListUsersOutput, error) {
	if input.Page < 1 {
		input.Page = 1
	}
	if input.PageSize <= 0 {
		input.PageSize = defaultPageSize
	}
	if input.PageSize > maxPageSize {
		input.PageSize = maxPageSize
	}

	users, total, err := s.store.List(ctx, store.ListQuery{
		Page:     input.Page,
		PageSize: input.PageSize,
		Search:   input.Search,
	})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	return &ListUsersOutput{
		Users:    users,
		Page:     input.Page,
		PageSize: input.PageSize,
		Total:    total,
	}, nil
}

// CreateUser creates a single user.
func (s *UserService) CreateUser(ctx context.Context, req model.CreateUserRequest) (*model.User, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	user, err := s.store.Create(ctx, req)
	if err != nil {
		return nil, err
	}

	s.stats.record(opCreate)
	s.metrics.IncUserCreated()
	return user, nil
}

// GetUser retrieves a user by ID.
func (s *UserService) GetUser(ctx context.Context, id string) (*model.User, error) {
	user, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, store.ErrNotFound
	}

	s.stats.record(opRead)
	return user, nil
}

// UpdateUser applies a partial update.
func (s *UserService) UpdateUser(ctx context.Context, id string, req model.UpdateUserRequest) (*model.User, error) {
	if err := validateUpdate(req); err != nil {
		return nil, err
	}

	user, err := s.store.Update(ctx, id, req)
	if err != nil {
		return nil, err
	}

	s.stats.record(opUpdate)
	s.metrics.IncUserUpdated()
	return user, nil
}

// DeleteUser removes the user with the given email.
func (s *UserService) DeleteUser(ctx context.Context, email string) error {
	if err := s.store.Delete(ctx, email); err != nil {
		return err
	}

	s.stats.record(opDelete)
	s.metrics.IncUserDeleted()
	return nil
}

// Stats returns a snapshot of the operation counters.
func (s *UserService) Stats() model.ServiceStats {
	return s.stats.Snapshot()
}

func validateCreate(req model.CreateUserRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return apperr.Validationf("name is required")
	}
	return validateEmail(req.Email)
}

func validateUpdate(req model.UpdateUserRequest) error {
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return apperr.Validationf("name must not be empty")
	}
	if req.Email != nil {
		return validateEmail(*req.Email)
	}
	return nil
}

func validateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return apperr.Validationf("email is required")
	}
	if !strings.Contains(email, "@") {
		return apperr.Validationf("invalid email format %q", email)
	}
	return nil
}
