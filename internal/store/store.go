// Package store provides the concurrency-safe user record store.
package store

import (
	"context"

	"github.com/roster/roster/internal/apperr"
	"github.com/roster/roster/internal/model"
)

// Store errors.
var (
	ErrNotFound       = apperr.New(apperr.KindNotFound, "user not found")
	ErrDuplicateEmail = apperr.New(apperr.KindValidation, "email already exists")
)

// ListQuery selects a page of users.
type ListQuery struct {
	// Page is 1-based. Values below 1 are treated as 1.
	Page int
	// PageSize <= 0 returns the whole filtered set.
	PageSize int
	// Search filters by case-insensitive substring of name or email.
	Search string
}

// Store is the storage capability used by the service layer.
// Lookups return (nil, nil) when the record does not exist.
type Store interface {
	List(ctx context.Context, q ListQuery) ([]*model.User, int, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, req model.CreateUserRequest) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByID(ctx context.Context, id string) (*model.User, error)
	Update(ctx context.Context, id string, req model.UpdateUserRequest) (*model.User, error)
	Delete(ctx context.Context, email string) error
}
