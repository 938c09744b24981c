// Package service provides business logic for the application.
package service

import (
	"context"

	"github.com/roster/roster/internal/model"
)

// Service is the orchestration capability consumed by the HTTP layer and the job worker.
type Service interface {
	ListUsers(ctx context.Context, input ListUsersInput) (*ListUsersOutput, error)
	CreateUser(ctx context.Context, req model.CreateUserRequest) (*model.User, error)
	GetUser(ctx context.Context, id string) (*model.User, error)
	UpdateUser(ctx context.Context, id string, req model.UpdateUserRequest) (*model.User, error)
	DeleteUser(ctx context.Context, email string) error
	BulkCreate(ctx context.Context, reqs []model.CreateUserRequest) (*BulkResult, error)
	ExportToPath(ctx context.Context, path string) (int, error)
	ImportFromPath(ctx context.Context, path string) (*BulkResult, error)
	Stats() model.ServiceStats
}

var _ Service = (*UserService)(nil)
