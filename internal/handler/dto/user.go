package dto

import (
	"time"

	"github.com/roster/roster/internal/model"
)

// CreateUserRequest represents the request body for creating a user.
type CreateUserRequest struct {
	Name  string `json:"name" validate:"required,max=255"`
	Email string `json:"email" validate:"required,email,max=320"`
	Age   *int   `json:"age" validate:"required,gte=0,lte=255"`
}

// ToModel converts a validated request to the service input.
func (r CreateUserRequest) ToModel() model.CreateUserRequest {
	return model.CreateUserRequest{
		Name:  r.Name,
		Email: r.Email,
		Age:   uint8(*r.Age),
	}
}

// UpdateUserRequest represents the request body for updating a user.
// Absent fields are left unchanged.
type UpdateUserRequest struct {
	Name  *string `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Email *string `json:"email,omitempty" validate:"omitempty,email,max=320"`
	Age   *int    `json:"age,omitempty" validate:"omitempty,gte=0,lte=255"`
}

// ToModel converts a validated request to the service input.
func (r UpdateUserRequest) ToModel() model.UpdateUserRequest {
	out := model.UpdateUserRequest{Name: r.Name, Email: r.Email}
	if r.Age != nil {
		age := uint8(*r.Age)
		out.Age = &age
	}
	return out
}

// UserResponse represents a user in API responses.
type UserResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Age       uint8     `json:"age"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ToUserResponse converts a User model to UserResponse DTO.
func ToUserResponse(u *model.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Age:       u.Age,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// ToUserResponses converts a slice of User models.
func ToUserResponses(users []*model.User) []UserResponse {
	out := make([]UserResponse, len(users))
	for i, u := range users {
		out[i] = ToUserResponse(u)
	}
	return out
}
