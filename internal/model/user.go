// Package model defines domain entities for the application.
package model

import (
	"strings"
	"time"
)

// User is a stored user record.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Age       uint8     `json:"age"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy of the user.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// CreateUserRequest holds the fields needed to create a user.
// ID and timestamps are assigned by the store.
type CreateUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Age   uint8  `json:"age"`
}

// UpdateUserRequest is a partial update; nil fields are left untouched.
type UpdateUserRequest struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
	Age   *uint8  `json:"age,omitempty"`
}

// IsEmpty reports whether no field is set.
func (r UpdateUserRequest) IsEmpty() bool {
	return r.Name == nil && r.Email == nil && r.Age == nil
}

// NormalizeEmail trims and lower-cases an email address.
// All email comparisons and the uniqueness index use this form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
