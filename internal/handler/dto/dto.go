// Package dto provides Data Transfer Objects for API requests and responses.
package dto

// Response is the success envelope for single resources.
type Response struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// PageResponse is the success envelope for paginated lists.
type PageResponse struct {
	Success  bool `json:"success"`
	Data     any  `json:"data"`
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	Total    int  `json:"total"`
}

// FieldError describes one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Success bool         `json:"success"`
	Error   string       `json:"error"`
	Code    string       `json:"code"`
	Details []FieldError `json:"details,omitempty"`
}
