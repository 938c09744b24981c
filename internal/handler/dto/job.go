package dto

// EnqueueJobRequest is the optional body of the export and import endpoints.
type EnqueueJobRequest struct {
	Path string `json:"path,omitempty" validate:"omitempty,max=1024"`
}
