package model

// ServiceStats is a point-in-time copy of the service operation counters.
type ServiceStats struct {
	TotalOperations uint64 `json:"total_operations"`
	CreateCount     uint64 `json:"create_count"`
	ReadCount       uint64 `json:"read_count"`
	UpdateCount     uint64 `json:"update_count"`
	DeleteCount     uint64 `json:"delete_count"`
}
