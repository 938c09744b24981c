package service

import (
	"sync"

	"github.com/roster/roster/internal/model"
)

type operation int

const (
	opCreate operation = iota
	opRead
	opUpdate
	opDelete
)

// Stats aggregates operation counters. It is safe for concurrent use.
// Counters only grow.
type Stats struct {
	mu sync.Mutex
	s  model.ServiceStats
}

// NewStats returns a zeroed aggregate.
func NewStats() *Stats {
	return &Stats{}
}

func (st *Stats) record(op operation) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.s.TotalOperations++
	switch op {
	case opCreate:
		st.s.CreateCount++
	case opRead:
		st.s.ReadCount++
	case opUpdate:
		st.s.UpdateCount++
	case opDelete:
		st.s.DeleteCount++
	}
}

// Snapshot returns a consistent copy of the counters.
func (st *Stats) Snapshot() model.ServiceStats {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s
}
