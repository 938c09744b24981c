package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledCount is a counter value for one label set.
type LabeledCount struct {
	Kind   string
	Status string
	Value  uint64
}

// Snapshot captures current in-memory counters.
type Snapshot struct {
	UsersCreated       uint64
	UsersUpdated       uint64
	UsersDeleted       uint64
	BulkItemsSucceeded uint64
	BulkItemsFailed    uint64
	JobsPublished      []LabeledCount
	JobsProcessed      []LabeledCount
	JobDurationCount   uint64
	JobDurationTotalNs int64
	JobQueueDepth      int64
	JobsInFlight       int64
}

type labelKey struct {
	kind   string
	status string
}

// InMemoryRecorder stores metrics in memory for tests and the /metrics endpoint.
type InMemoryRecorder struct {
	usersCreated       uint64
	usersUpdated       uint64
	usersDeleted       uint64
	bulkSucceeded      uint64
	bulkFailed         uint64
	jobDurationCount   uint64
	jobDurationTotalNs int64
	jobQueueDepth      int64
	jobsInFlight       int64

	mu        sync.Mutex
	published map[labelKey]uint64
	processed map[labelKey]uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		published: make(map[labelKey]uint64),
		processed: make(map[labelKey]uint64),
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	published := flatten(m.published)
	processed := flatten(m.processed)
	m.mu.Unlock()

	return Snapshot{
		UsersCreated:       atomic.LoadUint64(&m.usersCreated),
		UsersUpdated:       atomic.LoadUint64(&m.usersUpdated),
		UsersDeleted:       atomic.LoadUint64(&m.usersDeleted),
		BulkItemsSucceeded: atomic.LoadUint64(&m.bulkSucceeded),
		BulkItemsFailed:    atomic.LoadUint64(&m.bulkFailed),
		JobsPublished:      published,
		JobsProcessed:      processed,
		JobDurationCount:   atomic.LoadUint64(&m.jobDurationCount),
		JobDurationTotalNs: atomic.LoadInt64(&m.jobDurationTotalNs),
		JobQueueDepth:      atomic.LoadInt64(&m.jobQueueDepth),
		JobsInFlight:       atomic.LoadInt64(&m.jobsInFlight),
	}
}

// Processed returns the processed counter for kind and status.
func (m *InMemoryRecorder) Processed(kind, status string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processed[labelKey{kind, status}]
}

// Published returns the published counter for kind and status.
func (m *InMemoryRecorder) Published(kind, status string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published[labelKey{kind, status}]
}

func flatten(counts map[labelKey]uint64) []LabeledCount {
	out := make([]LabeledCount, 0, len(counts))
	for k, v := range counts {
		out = append(out, LabeledCount{Kind: k.kind, Status: k.status, Value: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Status < out[j].Status
	})
	return out
}

// IncUserCreated increments the user created counter.
func (m *InMemoryRecorder) IncUserCreated() {
	atomic.AddUint64(&m.usersCreated, 1)
}

// IncUserUpdated increments the user updated counter.
func (m *InMemoryRecorder) IncUserUpdated() {
	atomic.AddUint64(&m.usersUpdated, 1)
}

// IncUserDeleted increments the user deleted counter.
func (m *InMemoryRecorder) IncUserDeleted() {
	atomic.AddUint64(&m.usersDeleted, 1)
}

// IncBulkItem counts one bulk-create item outcome.
func (m *InMemoryRecorder) IncBulkItem(status string) {
	if status == StatusSuccess {
		atomic.AddUint64(&m.bulkSucceeded, 1)
		return
	}
	atomic.AddUint64(&m.bulkFailed, 1)
}

// IncJobPublished counts a publish attempt.
func (m *InMemoryRecorder) IncJobPublished(kind, status string) {
	m.mu.Lock()
	m.published[labelKey{kind, status}]++
	m.mu.Unlock()
}

// IncJobProcessed counts a job outcome.
func (m *InMemoryRecorder) IncJobProcessed(kind, status string) {
	m.mu.Lock()
	m.processed[labelKey{kind, status}]++
	m.mu.Unlock()
}

// ObserveJobDuration records job execution time.
func (m *InMemoryRecorder) ObserveJobDuration(kind string, duration time.Duration) {
	atomic.AddUint64(&m.jobDurationCount, 1)
	atomic.AddInt64(&m.jobDurationTotalNs, duration.Nanoseconds())
}

// SetJobQueueDepth records pending plus undelivered messages.
func (m *InMemoryRecorder) SetJobQueueDepth(depth int64) {
	atomic.StoreInt64(&m.jobQueueDepth, depth)
}

// SetJobsInFlight records the number of running jobs.
func (m *InMemoryRecorder) SetJobsInFlight(n int64) {
	atomic.StoreInt64(&m.jobsInFlight, n)
}
