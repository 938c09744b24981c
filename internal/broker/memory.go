package broker

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// DeadLetter is a message recorded by MemoryStream.DeadLetter.
type DeadLetter struct {
	Delivery Delivery
	Reason   string
	Detail   string
}

type pendingEntry struct {
	delivery    Delivery
	consumer    string
	deliveredAt time.Time
}

// MemoryStream is an in-process Stream for tests and single-process runs.
// Messages do not survive a restart.
type MemoryStream struct {
	mu      sync.Mutex
	seq     uint64
	queue   []Delivery
	pending map[string]*pendingEntry
	order   []string
	dead    []DeadLetter
	wake    chan struct{}
	now     func() time.Time
}

// NewMemoryStream creates an empty in-memory stream.
func NewMemoryStream() *MemoryStream {
	return &MemoryStream{
		pending: make(map[string]*pendingEntry),
		wake:    make(chan struct{}),
		now:     time.Now,
	}
}

// EnsureGroup is a no-op; the stream has a single implicit group.
func (s *MemoryStream) EnsureGroup(ctx context.Context) error {
	return ctx.Err()
}

// Publish appends an envelope and wakes blocked readers.
func (s *MemoryStream) Publish(ctx context.Context, env Envelope) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(env.Payload) == 0 {
		return "", ErrEmptyPayload
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if env.EnqueuedAt.IsZero() {
		env.EnqueuedAt = s.now()
	}
	s.seq++
	id := strconv.FormatInt(env.EnqueuedAt.UnixMilli(), 10) + "-" + strconv.FormatUint(s.seq, 10)
	env.Payload = append([]byte(nil), env.Payload...)
	s.queue = append(s.queue, Delivery{ID: id, Envelope: env})

	close(s.wake)
	s.wake = make(chan struct{})
	return id, nil
}

// Read takes up to count unread messages, waiting up to block for one to arrive.
func (s *MemoryStream) Read(ctx context.Context, consumer string, count int, block time.Duration) ([]Delivery, error) {
	if count <= 0 {
		count = 1
	}

	var timeout <-chan time.Time
	if block > 0 {
		timer := time.NewTimer(block)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			out := s.takeLocked(consumer, count)
			s.mu.Unlock()
			return out, nil
		}
		wake := s.wake
		s.mu.Unlock()

		if timeout == nil {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout:
			return nil, nil
		case <-wake:
		}
	}
}

func (s *MemoryStream) takeLocked(consumer string, count int) []Delivery {
	n := count
	if n > len(s.queue) {
		n = len(s.queue)
	}
	out := make([]Delivery, n)
	copy(out, s.queue[:n])
	s.queue = s.queue[n:]

	now := s.now()
	for _, d := range out {
		s.pending[d.ID] = &pendingEntry{delivery: d, consumer: consumer, deliveredAt: now}
		s.order = append(s.order, d.ID)
	}
	return out
}

// Claim transfers messages pending at least minIdle to consumer, oldest first.
func (s *MemoryStream) Claim(ctx context.Context, consumer string, minIdle time.Duration, count int) ([]Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []Delivery
	for _, id := range s.order {
		if count > 0 && len(out) >= count {
			break
		}
		entry, ok := s.pending[id]
		if !ok || now.Sub(entry.deliveredAt) < minIdle {
			continue
		}
		entry.consumer = consumer
		entry.deliveredAt = now
		out = append(out, entry.delivery)
	}
	return out, nil
}

// Ack removes messages from the pending list.
func (s *MemoryStream) Ack(ctx context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		delete(s.pending, id)
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if _, ok := s.pending[id]; ok {
			kept = append(kept, id)
		}
	}
	s.order = kept
	return nil
}

// DeadLetter records the delivery.
func (s *MemoryStream) DeadLetter(ctx context.Context, d Delivery, reason, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dead = append(s.dead, DeadLetter{Delivery: d, Reason: reason, Detail: detail})
	return nil
}

// Depth returns unread plus pending messages.
func (s *MemoryStream) Depth(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.queue) + len(s.pending)), nil
}

// Pending returns the number of delivered but unacknowledged messages.
func (s *MemoryStream) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// DeadLetters returns a copy of the dead-lettered messages.
func (s *MemoryStream) DeadLetters() []DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeadLetter(nil), s.dead...)
}
