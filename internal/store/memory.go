package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/roster/roster/internal/model"
)

// DefaultShardCount is the number of lock stripes for records and for the email index.
const DefaultShardCount = 32

type entry struct {
	user model.User
	seq  uint64 // insertion order, drives List ordering
}

type recordShard struct {
	mu    sync.RWMutex
	users map[string]*entry
}

type emailShard struct {
	mu  sync.Mutex
	ids map[string]string // normalized email -> user id
}

// Memory is an in-memory Store.
//
// Records are striped by id and the email index is striped by email. Every operation
// that reads or writes the email index holds the relevant email stripe(s) first and the
// record stripe second, so check-and-insert on an email is atomic while operations on
// unrelated keys run in parallel.
type Memory struct {
	records []*recordShard
	emails  []*emailShard
	seq     atomic.Uint64

	now   func() time.Time
	newID func() string
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty store with DefaultShardCount stripes.
func NewMemory() *Memory {
	return NewMemoryWithShards(DefaultShardCount)
}

// NewMemoryWithShards creates an empty store with n stripes.
func NewMemoryWithShards(n int) *Memory {
	if n <= 0 {
		n = DefaultShardCount
	}
	m := &Memory{
		records: make([]*recordShard, n),
		emails:  make([]*emailShard, n),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for i := 0; i < n; i++ {
		m.records[i] = &recordShard{users: make(map[string]*entry)}
		m.emails[i] = &emailShard{ids: make(map[string]string)}
	}
	return m
}

func (m *Memory) recordIndex(id string) int {
	return int(xxhash.Sum64String(id) % uint64(len(m.records)))
}

func (m *Memory) emailIndex(email string) int {
	return int(xxhash.Sum64String(email) % uint64(len(m.emails)))
}

// lockEmails locks the stripes holding a and b in ascending order.
func (m *Memory) lockEmails(a, b string) (*emailShard, *emailShard, func()) {
	ia, ib := m.emailIndex(a), m.emailIndex(b)
	sa, sb := m.emails[ia], m.emails[ib]
	switch {
	case ia == ib:
		sa.mu.Lock()
		return sa, sb, sa.mu.Unlock
	case ia < ib:
		sa.mu.Lock()
		sb.mu.Lock()
	default:
		sb.mu.Lock()
		sa.mu.Lock()
	}
	return sa, sb, func() {
		sa.mu.Unlock()
		sb.mu.Unlock()
	}
}

// timestamp returns the current UTC time, strictly after prev.
func (m *Memory) timestamp(prev time.Time) time.Time {
	now := m.now().UTC()
	if !now.After(prev) {
		now = prev.Add(time.Nanosecond)
	}
	return now
}

// List returns a page of users in insertion order and the filtered total.
func (m *Memory) List(ctx context.Context, q ListQuery) ([]*model.User, int, error) {
	search := strings.ToLower(strings.TrimSpace(q.Search))

	matched := make([]*entry, 0)
	for _, shard := range m.records {
		shard.mu.RLock()
		for _, e := range shard.users {
			if search != "" &&
				!strings.Contains(strings.ToLower(e.user.Name), search) &&
				!strings.Contains(e.user.Email, search) {
				continue
			}
			cp := *e
			matched = append(matched, &cp)
		}
		shard.mu.RUnlock()
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	total := len(matched)
	start, end := 0, total
	if q.PageSize > 0 {
		page := q.Page
		if page < 1 {
			page = 1
		}
		// Compare by division so huge page numbers cannot overflow.
		if page-1 > total/q.PageSize {
			start = total
		} else {
			start = (page - 1) * q.PageSize
		}
		if q.PageSize < total-start {
			end = start + q.PageSize
		}
	}

	users := make([]*model.User, 0, end-start)
	for _, e := range matched[start:end] {
		u := e.user
		users = append(users, &u)
	}
	return users, total, nil
}

// ExistsByEmail reports whether a user holds the normalized email.
func (m *Memory) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	email = model.NormalizeEmail(email)
	shard := m.emails[m.emailIndex(email)]
	shard.mu.Lock()
	_, ok := shard.ids[email]
	shard.mu.Unlock()
	return ok, nil
}

// Create inserts a new user. It fails with ErrDuplicateEmail if the normalized email
// is already taken.
func (m *Memory) Create(ctx context.Context, req model.CreateUserRequest) (*model.User, error) {
	email := model.NormalizeEmail(req.Email)

	es := m.emails[m.emailIndex(email)]
	es.mu.Lock()
	defer es.mu.Unlock()

	if _, taken := es.ids[email]; taken {
		return nil, ErrDuplicateEmail
	}

	now := m.now().UTC()
	e := &entry{
		user: model.User{
			ID:        m.newID(),
			Name:      req.Name,
			Email:     email,
			Age:       req.Age,
			CreatedAt: now,
			UpdatedAt: now,
		},
		seq: m.seq.Add(1),
	}

	rs := m.records[m.recordIndex(e.user.ID)]
	rs.mu.Lock()
	rs.users[e.user.ID] = e
	rs.mu.Unlock()

	es.ids[email] = e.user.ID

	u := e.user
	return &u, nil
}

// FindByEmail returns the user holding the normalized email, or nil.
func (m *Memory) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	email = model.NormalizeEmail(email)

	es := m.emails[m.emailIndex(email)]
	es.mu.Lock()
	defer es.mu.Unlock()

	id, ok := es.ids[email]
	if !ok {
		return nil, nil
	}
	return m.FindByID(ctx, id)
}

// FindByID returns the user with id, or nil.
func (m *Memory) FindByID(ctx context.Context, id string) (*model.User, error) {
	rs := m.records[m.recordIndex(id)]
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	e, ok := rs.users[id]
	if !ok {
		return nil, nil
	}
	u := e.user
	return &u, nil
}

// Update applies the fields present in req and refreshes UpdatedAt.
func (m *Memory) Update(ctx context.Context, id string, req model.UpdateUserRequest) (*model.User, error) {
	if req.Email == nil {
		rs := m.records[m.recordIndex(id)]
		rs.mu.Lock()
		defer rs.mu.Unlock()

		e, ok := rs.users[id]
		if !ok {
			return nil, ErrNotFound
		}
		applyUpdate(&e.user, req)
		e.user.UpdatedAt = m.timestamp(e.user.UpdatedAt)
		u := e.user
		return &u, nil
	}

	newEmail := model.NormalizeEmail(*req.Email)
	for {
		current, _ := m.FindByID(ctx, id)
		if current == nil {
			return nil, ErrNotFound
		}

		u, retry, err := m.updateWithEmail(id, current.Email, newEmail, req)
		if retry {
			// The email changed between the read and the lock; try again.
			continue
		}
		return u, err
	}
}

func (m *Memory) updateWithEmail(id, oldEmail, newEmail string, req model.UpdateUserRequest) (*model.User, bool, error) {
	oldShard, newShard, unlock := m.lockEmails(oldEmail, newEmail)
	defer unlock()

	rs := m.records[m.recordIndex(id)]
	rs.mu.Lock()
	defer rs.mu.Unlock()

	e, ok := rs.users[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if e.user.Email != oldEmail {
		return nil, true, nil
	}

	if newEmail != oldEmail {
		if owner, taken := newShard.ids[newEmail]; taken && owner != id {
			return nil, false, ErrDuplicateEmail
		}
		delete(oldShard.ids, oldEmail)
		newShard.ids[newEmail] = id
	}

	applyUpdate(&e.user, req)
	e.user.Email = newEmail
	e.user.UpdatedAt = m.timestamp(e.user.UpdatedAt)

	u := e.user
	return &u, false, nil
}

func applyUpdate(u *model.User, req model.UpdateUserRequest) {
	if req.Name != nil {
		u.Name = *req.Name
	}
	if req.Age != nil {
		u.Age = *req.Age
	}
}

// Delete removes the user holding the normalized email.
func (m *Memory) Delete(ctx context.Context, email string) error {
	email = model.NormalizeEmail(email)

	es := m.emails[m.emailIndex(email)]
	es.mu.Lock()
	defer es.mu.Unlock()

	id, ok := es.ids[email]
	if !ok {
		return ErrNotFound
	}

	rs := m.records[m.recordIndex(id)]
	rs.mu.Lock()
	delete(rs.users, id)
	rs.mu.Unlock()

	delete(es.ids, email)
	return nil
}

// Len returns the number of stored users.
func (m *Memory) Len() int {
	n := 0
	for _, shard := range m.records {
		shard.mu.RLock()
		n += len(shard.users)
		shard.mu.RUnlock()
	}
	return n
}
