package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roster/roster/internal/apperr"
	"github.com/roster/roster/internal/model"
)

func newTestStore(t testing.TB) *Memory {
	t.Helper()
	return NewMemoryWithShards(8)
}

func mustCreate(t testing.TB, s *Memory, name, email string, age uint8) *model.User {
	t.Helper()
	u, err := s.Create(context.Background(), model.CreateUserRequest{Name: name, Email: email, Age: age})
	if err != nil {
		t.Fatalf("Create(%s) failed: %v", email, err)
	}
	return u
}

func TestMemory_CreateAssignsIdentityAndNormalizesEmail(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	u := mustCreate(t, s, "Alice", "  Alice@X.com ", 30)

	if u.ID == "" {
		t.Error("expected ID to be assigned")
	}
	if u.Email != "alice@x.com" {
		t.Errorf("Email = %q, want alice@x.com", u.Email)
	}
	if u.CreatedAt.IsZero() || !u.CreatedAt.Equal(u.UpdatedAt) {
		t.Errorf("expected CreatedAt == UpdatedAt and non-zero, got %v / %v", u.CreatedAt, u.UpdatedAt)
	}
	if u.CreatedAt.Location() != time.UTC {
		t.Error("timestamps should be UTC")
	}

	exists, _ := s.ExistsByEmail(context.Background(), "ALICE@x.com")
	if !exists {
		t.Error("ExistsByEmail should match case-insensitively")
	}
}

func TestMemory_CreateDuplicateEmail(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	mustCreate(t, s, "Alice", "alice@x.com", 30)

	_, err := s.Create(context.Background(), model.CreateUserRequest{Name: "Other", Email: "ALICE@X.COM", Age: 1})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("duplicate email kind = %q, want validation", apperr.KindOf(err))
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestMemory_ConcurrentCreatesWithCollidingEmails(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	const (
		workers        = 64
		distinctEmails = 5
	)

	var (
		wg        sync.WaitGroup
		successes atomic.Int64
		dupes     atomic.Int64
		start     = make(chan struct{})
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			// Alternate case so normalization is exercised under contention.
			email := fmt.Sprintf("user%d@x.com", i%distinctEmails)
			if i%2 == 0 {
				email = fmt.Sprintf("USER%d@X.COM", i%distinctEmails)
			}
			_, err := s.Create(context.Background(), model.CreateUserRequest{Name: "n", Email: email, Age: 1})
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrDuplicateEmail):
				dupes.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if successes.Load() != distinctEmails {
		t.Errorf("successes = %d, want %d", successes.Load(), distinctEmails)
	}
	if dupes.Load() != workers-distinctEmails {
		t.Errorf("duplicates = %d, want %d", dupes.Load(), workers-distinctEmails)
	}

	users, total, _ := s.List(context.Background(), ListQuery{})
	if total != distinctEmails {
		t.Fatalf("total = %d, want %d", total, distinctEmails)
	}
	seen := make(map[string]bool)
	for _, u := range users {
		if seen[u.Email] {
			t.Errorf("email %q stored twice", u.Email)
		}
		seen[u.Email] = true
	}
}

func TestMemory_UpdateEmptyOnlyRefreshesUpdatedAt(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	before := mustCreate(t, s, "Alice", "alice@x.com", 30)

	after, err := s.Update(context.Background(), before.ID, model.UpdateUserRequest{})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Errorf("UpdatedAt not refreshed: before %v after %v", before.UpdatedAt, after.UpdatedAt)
	}
	if after.ID != before.ID || after.Name != before.Name || after.Email != before.Email ||
		after.Age != before.Age || !after.CreatedAt.Equal(before.CreatedAt) {
		t.Errorf("fields changed: before %+v after %+v", before, after)
	}
}

func TestMemory_UpdateAbsentIDLeavesStoreUnchanged(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	existing := mustCreate(t, s, "Alice", "alice@x.com", 30)

	name := "Ghost"
	email := "ghost@x.com"
	_, err := s.Update(context.Background(), "missing-id", model.UpdateUserRequest{Name: &name, Email: &email})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	users, total, _ := s.List(context.Background(), ListQuery{})
	if total != 1 || users[0].ID != existing.ID || users[0].Name != "Alice" {
		t.Errorf("store changed: %+v", users)
	}
	if ok, _ := s.ExistsByEmail(context.Background(), email); ok {
		t.Error("email index changed by failed update")
	}
}

func TestMemory_UpdatePartialFields(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	u := mustCreate(t, s, "Alice", "alice@x.com", 30)

	age := uint8(31)
	email := "Alice.New@X.com"
	got, err := s.Update(context.Background(), u.ID, model.UpdateUserRequest{Age: &age, Email: &email})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got.Name != "Alice" || got.Age != 31 || got.Email != "alice.new@x.com" {
		t.Errorf("unexpected user after update: %+v", got)
	}

	if old, _ := s.FindByEmail(context.Background(), "alice@x.com"); old != nil {
		t.Error("old email should no longer resolve")
	}
	found, _ := s.FindByEmail(context.Background(), "alice.new@x.com")
	if found == nil || found.ID != u.ID {
		t.Errorf("new email should resolve to %s, got %+v", u.ID, found)
	}
}

func TestMemory_UpdateEmailToTakenFails(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	alice := mustCreate(t, s, "Alice", "alice@x.com", 30)
	mustCreate(t, s, "Bob", "bob@x.com", 25)

	email := "BOB@x.com"
	_, err := s.Update(context.Background(), alice.ID, model.UpdateUserRequest{Email: &email})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}

	got, _ := s.FindByID(context.Background(), alice.ID)
	if got.Email != "alice@x.com" {
		t.Errorf("alice email changed to %q", got.Email)
	}
}

func TestMemory_UpdateSameEmailIsAllowed(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	alice := mustCreate(t, s, "Alice", "alice@x.com", 30)

	email := "ALICE@x.com"
	if _, err := s.Update(context.Background(), alice.ID, model.UpdateUserRequest{Email: &email}); err != nil {
		t.Fatalf("updating to own email should succeed: %v", err)
	}
}

func TestMemory_ConcurrentDeleteSameEmail(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	mustCreate(t, s, "Bob", "bob@x.com", 25)

	var (
		wg        sync.WaitGroup
		successes atomic.Int64
		notFound  atomic.Int64
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Delete(context.Background(), "bob@x.com")
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrNotFound):
				notFound.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes.Load() != 1 {
		t.Errorf("successes = %d, want exactly 1", successes.Load())
	}
	if notFound.Load() != 31 {
		t.Errorf("not found = %d, want 31", notFound.Load())
	}
}

func TestMemory_ConcurrentEmailSwapsKeepIndexConsistent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	a := mustCreate(t, s, "A", "a@x.com", 1)
	b := mustCreate(t, s, "B", "b@x.com", 2)

	targets := []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com"}

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := a.ID
			if i%2 == 1 {
				id = b.ID
			}
			email := targets[i%len(targets)]
			_, err := s.Update(context.Background(), id, model.UpdateUserRequest{Email: &email})
			if err != nil && !errors.Is(err, ErrDuplicateEmail) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	users, total, _ := s.List(context.Background(), ListQuery{})
	if total != 2 {
		t.Fatalf("total = %d, want 2", total)
	}
	if users[0].Email == users[1].Email {
		t.Fatalf("both users share email %q", users[0].Email)
	}
	for _, u := range users {
		found, _ := s.FindByEmail(context.Background(), u.Email)
		if found == nil || found.ID != u.ID {
			t.Errorf("index for %q points to %+v, want %s", u.Email, found, u.ID)
		}
	}
}

func TestMemory_ListPaginationCoversFilteredSetExactlyOnce(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	for i := 0; i < 23; i++ {
		mustCreate(t, s, fmt.Sprintf("user-%02d", i), fmt.Sprintf("u%02d@x.com", i), uint8(i))
	}

	all, total, _ := s.List(context.Background(), ListQuery{})
	if total != 23 || len(all) != 23 {
		t.Fatalf("unpaginated list: len %d total %d", len(all), total)
	}

	for _, pageSize := range []int{1, 5, 7, 10, 23, 50} {
		pageSize := pageSize
		t.Run(fmt.Sprintf("page_size_%d", pageSize), func(t *testing.T) {
			t.Parallel()

			pages := (total + pageSize - 1) / pageSize
			var concatenated []*model.User
			for page := 1; page <= pages; page++ {
				users, pageTotal, _ := s.List(context.Background(), ListQuery{Page: page, PageSize: pageSize})
				if pageTotal != total {
					t.Errorf("page %d total = %d, want %d", page, pageTotal, total)
				}
				concatenated = append(concatenated, users...)
			}

			if len(concatenated) != len(all) {
				t.Fatalf("concatenated %d users, want %d", len(concatenated), len(all))
			}
			for i := range all {
				if concatenated[i].ID != all[i].ID {
					t.Fatalf("position %d: got %s, want %s", i, concatenated[i].ID, all[i].ID)
				}
			}

			past, pastTotal, _ := s.List(context.Background(), ListQuery{Page: pages + 1, PageSize: pageSize})
			if past == nil || len(past) != 0 {
				t.Errorf("past-the-end page should be an empty slice, got %v", past)
			}
			if pastTotal != total {
				t.Errorf("past-the-end total = %d, want %d", pastTotal, total)
			}
		})
	}
}

func TestMemory_ListExtremePagesAreEmpty(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	mustCreate(t, s, "Alice", "alice@x.com", 30)

	tests := []struct {
		name string
		q    ListQuery
		want int
	}{
		{"page overflows offset", ListQuery{Page: math.MaxInt/100 + 2, PageSize: 100}, 0},
		{"max page", ListQuery{Page: math.MaxInt, PageSize: 2}, 0},
		{"max page size", ListQuery{Page: 1, PageSize: math.MaxInt}, 1},
		{"max page and size", ListQuery{Page: math.MaxInt, PageSize: math.MaxInt}, 0},
		{"negative page", ListQuery{Page: -5, PageSize: 10}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			users, total, err := s.List(context.Background(), tt.q)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if users == nil || len(users) != tt.want {
				t.Errorf("len = %d (nil %v), want %d", len(users), users == nil, tt.want)
			}
			if total != 1 {
				t.Errorf("total = %d, want 1", total)
			}
		})
	}
}

func TestMemory_ListOrderIsInsertionOrder(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	var want []string
	for i := 0; i < 10; i++ {
		want = append(want, mustCreate(t, s, "n", fmt.Sprintf("%d@x.com", i), 1).ID)
	}

	for attempt := 0; attempt < 3; attempt++ {
		users, _, _ := s.List(context.Background(), ListQuery{Page: 1, PageSize: 100})
		for i, u := range users {
			if u.ID != want[i] {
				t.Fatalf("attempt %d position %d: got %s want %s", attempt, i, u.ID, want[i])
			}
		}
	}
}

func TestMemory_Scenario_AliceBob(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, s, "Alice", "alice@x.com", 30)
	mustCreate(t, s, "Bob", "bob@x.com", 25)

	users, total, err := s.List(ctx, ListQuery{Page: 1, PageSize: 10, Search: "ali"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 1 || len(users) != 1 || users[0].Name != "Alice" {
		t.Fatalf("search 'ali' = %+v (total %d), want [Alice]", users, total)
	}

	if err := s.Delete(ctx, "bob@x.com"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	found, err := s.FindByEmail(ctx, "bob@x.com")
	if err != nil {
		t.Fatalf("FindByEmail failed: %v", err)
	}
	if found != nil {
		t.Errorf("expected bob to be gone, got %+v", found)
	}

	if err := s.Delete(ctx, "bob@x.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestMemory_SearchMatchesNameOrEmailCaseInsensitive(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	mustCreate(t, s, "Carol", "c@corp.io", 40)
	mustCreate(t, s, "dave", "DAVE@home.net", 41)
	mustCreate(t, s, "Eve", "eve@corp.io", 42)

	tests := []struct {
		search string
		want   int
	}{
		{"CORP", 2},
		{"dave", 1},
		{"HOME", 1},
		{"carol", 1},
		{"zzz", 0},
		{"", 3},
	}

	for _, tt := range tests {
		_, total, _ := s.List(context.Background(), ListQuery{Page: 1, PageSize: 10, Search: tt.search})
		if total != tt.want {
			t.Errorf("search %q total = %d, want %d", tt.search, total, tt.want)
		}
	}
}

func TestMemory_ReturnedRecordsAreCopies(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	u := mustCreate(t, s, "Alice", "alice@x.com", 30)

	u.Name = "Mallory"
	got, _ := s.FindByID(context.Background(), u.ID)
	if got.Name != "Alice" {
		t.Errorf("store mutated through returned pointer: %q", got.Name)
	}
}
