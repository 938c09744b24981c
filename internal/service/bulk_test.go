package service

import (
	"context"
	"sync"
	"testing"

	"github.com/roster/roster/internal/model"
)

func TestBulkCreate_PartialFailure(t *testing.T) {
	t.Parallel()

	svc, st, rec := newTestService(t)
	ctx := context.Background()

	reqs := []model.CreateUserRequest{
		{Name: " alice ", Email: "alice@x.io", Age: 30},
		{Name: "bob", Email: "ALICE@x.io", Age: 31},
		{Name: "carol", Email: "carol@x.io", Age: 32},
		{Name: "dave", Email: "no-at-sign", Age: 33},
	}

	result, err := svc.BulkCreate(ctx, reqs)
	if err != nil {
		t.Fatalf("BulkCreate() error = %v", err)
	}
	if result.Requested != 4 || result.Created != 2 || result.Failed() != 2 {
		t.Fatalf("result = %+v", result)
	}
	if result.Failures[0].Index > result.Failures[1].Index {
		t.Errorf("failures not sorted: %+v", result.Failures)
	}
	if result.Failures[1].Index != 3 {
		t.Errorf("expected item 3 to fail, got %+v", result.Failures)
	}
	if st.Len() != 2 {
		t.Errorf("store len = %d, want 2", st.Len())
	}

	carol, _ := st.FindByEmail(ctx, "carol@x.io")
	if carol == nil || carol.Name != "CAROL" {
		t.Errorf("carol = %+v, want upper-cased name", carol)
	}

	if got := svc.Stats().CreateCount; got != 2 {
		t.Errorf("CreateCount = %d, want 2", got)
	}
	snap := rec.Snapshot()
	if snap.BulkItemsSucceeded != 2 || snap.BulkItemsFailed != 2 {
		t.Errorf("bulk metrics = %d/%d", snap.BulkItemsSucceeded, snap.BulkItemsFailed)
	}
}

func TestBulkCreate_Empty(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	result, err := svc.BulkCreate(context.Background(), nil)
	if err != nil {
		t.Fatalf("BulkCreate() error = %v", err)
	}
	if result.Requested != 0 || result.Created != 0 || result.Failed() != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestBulkCreate_CanceledContext(t *testing.T) {
	t.Parallel()

	svc, st, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := svc.BulkCreate(ctx, []model.CreateUserRequest{
		{Name: "a", Email: "a@x.io"},
		{Name: "b", Email: "b@x.io"},
	})
	if err != nil {
		t.Fatalf("BulkCreate() error = %v", err)
	}
	if result.Created != 0 || result.Failed() != 2 {
		t.Errorf("result = %+v", result)
	}
	if st.Len() != 0 {
		t.Errorf("store len = %d, want 0", st.Len())
	}
}

func TestStats_ConcurrentRecord(t *testing.T) {
	t.Parallel()

	stats := NewStats()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stats.record(operation(i % 4))
		}(i)
	}
	wg.Wait()

	got := stats.Snapshot()
	sum := got.CreateCount + got.ReadCount + got.UpdateCount + got.DeleteCount
	if got.TotalOperations != 50 || sum != 50 {
		t.Errorf("snapshot = %+v", got)
	}
	if got.CreateCount != 13 {
		t.Errorf("CreateCount = %d, want 13", got.CreateCount)
	}
}
