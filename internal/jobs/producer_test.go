package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/roster/roster/internal/apperr"
	"github.com/roster/roster/internal/broker"
	"github.com/roster/roster/internal/metrics"
	"github.com/roster/roster/internal/model"
	"github.com/roster/roster/internal/testutil"
)

// stubStream embeds a MemoryStream and overrides Publish.
type stubStream struct {
	*broker.MemoryStream
	publish func(ctx context.Context, env broker.Envelope) (string, error)
}

func (s *stubStream) Publish(ctx context.Context, env broker.Envelope) (string, error) {
	return s.publish(ctx, env)
}

func TestProducer_Enqueue(t *testing.T) {
	t.Parallel()

	stream := broker.NewMemoryStream()
	rec := metrics.NewInMemory()
	p := NewProducer(stream, testutil.DiscardLogger(), rec, time.Second)

	receipt, err := p.Enqueue(context.Background(), model.ImportCSV("/tmp/a.csv"))
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if len(receipt.JobID) != 26 {
		t.Errorf("JobID = %q, want a ULID", receipt.JobID)
	}
	if receipt.Key != "ImportCsv{path=/tmp/a.csv}" {
		t.Errorf("Key = %q", receipt.Key)
	}
	if receipt.MessageID == "" {
		t.Error("MessageID is empty")
	}

	got, _ := stream.Read(context.Background(), "c", 1, 0)
	if len(got) != 1 {
		t.Fatalf("stream has %d messages, want 1", len(got))
	}
	var job model.Job
	if err := json.Unmarshal(got[0].Payload, &job); err != nil {
		t.Fatalf("payload is not json: %v", err)
	}
	if job != model.ImportCSV("/tmp/a.csv") {
		t.Errorf("payload job = %+v", job)
	}
	if got[0].JobID != receipt.JobID || got[0].Key != receipt.Key {
		t.Errorf("envelope = %+v", got[0].Envelope)
	}
	if rec.Published(string(model.JobImportCSV), metrics.StatusSuccess) != 1 {
		t.Error("published metric not recorded")
	}
}

func TestProducer_InvalidJob(t *testing.T) {
	t.Parallel()

	stream := broker.NewMemoryStream()
	p := NewProducer(stream, testutil.DiscardLogger(), nil, time.Second)

	tests := []struct {
		name string
		job  model.Job
	}{
		{"unknown_kind", model.Job{Kind: "Purge", Path: "a.csv"}},
		{"empty_path", model.ExportCSV(" ")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Enqueue(context.Background(), tt.job)
			if !apperr.IsKind(err, apperr.KindValidation) {
				t.Fatalf("Enqueue() error = %v, want validation", err)
			}
		})
	}
	if depth, _ := stream.Depth(context.Background()); depth != 0 {
		t.Errorf("Depth() = %d, want 0", depth)
	}
}

func TestProducer_PublishFailure(t *testing.T) {
	t.Parallel()

	stream := &stubStream{
		MemoryStream: broker.NewMemoryStream(),
		publish: func(context.Context, broker.Envelope) (string, error) {
			return "", errors.New("connection refused")
		},
	}
	rec := metrics.NewInMemory()
	p := NewProducer(stream, testutil.DiscardLogger(), rec, time.Second)

	_, err := p.Enqueue(context.Background(), model.ExportCSV("out.csv"))
	if !apperr.IsKind(err, apperr.KindInternal) {
		t.Fatalf("Enqueue() error = %v, want internal", err)
	}
	if rec.Published(string(model.JobExportCSV), metrics.StatusFailed) != 1 {
		t.Error("failed publish metric not recorded")
	}
}

func TestProducer_PublishTimeout(t *testing.T) {
	t.Parallel()

	stream := &stubStream{
		MemoryStream: broker.NewMemoryStream(),
		publish: func(ctx context.Context, _ broker.Envelope) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	p := NewProducer(stream, testutil.DiscardLogger(), nil, 20*time.Millisecond)

	start := time.Now()
	_, err := p.Enqueue(context.Background(), model.ExportCSV("out.csv"))
	if !apperr.IsKind(err, apperr.KindInternal) {
		t.Fatalf("Enqueue() error = %v, want internal", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Enqueue() error = %v, want deadline exceeded cause", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Enqueue() took %v, want bounded by timeout", elapsed)
	}
}
