package storage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/foreman-run/foreman/job"
	"github.com/foreman-run/foreman/storage"
)

func TestWaitUntilReadyIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	st := storage.New(db)

	a, err := st.Queues().WaitUntilReady(ctx, "orders")
	if err != nil {
		t.Fatal(err)
	}
	b, err := st.Queues().WaitUntilReady(ctx, "orders")
	if err != nil {
		t.Fatal(err)
	}
	if a.Id != b.Id {
		t.Fatalf("expected WaitUntilReady to return the same row, got %d and %d", a.Id, b.Id)
	}
}

func TestPauseRejectsAdd(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	st := storage.New(db)
	queues := st.Queues()

	if _, err := queues.WaitUntilReady(ctx, "orders"); err != nil {
		t.Fatal(err)
	}
	if _, err := queues.Pause(ctx, "orders"); err != nil {
		t.Fatal(err)
	}

	if _, err := queues.Add(ctx, "orders", "job", "echo", nil, job.Options{}); !errors.Is(err, storage.ErrQueuePaused) {
		t.Fatalf("expected ErrQueuePaused, got %v", err)
	}
}

func TestPauseThenResumeClearsPausedAt(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	st := storage.New(db)
	queues := st.Queues()

	if _, err := queues.WaitUntilReady(ctx, "orders"); err != nil {
		t.Fatal(err)
	}
	if _, err := queues.Pause(ctx, "orders"); err != nil {
		t.Fatal(err)
	}
	q, err := queues.Resume(ctx, "orders")
	if err != nil {
		t.Fatal(err)
	}
	if q.PausedAt != nil {
		t.Fatalf("expected paused_at to be cleared, got %v", q.PausedAt)
	}
	if q.Status != 0 {
		t.Fatalf("expected ACTIVE status, got %v", q.Status)
	}
}

func TestStatsAggregatesByStatus(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	st := storage.New(db)
	queues := st.Queues()

	if _, err := queues.WaitUntilReady(ctx, "orders"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := queues.Add(ctx, "orders", "job", "echo", nil, job.Options{}); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := queues.Stats(ctx, "orders")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Pending != 3 {
		t.Fatalf("expected 3 pending, got %d", stats.Pending)
	}
	if stats.Total() != 3 {
		t.Fatalf("expected total 3, got %d", stats.Total())
	}
}

func TestAddFailsForUnknownQueue(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	st := storage.New(db)

	_, err := st.Queues().Add(ctx, "nonexistent", "job", "echo", nil, job.Options{})
	if !errors.Is(err, storage.ErrQueueNotFound) {
		t.Fatalf("expected ErrQueueNotFound, got %v", err)
	}
}

func TestCustomIDConflict(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	st := storage.New(db)
	queues := st.Queues()

	if _, err := queues.WaitUntilReady(ctx, "orders"); err != nil {
		t.Fatal(err)
	}
	opts := job.Options{CustomId: "order-42"}
	if _, err := queues.Add(ctx, "orders", "job", "echo", nil, opts); err != nil {
		t.Fatal(err)
	}
	if _, err := queues.Add(ctx, "orders", "job", "echo", nil, opts); !errors.Is(err, storage.ErrCustomIDConflict) {
		t.Fatalf("expected ErrCustomIDConflict, got %v", err)
	}
}
