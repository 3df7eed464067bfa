package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/foreman-run/foreman/job"
	"github.com/foreman-run/foreman/storage"
)

func TestLeaseCompleteRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	st := storage.New(db)

	q, err := st.Queues().WaitUntilReady(ctx, "default")
	if err != nil {
		t.Fatal(err)
	}

	jobs := st.Jobs()
	created, err := jobs.Create(ctx, q.Id, "greet", "echo", []string{"hi"}, job.Options{MaxAttempts: 1, KeepLogs: 10})
	if err != nil {
		t.Fatal(err)
	}
	if created.Status != job.Pending {
		t.Fatalf("expected PENDING, got %v", created.Status)
	}

	leased, err := jobs.Lease(ctx, "default", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(leased) != 1 {
		t.Fatalf("expected 1 leased job, got %d", len(leased))
	}
	if leased[0].Status != job.Running {
		t.Fatalf("expected RUNNING, got %v", leased[0].Status)
	}
	if leased[0].AttemptsMade != 1 {
		t.Fatalf("expected attempts_made = 1, got %d", leased[0].AttemptsMade)
	}

	if err := jobs.MoveToCompleted(ctx, leased[0].Id, leased[0].LockToken, 0, "hi\n", ""); err != nil {
		t.Fatal(err)
	}
	got, err := jobs.GetByID(ctx, leased[0].Id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != job.Completed {
		t.Fatalf("expected COMPLETED, got %v", got.Status)
	}
	if got.StdOut != "hi\n" {
		t.Fatalf("unexpected stdout: %q", got.StdOut)
	}
}

func TestLeaseIsAtMostOnce(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	st := storage.New(db)

	q, err := st.Queues().WaitUntilReady(ctx, "default")
	if err != nil {
		t.Fatal(err)
	}
	jobs := st.Jobs()
	for i := 0; i < 10; i++ {
		if _, err := jobs.Create(ctx, q.Id, "job", "echo", nil, job.Options{MaxAttempts: 1}); err != nil {
			t.Fatal(err)
		}
	}

	const workers = 5
	results := make(chan []*job.Job, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			leased, err := jobs.Lease(ctx, "default", 3)
			results <- leased
			errs <- err
		}()
	}

	seen := map[int64]bool{}
	total := 0
	for i := 0; i < workers; i++ {
		leased := <-results
		if err := <-errs; err != nil {
			t.Fatal(err)
		}
		for _, j := range leased {
			if seen[j.Id] {
				t.Fatalf("job %d leased more than once", j.Id)
			}
			seen[j.Id] = true
			total++
		}
	}
	if total != 10 {
		t.Fatalf("expected 10 jobs leased across all workers, got %d", total)
	}
}

func TestMoveToFailedRetriesUntilExhausted(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	st := storage.New(db)

	q, err := st.Queues().WaitUntilReady(ctx, "default")
	if err != nil {
		t.Fatal(err)
	}
	jobs := st.Jobs()
	created, err := jobs.Create(ctx, q.Id, "flaky", "false", nil, job.Options{MaxAttempts: 2})
	if err != nil {
		t.Fatal(err)
	}

	leased, err := jobs.Lease(ctx, "default", 1)
	if err != nil || len(leased) != 1 {
		t.Fatalf("lease failed: %v / %d", err, len(leased))
	}
	if leased[0].AttemptsMade != 1 {
		t.Fatalf("expected attempts_made = 1, got %d", leased[0].AttemptsMade)
	}

	exitCode := 1
	retried, err := jobs.MoveToFailed(ctx, created.Id, leased[0].LockToken, errors.New("boom"), &exitCode, "", "boom")
	if err != nil {
		t.Fatal(err)
	}
	if !retried {
		t.Fatal("expected first failure to retry")
	}

	j, err := jobs.GetByID(ctx, created.Id)
	if err != nil {
		t.Fatal(err)
	}
	if j.Status != job.Pending {
		t.Fatalf("expected PENDING after retry, got %v", j.Status)
	}

	leased, err = jobs.Lease(ctx, "default", 1)
	if err != nil || len(leased) != 1 {
		t.Fatalf("second lease failed: %v / %d", err, len(leased))
	}
	if leased[0].AttemptsMade != 2 {
		t.Fatalf("expected attempts_made = 2, got %d", leased[0].AttemptsMade)
	}

	retried, err = jobs.MoveToFailed(ctx, created.Id, leased[0].LockToken, errors.New("boom again"), &exitCode, "", "boom again")
	if err != nil {
		t.Fatal(err)
	}
	if retried {
		t.Fatal("expected second failure to terminate, not retry")
	}
	j, err = jobs.GetByID(ctx, created.Id)
	if err != nil {
		t.Fatal(err)
	}
	if j.Status != job.Failed {
		t.Fatalf("expected FAILED, got %v", j.Status)
	}
	if j.AttemptsMade != j.MaxAttempts {
		t.Fatalf("expected attempts_made == max_attempts (%d), got %d", j.MaxAttempts, j.AttemptsMade)
	}
}

func TestAddLogRetention(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	st := storage.New(db)

	q, err := st.Queues().WaitUntilReady(ctx, "default")
	if err != nil {
		t.Fatal(err)
	}
	jobs := st.Jobs()
	created, err := jobs.Create(ctx, q.Id, "chatty", "echo", nil, job.Options{KeepLogs: 3})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		if err := jobs.AddLog(ctx, created.Id, "line"); err != nil {
			t.Fatal(err)
		}
	}

	logs, err := jobs.GetLogs(ctx, created.Id, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 3 {
		t.Fatalf("expected 3 surviving log rows, got %d", len(logs))
	}
	if logs[0].Sequence != 3 || logs[2].Sequence != 5 {
		t.Fatalf("expected surviving sequences 3..5, got %d..%d", logs[0].Sequence, logs[2].Sequence)
	}
}

func TestMoveToCancelledRequiresPending(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	st := storage.New(db)

	q, err := st.Queues().WaitUntilReady(ctx, "default")
	if err != nil {
		t.Fatal(err)
	}
	jobs := st.Jobs()
	created, err := jobs.Create(ctx, q.Id, "run", "true", nil, job.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := jobs.Lease(ctx, "default", 1); err != nil {
		t.Fatal(err)
	}

	if err := jobs.MoveToCancelled(ctx, created.Id, "nope"); !errors.Is(err, storage.ErrWrongState) {
		t.Fatalf("expected ErrWrongState, got %v", err)
	}
}

func TestMoveToCompletedDetectsLostLease(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	st := storage.New(db)

	q, err := st.Queues().WaitUntilReady(ctx, "default")
	if err != nil {
		t.Fatal(err)
	}
	jobs := st.Jobs()
	created, err := jobs.Create(ctx, q.Id, "orphaned", "echo", nil, job.Options{MaxAttempts: 1})
	if err != nil {
		t.Fatal(err)
	}
	leased, err := jobs.Lease(ctx, "default", 1)
	if err != nil || len(leased) != 1 {
		t.Fatalf("lease failed: %v / %d", err, len(leased))
	}

	// Simulate the row being reassigned to another worker by a stall sweep
	// and subsequent lease, without touching the original caller's token.
	if _, err := db.NewRaw(`UPDATE job SET lock_token = ? WHERE id = ?`, "someone-elses-token", created.Id).Exec(ctx); err != nil {
		t.Fatal(err)
	}

	if err := jobs.MoveToCompleted(ctx, created.Id, leased[0].LockToken, 0, "hi\n", ""); !errors.Is(err, storage.ErrJobLost) {
		t.Fatalf("expected ErrJobLost, got %v", err)
	}

	exitCode := 0
	if _, err := jobs.MoveToFailed(ctx, created.Id, leased[0].LockToken, errors.New("boom"), &exitCode, "", ""); !errors.Is(err, storage.ErrJobLost) {
		t.Fatalf("expected ErrJobLost, got %v", err)
	}
}

func TestStallSweepAndRetry(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	st := storage.New(db)

	q, err := st.Queues().WaitUntilReady(ctx, "default")
	if err != nil {
		t.Fatal(err)
	}
	jobs := st.Jobs()
	created, err := jobs.Create(ctx, q.Id, "stuck", "sleep", []string{"100"}, job.Options{MaxAttempts: 2})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := jobs.Lease(ctx, "default", 1); err != nil {
		t.Fatal(err)
	}

	stalled, err := jobs.MarkStalledJobs(ctx, q.Id, -time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(stalled) != 1 || stalled[0].Id != created.Id {
		t.Fatalf("expected the stuck job to be marked stalled, got %+v", stalled)
	}

	moved, err := jobs.RetryStalledJobs(ctx, q.Id)
	if err != nil {
		t.Fatal(err)
	}
	if moved != 1 {
		t.Fatalf("expected 1 job moved back to pending, got %d", moved)
	}

	again, err := jobs.RetryStalledJobs(ctx, q.Id)
	if err != nil {
		t.Fatal(err)
	}
	if again != 0 {
		t.Fatalf("expected RetryStalledJobs on empty stalled set to be a no-op, got %d", again)
	}
}
