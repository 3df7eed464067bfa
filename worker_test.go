package foreman_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	_ "github.com/lib/pq"

	"github.com/foreman-run/foreman"
	"github.com/foreman-run/foreman/job"
	"github.com/foreman-run/foreman/remote"
	"github.com/foreman-run/foreman/storage"
)

// Worker integration tests exercise the real lease/dispatch/persist cycle
// end to end, so they need both a live PostgreSQL instance and a
// reachable SSH target. They are skipped with t.Skip whenever the
// relevant environment variables are unset, the same optional-integration
// idiom storage's tests use for FOREMAN_TEST_DATABASE_URL.
func newTestStorage(t *testing.T) (*storage.Storage, string) {
	t.Helper()
	dsn := os.Getenv("FOREMAN_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("FOREMAN_TEST_DATABASE_URL not set, skipping worker integration test")
	}
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatal(err)
	}
	db := bun.NewDB(sqlDB, pgdialect.New())
	ctx := context.Background()
	if err := storage.InitDB(ctx, db); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_, _ = db.ExecContext(ctx, "DELETE FROM job_log")
		_, _ = db.ExecContext(ctx, "DELETE FROM job")
		_, _ = db.ExecContext(ctx, "DELETE FROM queue")
		_ = db.Close()
	})
	return storage.New(db), dsn
}

func newTestExecutor(t *testing.T) *remote.Executor {
	t.Helper()
	host := os.Getenv("FOREMAN_TEST_SSH_HOST")
	if host == "" {
		t.Skip("FOREMAN_TEST_SSH_HOST not set, skipping worker integration test")
	}
	return remote.NewExecutor(remote.RemoteConfig{
		SSHConfig: remote.SSHConfig{
			Host:           host,
			Username:       os.Getenv("FOREMAN_TEST_SSH_USER"),
			PrivateKeyPath: os.Getenv("FOREMAN_TEST_SSH_KEY"),
		},
	})
}

func TestWorkerProcessesJobEndToEnd(t *testing.T) {
	st, dsn := newTestStorage(t)
	executor := newTestExecutor(t)

	completed := make(chan *job.Job, 1)
	obs := &foreman.Observer{JobCompleted: func(j *job.Job) { completed <- j }}

	w := foreman.NewWorker(st, executor, foreman.WorkerConfig{
		QueueName:      "e2e-complete",
		Concurrency:    2,
		QueueSize:      10,
		PollInterval:   20 * time.Millisecond,
		StalledTimeout: 200 * time.Millisecond,
		DatabaseURL:    dsn,
	}, obs, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = w.Stop(time.Second) }()

	if _, err := st.Queues().Add(ctx, "e2e-complete", "echo", "echo", []string{"hello"}, job.Options{}); err != nil {
		t.Fatal(err)
	}

	select {
	case j := <-completed:
		if j.Status != job.Completed {
			t.Fatalf("expected COMPLETED, got %v", j.Status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job did not complete in time")
	}
}

func TestWorkerRetriesThenFails(t *testing.T) {
	st, dsn := newTestStorage(t)
	executor := newTestExecutor(t)

	failed := make(chan *job.Job, 2)
	obs := &foreman.Observer{JobFailed: func(j *job.Job, err error) { failed <- j }}

	w := foreman.NewWorker(st, executor, foreman.WorkerConfig{
		QueueName:      "e2e-fail",
		Concurrency:    1,
		QueueSize:      10,
		PollInterval:   20 * time.Millisecond,
		StalledTimeout: 200 * time.Millisecond,
		DatabaseURL:    dsn,
	}, obs, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = w.Stop(time.Second) }()

	if _, err := st.Queues().Add(ctx, "e2e-fail", "false", "false", nil, job.Options{MaxAttempts: 2}); err != nil {
		t.Fatal(err)
	}

	var last *job.Job
	for i := 0; i < 2; i++ {
		select {
		case last = <-failed:
		case <-time.After(5 * time.Second):
			t.Fatalf("expected 2 JobFailed events, got %d", i)
		}
	}
	if last.Status != job.Failed {
		t.Fatalf("expected FAILED after exhausting retries, got %v", last.Status)
	}
}
