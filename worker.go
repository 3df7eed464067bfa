package foreman

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/foreman-run/foreman/internal"
	"github.com/foreman-run/foreman/job"
	"github.com/foreman-run/foreman/remote"
	"github.com/foreman-run/foreman/storage"
)

// WorkerConfig defines the runtime behavior of a Worker.
//
// QueueName identifies which queue this worker leases jobs from; the
// queue is created (WaitUntilReady) if it does not already exist.
//
// Concurrency bounds the number of jobs dispatched at once.
//
// QueueSize is the internal buffering capacity between the lease poll
// loop and the dispatch pool (internal.WorkerPool's queue size).
//
// PollInterval is the fallback polling period; the loop also wakes
// immediately on a new_job notification via the storage Listener.
//
// StalledTimeout bounds how long a RUNNING job may go without a fresh
// processed_on before the stall sweep reclaims it.
//
// DatabaseURL is used to open the dedicated LISTEN/NOTIFY connection;
// it is independent of the *storage.Storage connection pool because
// LISTEN/NOTIFY channels are connection-scoped in PostgreSQL.
type WorkerConfig struct {
	QueueName      string
	Concurrency    int
	QueueSize      int
	PollInterval   time.Duration
	StalledTimeout time.Duration
	DatabaseURL    string
}

// Worker coordinates leasing, dispatching and persisting job outcomes for
// a single named queue.
//
// Worker implements an at-least-once processing model:
//
//  1. Periodically lease PENDING jobs from storage, atomically.
//  2. Dispatch each to the configured remote.Executor.
//  3. On success, mark the job COMPLETED.
//  4. On failure, retry (back to PENDING) or terminate as FAILED,
//     depending on attempts_made vs max_attempts.
//  5. Periodically sweep RUNNING jobs whose lease has gone stale and
//     mark them STALLED, for later retry.
//
// Worker does not guarantee exactly-once delivery: a job whose worker
// crashed mid-execution may run again once its lease is reclaimed.
//
// Worker has a strict lifecycle: Start may only be called once; Stop
// gracefully shuts down the poll loop and dispatch pool and waits for
// in-flight jobs to settle, subject to a timeout.
type Worker struct {
	lcBase

	storage  *storage.Storage
	executor *remote.Executor
	observer *Observer
	log      *slog.Logger

	queueName      string
	concurrency    int
	pollInterval   time.Duration
	stalledTimeout time.Duration
	databaseURL    string

	pool   *internal.WorkerPool[*job.Job]
	wakeUp *internal.WakeUp

	queueId int64

	listener *storage.Listener
	cancel   context.CancelFunc
}

// NewWorker creates a Worker. The worker is not started automatically;
// call Start to begin leasing and processing jobs.
func NewWorker(st *storage.Storage, executor *remote.Executor, cfg WorkerConfig, observer *Observer, log *slog.Logger) *Worker {
	return &Worker{
		storage:        st,
		executor:       executor,
		observer:       observer,
		log:            log,
		queueName:      cfg.QueueName,
		concurrency:    cfg.Concurrency,
		pollInterval:   cfg.PollInterval,
		stalledTimeout: cfg.StalledTimeout,
		databaseURL:    cfg.DatabaseURL,
		pool:           internal.NewWorkerPool[*job.Job](cfg.Concurrency, cfg.QueueSize, log),
		wakeUp:         internal.NewWakeUp(),
	}
}

// Start connects the remote executor, verifies reachability, recovers any
// jobs left STALLED by a prior crash, and enters the scheduling loop.
//
// Start returns ErrDoubleStarted if the worker has already been started,
// and propagates any error from connecting to the remote host or the
// database: a worker that cannot reach its dependencies refuses to start
// rather than looping on failures silently.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.tryStart(); err != nil {
		return err
	}

	if err := w.executor.Connect(ctx); err != nil {
		return fmt.Errorf("foreman: start: %w", err)
	}
	if err := w.executor.TestConnection(ctx); err != nil {
		return fmt.Errorf("foreman: start: %w", err)
	}
	if info, err := w.executor.GetServerInfo(ctx); err == nil {
		w.log.Info("connected to remote host", "hostname", info.Hostname, "uptime", info.Uptime)
	} else {
		w.log.Warn("could not fetch remote server info", "err", err)
	}

	q, err := w.storage.Queues().WaitUntilReady(ctx, w.queueName)
	if err != nil {
		return fmt.Errorf("foreman: start: %w", err)
	}
	w.queueId = q.Id

	if _, err := w.storage.Jobs().RetryStalledJobs(ctx, w.queueId); err != nil {
		w.log.Error("initial stalled-job retry failed", "err", err)
	}

	listener, err := storage.NewListener(w.databaseURL, w.wakeUp, w.log)
	if err != nil {
		return fmt.Errorf("foreman: start: %w", err)
	}
	w.listener = listener

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.pool.Start(runCtx, w.handle)
	go w.run(runCtx)
	return nil
}

func (w *Worker) doStop() internal.DoneChan {
	w.cancel()
	if w.listener != nil {
		if err := w.listener.Close(); err != nil {
			w.log.Warn("error closing listener", "err", err)
		}
	}
	poolDone := w.pool.Stop()
	disconnectDone := make(internal.DoneChan)
	go func() {
		<-poolDone
		if err := w.executor.Disconnect(); err != nil {
			w.log.Warn("error disconnecting executor", "err", err)
		}
		close(disconnectDone)
	}()
	return internal.Combine(poolDone, disconnectDone)
}

// Stop initiates graceful shutdown: the poll loop stops leasing new work
// immediately, and in-flight jobs are given until timeout to finish
// before Stop returns ErrStopTimeout (background goroutines may still be
// terminating in that case).
//
// Stop returns ErrDoubleStopped if the worker is not running.
func (w *Worker) Stop(timeout time.Duration) error {
	return w.tryStop(timeout, w.doStop)
}

func (w *Worker) run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollOnce(ctx)
		case <-w.wakeUp.C():
			w.pollOnce(ctx)
		}
	}
}

func (w *Worker) pollOnce(ctx context.Context) {
	stalled, err := w.storage.Jobs().MarkStalledJobs(ctx, w.queueId, w.stalledTimeout)
	if err != nil {
		w.log.Error("stall sweep failed", "err", err)
	} else if len(stalled) > 0 {
		w.log.Warn("jobs stalled", "count", len(stalled))
		w.observer.jobStalled(stalled)
	}

	slots := w.pool.Available()
	if slots <= 0 {
		return
	}
	leased, err := w.storage.Jobs().Lease(ctx, w.queueName, slots)
	if err != nil {
		w.log.Error("lease failed", "err", err)
		return
	}
	for _, j := range leased {
		if !w.pool.Push(j) {
			w.log.Debug("job push interrupted by shutdown", "id", j.Id)
			return
		}
	}
}

func (w *Worker) handle(ctx context.Context, j *job.Job) {
	// A job already dispatched runs to completion and records its outcome
	// even after Stop cancels the poll loop's context.
	ctx = context.WithoutCancel(ctx)
	w.observer.jobStarted(j)

	onStdout := func(line string) {
		if err := w.storage.Jobs().AddLog(ctx, j.Id, "[stdout] "+line); err != nil {
			w.log.Error("append stdout log failed", "id", j.Id, "err", err)
		}
	}
	onStderr := func(line string) {
		if err := w.storage.Jobs().AddLog(ctx, j.Id, "[stderr] "+line); err != nil {
			w.log.Error("append stderr log failed", "id", j.Id, "err", err)
		}
	}

	res, execErr := w.executor.ExecuteJobWithTimeout(ctx, j, onStdout, onStderr)

	if execErr != nil {
		w.fail(ctx, j, execErr, nil, res.Stdout, res.Stderr)
		return
	}
	if res.ExitCode != 0 {
		exitCode := res.ExitCode
		w.fail(ctx, j, fmt.Errorf("remote command exited with status %d", exitCode), &exitCode, res.Stdout, res.Stderr)
		return
	}

	if err := w.storage.Jobs().MoveToCompleted(ctx, j.Id, j.LockToken, res.ExitCode, res.Stdout, res.Stderr); err != nil {
		if errors.Is(err, storage.ErrJobLost) {
			w.log.Warn("lease lost before completion could be recorded", "id", j.Id)
			return
		}
		w.log.Error("cannot complete job", "id", j.Id, "err", err)
		return
	}
	j.Status = job.Completed
	w.observer.jobCompleted(j)
}

func (w *Worker) fail(ctx context.Context, j *job.Job, failErr error, exitCode *int, stdout, stderr string) {
	retried, err := w.storage.Jobs().MoveToFailed(ctx, j.Id, j.LockToken, failErr, exitCode, stdout, stderr)
	if err != nil {
		if errors.Is(err, storage.ErrJobLost) {
			w.log.Warn("lease lost before failure could be recorded", "id", j.Id)
			return
		}
		w.log.Error("cannot mark job failed", "id", j.Id, "err", err)
		return
	}
	if retried {
		j.Status = job.Pending
		if err := w.storage.Notify(ctx, storage.NewJobChannel, j.Name); err != nil {
			w.log.Warn("failed to republish new_job after retry", "id", j.Id, "err", err)
		}
	} else {
		j.Status = job.Failed
	}
	w.observer.jobFailed(j, failErr)
}
