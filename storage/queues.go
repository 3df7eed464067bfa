package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/foreman-run/foreman/job"
	"github.com/foreman-run/foreman/queue"
)

// QueueRepository manages Queue rows: creation, pause/resume, and the
// aggregate stats and stall-recovery operations a Worker drives its poll
// loop with.
type QueueRepository struct {
	db *bun.DB
}

// WaitUntilReady idempotently fetches the named queue, creating it with
// default options if it does not yet exist. The create-or-fetch happens
// under a row lock so concurrent callers racing to create the same queue
// converge on a single row.
func (r *QueueRepository) WaitUntilReady(ctx context.Context, name string) (*queue.Queue, error) {
	var result *queue.Queue
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var m queueModel
		err := tx.NewSelect().Model(&m).Where("name = ?", name).For("UPDATE").Scan(ctx)
		if err == nil {
			result, err = m.toQueue()
			return err
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		now := time.Now()
		m = queueModel{
			Name:              name,
			Status:            queue.Active.String(),
			DefaultJobOptions: toOptionsJSON(job.Options{}),
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if _, err := tx.NewInsert().Model(&m).
			On("CONFLICT (name) DO UPDATE SET updated_at = EXCLUDED.updated_at").
			Returning("*").
			Exec(ctx); err != nil {
			return err
		}
		result, err = m.toQueue()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: wait until ready: %w", err)
	}
	return result, nil
}

// Add creates a job in the named queue with options merged against the
// queue's defaults. It fails with ErrQueuePaused if the queue is PAUSED,
// and ErrQueueNotFound if it does not exist (callers normally call
// WaitUntilReady first).
func (r *QueueRepository) Add(ctx context.Context, name, jobName, command string, args []string, opts job.Options) (*job.Job, error) {
	var m queueModel
	if err := r.db.NewSelect().Model(&m).Where("name = ?", name).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQueueNotFound
		}
		return nil, fmt.Errorf("storage: add: %w", err)
	}
	if m.Status == queue.Paused.String() {
		return nil, ErrQueuePaused
	}
	defaults := m.DefaultJobOptions.toOptions()
	merged := job.Merge(defaults, opts)
	return (&JobRepository{db: r.db}).Create(ctx, m.Id, jobName, command, args, merged)
}

// Pause sets the named queue's status to PAUSED and stamps paused_at.
// Jobs already leased before pausing continue to completion.
func (r *QueueRepository) Pause(ctx context.Context, name string) (*queue.Queue, error) {
	return r.setStatus(ctx, name, queue.Paused, true)
}

// Resume sets the named queue's status to ACTIVE and clears paused_at.
func (r *QueueRepository) Resume(ctx context.Context, name string) (*queue.Queue, error) {
	return r.setStatus(ctx, name, queue.Active, false)
}

func (r *QueueRepository) setStatus(ctx context.Context, name string, status queue.Status, paused bool) (*queue.Queue, error) {
	now := time.Now()
	q := r.db.NewUpdate().
		Model((*queueModel)(nil)).
		Set("status = ?", status.String()).
		Set("updated_at = ?", now).
		Where("name = ?", name)
	if paused {
		q = q.Set("paused_at = ?", now)
	} else {
		q = q.Set("paused_at = NULL")
	}
	var models []queueModel
	if err := q.Returning("*").Scan(ctx, &models); err != nil {
		return nil, fmt.Errorf("storage: set queue status: %w", err)
	}
	if len(models) == 0 {
		return nil, ErrQueueNotFound
	}
	return models[0].toQueue()
}

// Stats aggregates job counts by status for the named queue.
func (r *QueueRepository) Stats(ctx context.Context, name string) (queue.Stats, error) {
	var m queueModel
	if err := r.db.NewSelect().Model(&m).Column("id").Where("name = ?", name).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return queue.Stats{}, ErrQueueNotFound
		}
		return queue.Stats{}, fmt.Errorf("storage: stats: %w", err)
	}

	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	err := r.db.NewSelect().
		Model((*jobModel)(nil)).
		ColumnExpr("status").
		ColumnExpr("COUNT(*) AS count").
		Where("queue_id = ?", m.Id).
		Group("status").
		Scan(ctx, &rows)
	if err != nil {
		return queue.Stats{}, fmt.Errorf("storage: stats: %w", err)
	}

	var stats queue.Stats
	for _, rw := range rows {
		switch rw.Status {
		case job.Pending.String():
			stats.Pending = rw.Count
		case job.Running.String():
			stats.Running = rw.Count
		case job.Completed.String():
			stats.Completed = rw.Count
		case job.Failed.String():
			stats.Failed = rw.Count
		case job.Stalled.String():
			stats.Stalled = rw.Count
		case job.Cancelled.String():
			stats.Cancelled = rw.Count
		}
	}
	return stats, nil
}

// MarkStalledJobs looks up the named queue and runs the stall sweep
// against it (see JobRepository.MarkStalledJobs).
func (r *QueueRepository) MarkStalledJobs(ctx context.Context, name string, threshold time.Duration) ([]*job.Job, error) {
	var m queueModel
	if err := r.db.NewSelect().Model(&m).Column("id").Where("name = ?", name).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQueueNotFound
		}
		return nil, fmt.Errorf("storage: mark stalled jobs: %w", err)
	}
	return (&JobRepository{db: r.db}).MarkStalledJobs(ctx, m.Id, threshold)
}

// RetryStalledJobs looks up the named queue and moves all its STALLED
// jobs back to PENDING, publishing one new_job notification if any were
// moved. It is a no-op when there are none.
func (r *QueueRepository) RetryStalledJobs(ctx context.Context, name string) (int64, error) {
	var m queueModel
	if err := r.db.NewSelect().Model(&m).Column("id").Where("name = ?", name).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrQueueNotFound
		}
		return 0, fmt.Errorf("storage: retry stalled jobs: %w", err)
	}
	n, err := (&JobRepository{db: r.db}).RetryStalledJobs(ctx, m.Id)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		if _, err := r.db.ExecContext(ctx, "SELECT pg_notify(?, ?)", NewJobChannel, name); err != nil {
			return n, fmt.Errorf("storage: retry stalled jobs: notify: %w", err)
		}
	}
	return n, nil
}
