package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/uptrace/bun"

	"github.com/foreman-run/foreman/job"
)

// JobRepository performs atomic state transitions on Job rows using
// UPDATE ... RETURNING (and, for leasing, a CTE-driven UPDATE) to ensure
// safe concurrent access across multiple workers.
type JobRepository struct {
	db *bun.DB
}

// Create inserts a new PENDING job into queueId. options must already be
// merged with the queue's defaults (see job.Merge); Create performs no
// merging itself.
//
// Create fails with ErrCustomIDConflict if options.CustomId collides with
// an existing job (any queue, per the global uniqueness of custom_id).
func (r *JobRepository) Create(ctx context.Context, queueId int64, name, command string, args []string, opts job.Options) (*job.Job, error) {
	model := fromJobCreate(queueId, name, command, args, opts)
	_, err := r.db.NewInsert().Model(model).Returning("*").Exec(ctx)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrCustomIDConflict
		}
		return nil, fmt.Errorf("storage: create job: %w", err)
	}
	return model.toJob()
}

// Lease atomically selects up to slots PENDING jobs of the named queue,
// in (priority ASC, created_at ASC, id ASC) order, skipping rows already
// locked by a concurrent lease, and transitions them to RUNNING under a
// freshly generated lock token.
//
// The CTE + FOR UPDATE SKIP LOCKED selection combined with the single
// UPDATE guarantees that, under any number of concurrent workers calling
// Lease against the same queue, each row is returned to exactly one
// caller.
func (r *JobRepository) Lease(ctx context.Context, queueName string, slots int) ([]*job.Job, error) {
	if slots <= 0 {
		return nil, nil
	}
	var models []jobModel
	err := r.db.NewRaw(`
		WITH next AS (
			SELECT id FROM job
			WHERE status = 'PENDING'
			  AND queue_id = (SELECT id FROM queue WHERE name = ?)
			  AND lock_token IS NULL
			ORDER BY priority ASC, created_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT ?
		)
		UPDATE job
		SET status = 'RUNNING',
		    lock_token = ?,
		    processed_on = NOW(),
		    updated_at = NOW(),
		    attempts_made = attempts_made + 1
		WHERE id IN (SELECT id FROM next)
		RETURNING *
	`, queueName, slots, uuid.NewString()).Scan(ctx, &models)
	if err != nil {
		return nil, fmt.Errorf("storage: lease: %w", err)
	}
	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := models[i].toJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// MoveToRunning performs the PENDING -> RUNNING transition as a
// standalone call rather than as part of Lease. It exists for tests and
// single-worker flows that bypass the batched lease query; Worker itself
// always leases via Lease.
func (r *JobRepository) MoveToRunning(ctx context.Context, id int64, lockToken string) error {
	now := time.Now()
	res, err := r.db.NewUpdate().
		Model((*jobModel)(nil)).
		Set("status = ?", job.Running.String()).
		Set("lock_token = ?", lockToken).
		Set("processed_on = ?", now).
		Set("updated_at = ?", now).
		Set("attempts_made = attempts_made + 1").
		Where("id = ?", id).
		Where("status = ?", job.Pending.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("storage: move to running: %w", err)
	}
	if !isAffected(res) {
		return ErrWrongState
	}
	return nil
}

// MoveToCompleted transitions a RUNNING job to COMPLETED, recording the
// remote command's exit code and captured output.
//
// lockToken must match the job's current lock_token, the token returned by
// the Lease call that handed this job to the caller. MoveToCompleted
// returns ErrWrongState if the job is not currently RUNNING, or ErrJobLost
// if it is RUNNING but under a different lock token — meaning the stall
// sweep and a later Lease already reassigned this job to another worker
// while the caller was still executing it.
func (r *JobRepository) MoveToCompleted(ctx context.Context, id int64, lockToken string, exitCode int, stdout, stderr string) error {
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var m jobModel
		if err := tx.NewSelect().Model(&m).Where("id = ?", id).For("UPDATE").Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrJobNotFound
			}
			return err
		}
		if m.Status != job.Running.String() {
			return ErrWrongState
		}
		if m.LockToken == nil || *m.LockToken != lockToken {
			return ErrJobLost
		}

		now := time.Now()
		_, err := tx.NewUpdate().
			Model((*jobModel)(nil)).
			Set("status = ?", job.Completed.String()).
			Set("exit_code = ?", exitCode).
			Set("std_out = ?", stdout).
			Set("std_err = ?", stderr).
			Set("finished_on = ?", now).
			Set("lock_token = NULL").
			Set("updated_at = ?", now).
			Where("id = ?", id).
			Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: move to completed: %w", err)
	}
	return nil
}

// MoveToFailed transitions a RUNNING job after a failed execution. If
// attempts_made < max_attempts, the job is reset to PENDING (the caller
// should republish new_job); otherwise it is terminated as FAILED.
// attempts_made is never re-incremented here — Lease is the only place
// that increments it — so the retry branch preserves whatever value the
// failing lease already set.
//
// lockToken must match the job's current lock_token; MoveToFailed returns
// ErrJobLost instead of proceeding if the job is RUNNING under a different
// token, the same lease-loss detection MoveToCompleted performs.
//
// It returns whether a retry was scheduled (true) or the job was
// terminated (false), so the caller knows whether to republish.
func (r *JobRepository) MoveToFailed(ctx context.Context, id int64, lockToken string, failErr error, exitCode *int, stdout, stderr string) (retried bool, err error) {
	var reason, stack string
	if failErr != nil {
		reason = failErr.Error()
		stack = fmt.Sprintf("%+v", failErr)
	}

	err = r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var m jobModel
		if scanErr := tx.NewSelect().Model(&m).Where("id = ?", id).For("UPDATE").Scan(ctx); scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				return ErrJobNotFound
			}
			return scanErr
		}
		if m.Status != job.Running.String() {
			return ErrWrongState
		}
		if m.LockToken == nil || *m.LockToken != lockToken {
			return ErrJobLost
		}

		now := time.Now()
		q := tx.NewUpdate().Model((*jobModel)(nil)).Where("id = ?", id)
		if m.AttemptsMade < m.MaxAttempts {
			retried = true
			q.Set("status = ?", job.Pending.String()).
				Set("lock_token = NULL").
				Set("processed_on = NULL").
				Set("finished_on = NULL").
				Set("failed_reason = ?", "").
				Set("stack_trace = ?", "")
		} else {
			retried = false
			q.Set("status = ?", job.Failed.String()).
				Set("failed_reason = ?", reason).
				Set("stack_trace = ?", stack).
				Set("finished_on = ?", now).
				Set("lock_token = NULL")
			if exitCode != nil {
				q.Set("exit_code = ?", *exitCode)
			}
		}
		q.Set("std_out = ?", stdout).Set("std_err = ?", stderr).Set("updated_at = ?", now)
		_, execErr := q.Exec(ctx)
		return execErr
	})
	if err != nil {
		return false, fmt.Errorf("storage: move to failed: %w", err)
	}
	return retried, nil
}

// MoveToCancelled transitions a PENDING job to CANCELLED. Running jobs
// cannot be cancelled in this version; ErrWrongState is returned.
func (r *JobRepository) MoveToCancelled(ctx context.Context, id int64, reason string) error {
	now := time.Now()
	res, err := r.db.NewUpdate().
		Model((*jobModel)(nil)).
		Set("status = ?", job.Cancelled.String()).
		Set("failed_reason = ?", reason).
		Set("finished_on = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", job.Pending.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("storage: move to cancelled: %w", err)
	}
	if !isAffected(res) {
		return ErrWrongState
	}
	return nil
}

// AddLog appends a log line to jobID's append-only log, assigning it the
// next dense sequence number, then trims the log to the job's keep_logs
// most recent entries. The parent Job row is locked for the duration,
// serializing concurrent appends (stdout and stderr callbacks firing from
// the same remote session) so sequences never skip or collide.
func (r *JobRepository) AddLog(ctx context.Context, jobID int64, message string) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var jm jobModel
		if err := tx.NewSelect().Model(&jm).Column("id", "keep_logs").Where("id = ?", jobID).For("UPDATE").Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrJobNotFound
			}
			return err
		}

		var maxSeq sql.NullInt64
		if err := tx.NewSelect().Model((*jobLogModel)(nil)).
			ColumnExpr("MAX(sequence)").
			Where("job_id = ?", jobID).
			Scan(ctx, &maxSeq); err != nil {
			return err
		}

		entry := &jobLogModel{
			Id:        uuid.New(),
			JobId:     jobID,
			Sequence:  int(maxSeq.Int64) + 1,
			Message:   message,
			CreatedAt: time.Now(),
		}
		if _, err := tx.NewInsert().Model(entry).Exec(ctx); err != nil {
			return err
		}

		if jm.KeepLogs > 0 {
			_, err := tx.NewDelete().
				Model((*jobLogModel)(nil)).
				Where("job_id = ?", jobID).
				Where("sequence <= ?", entry.Sequence-jm.KeepLogs).
				Exec(ctx)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// GetLogs returns jobID's log lines ordered by ascending sequence. If
// limit > 0, only the most recent limit rows are returned, still in
// ascending order.
func (r *JobRepository) GetLogs(ctx context.Context, jobID int64, limit int) ([]*job.JobLog, error) {
	query := r.db.NewSelect().Model((*jobLogModel)(nil)).Where("job_id = ?", jobID)
	if limit > 0 {
		query = query.OrderExpr("sequence DESC").Limit(limit)
	} else {
		query = query.OrderExpr("sequence ASC")
	}
	var models []jobLogModel
	if err := query.Scan(ctx, &models); err != nil {
		return nil, fmt.Errorf("storage: get logs: %w", err)
	}
	logs := make([]*job.JobLog, len(models))
	for i := range models {
		logs[i] = models[i].toJobLog()
	}
	if limit > 0 {
		for i, j := 0, len(logs)-1; i < j; i, j = i+1, j-1 {
			logs[i], logs[j] = logs[j], logs[i]
		}
	}
	return logs, nil
}

// GetByID returns the job identified by id, or ErrJobNotFound.
func (r *JobRepository) GetByID(ctx context.Context, id int64) (*job.Job, error) {
	var m jobModel
	if err := r.db.NewSelect().Model(&m).Where("id = ?", id).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("storage: get by id: %w", err)
	}
	return m.toJob()
}

// GetByCustomID returns the job identified by customID, or
// ErrJobNotFound.
func (r *JobRepository) GetByCustomID(ctx context.Context, customID string) (*job.Job, error) {
	var m jobModel
	if err := r.db.NewSelect().Model(&m).Where("custom_id = ?", customID).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("storage: get by custom id: %w", err)
	}
	return m.toJob()
}

// MarkStalledJobs moves every RUNNING job of queueId whose processed_on is
// older than stalledFor to STALLED, clearing its lock_token, and returns
// the jobs that were moved.
//
// Like Lease, this selects candidates via FOR UPDATE SKIP LOCKED inside a
// CTE before updating: a plain UPDATE would block on a row a concurrent
// MoveToFailed/MoveToCompleted transaction is still mid-commit on, instead
// of skipping it, so the sweep never stalls waiting for an in-flight
// worker to finish.
func (r *JobRepository) MarkStalledJobs(ctx context.Context, queueId int64, stalledFor time.Duration) ([]*job.Job, error) {
	cutoff := time.Now().Add(-stalledFor)
	var models []jobModel
	err := r.db.NewRaw(`
		WITH stale AS (
			SELECT id FROM job
			WHERE queue_id = ?
			  AND status = 'RUNNING'
			  AND processed_on < ?
			FOR UPDATE SKIP LOCKED
		)
		UPDATE job
		SET status = 'STALLED',
		    lock_token = NULL,
		    updated_at = NOW()
		WHERE id IN (SELECT id FROM stale)
		RETURNING *
	`, queueId, cutoff).Scan(ctx, &models)
	if err != nil {
		return nil, fmt.Errorf("storage: mark stalled: %w", err)
	}
	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := models[i].toJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// RetryStalledJobs moves every STALLED job of queueId back to PENDING,
// clearing its lease fields, and returns the number of rows moved. It is
// a no-op when there are no STALLED jobs for this queue.
func (r *JobRepository) RetryStalledJobs(ctx context.Context, queueId int64) (int64, error) {
	res, err := r.db.NewUpdate().
		Model((*jobModel)(nil)).
		Set("status = ?", job.Pending.String()).
		Set("lock_token = NULL").
		Set("processed_on = NULL").
		Set("updated_at = ?", time.Now()).
		Where("queue_id = ?", queueId).
		Where("status = ?", job.Stalled.String()).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("storage: retry stalled: %w", err)
	}
	return getAffected(res), nil
}
