package foreman

import (
	"context"
	"fmt"

	"github.com/foreman-run/foreman/job"
	"github.com/foreman-run/foreman/queue"
	"github.com/foreman-run/foreman/storage"
)

// Queue is the write-side entry point: the producer-facing handle used to
// enqueue jobs and administer a single named queue. Workers lease from
// the same underlying queue independently; Queue never dispatches work
// itself.
type Queue struct {
	storage  *storage.Storage
	name     string
	observer *Observer
}

// NewQueue returns a Queue handle bound to name, creating the
// underlying queue row if it does not already exist. observer may be nil.
func NewQueue(ctx context.Context, st *storage.Storage, name string, observer *Observer) (*Queue, error) {
	if _, err := st.Queues().WaitUntilReady(ctx, name); err != nil {
		return nil, fmt.Errorf("foreman: new queue: %w", err)
	}
	return &Queue{storage: st, name: name, observer: observer}, nil
}

// Add enqueues a new job for command/args, merging opts over the queue's
// default job options. It returns ErrQueuePaused if the queue is PAUSED.
func (q *Queue) Add(ctx context.Context, jobName, command string, args []string, opts job.Options) (*job.Job, error) {
	j, err := q.storage.Queues().Add(ctx, q.name, jobName, command, args, opts)
	if err != nil {
		return nil, err
	}
	if err := q.storage.Notify(ctx, storage.NewJobChannel, q.name); err != nil {
		return j, fmt.Errorf("foreman: add: notify: %w", err)
	}
	return j, nil
}

// Pause flips the queue's status to PAUSED, rejecting future Add calls
// until Resume is called. The observer's QueuePaused handler, if set, is
// invoked after the change is persisted.
func (q *Queue) Pause(ctx context.Context) error {
	qq, err := q.storage.Queues().Pause(ctx, q.name)
	if err != nil {
		return err
	}
	q.observer.queuePaused(qq)
	return nil
}

// Resume flips the queue's status back to ACTIVE and clears paused_at.
func (q *Queue) Resume(ctx context.Context) error {
	qq, err := q.storage.Queues().Resume(ctx, q.name)
	if err != nil {
		return err
	}
	q.observer.queueResumed(qq)
	return nil
}

// Stats reports job counts grouped by status for this queue.
func (q *Queue) Stats(ctx context.Context) (queue.Stats, error) {
	return q.storage.Queues().Stats(ctx, q.name)
}

// Logs returns up to limit of the most recent log lines for job id, in
// chronological order. A limit of 0 returns every retained line.
func (q *Queue) Logs(ctx context.Context, jobID int64, limit int) ([]*job.JobLog, error) {
	return q.storage.Jobs().GetLogs(ctx, jobID, limit)
}

// Get returns a job by its storage id.
func (q *Queue) Get(ctx context.Context, jobID int64) (*job.Job, error) {
	return q.storage.Jobs().GetByID(ctx, jobID)
}

// GetByCustomID returns a job by its caller-assigned CustomId.
func (q *Queue) GetByCustomID(ctx context.Context, customID string) (*job.Job, error) {
	return q.storage.Jobs().GetByCustomID(ctx, customID)
}

// Cancel moves a PENDING job to CANCELLED. It returns ErrWrongState for a
// job that is RUNNING or already terminal; cancellation of in-flight jobs
// is not supported.
func (q *Queue) Cancel(ctx context.Context, jobID int64, reason string) error {
	return q.storage.Jobs().MoveToCancelled(ctx, jobID, reason)
}
