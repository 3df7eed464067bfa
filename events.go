package foreman

import (
	"github.com/foreman-run/foreman/job"
	"github.com/foreman-run/foreman/queue"
)

// Observer is an explicit set of optional event handler funcs a caller may
// register with a Worker. Any field left nil is simply not invoked; there
// is no dynamic registration list and no base type to embed or subclass,
// unlike an event-emitter-style API.
//
// Handlers are invoked synchronously from the worker's dispatch
// goroutines (JobStarted/JobCompleted/JobFailed), its poll loop
// (JobStalled), or the goroutine calling Queue.Pause/Queue.Resume
// (QueuePaused/QueueResumed). They must not block for long or panic; a
// panic in a dispatch-goroutine handler is recovered and logged by the
// dispatch pool, abandoning the rest of that job's handling, and a panic
// in any other handler is not recovered.
type Observer struct {
	// JobStarted fires just before a leased job's command begins
	// executing on the remote host.
	JobStarted func(j *job.Job)

	// JobCompleted fires after a job finishes with exit code 0.
	JobCompleted func(j *job.Job)

	// JobFailed fires after each attempt that ends with a non-zero exit
	// code, a transport error, or a timeout, including attempts that are
	// retried (j.Status is then PENDING). err is never nil; for a non-zero
	// exit it reports the exit status.
	JobFailed func(j *job.Job, err error)

	// JobStalled fires once per stall-sweep pass that finds at least one
	// RUNNING job whose lease has expired, with the full batch of jobs
	// the sweep moved to STALLED.
	JobStalled func(jobs []*job.Job)

	// QueuePaused fires when Pause succeeds.
	QueuePaused func(q *queue.Queue)

	// QueueResumed fires when Resume succeeds.
	QueueResumed func(q *queue.Queue)
}

func (o *Observer) jobStarted(j *job.Job) {
	if o != nil && o.JobStarted != nil {
		o.JobStarted(j)
	}
}

func (o *Observer) jobCompleted(j *job.Job) {
	if o != nil && o.JobCompleted != nil {
		o.JobCompleted(j)
	}
}

func (o *Observer) jobFailed(j *job.Job, err error) {
	if o != nil && o.JobFailed != nil {
		o.JobFailed(j, err)
	}
}

func (o *Observer) jobStalled(jobs []*job.Job) {
	if o != nil && o.JobStalled != nil && len(jobs) > 0 {
		o.JobStalled(jobs)
	}
}

func (o *Observer) queuePaused(q *queue.Queue) {
	if o != nil && o.QueuePaused != nil {
		o.QueuePaused(q)
	}
}

func (o *Observer) queueResumed(q *queue.Queue) {
	if o != nil && o.QueueResumed != nil {
		o.QueueResumed(q)
	}
}
