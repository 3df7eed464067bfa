package job

import "time"

// Job represents a single shell command dispatched to a remote host and
// managed by queue storage.
//
// Id is an auto-incrementing identifier assigned by storage. CustomId is an
// optional globally-unique human-facing reference; it is the empty string
// when unset.
//
// Name is a short label for the job (used only in logs and notifications;
// workers never parse it). Command and Args together form the remote shell
// invocation. WorkingDir, when set, overrides the queue's and the remote
// config's default working directory. Timeout, when non-zero, bounds
// execution and is enforced by the remote executor.
//
// Status, LockToken, ProcessedOn and FinishedOn track the job's position in
// the lease/retry/stall state machine described by the job package's state
// diagram. AttemptsMade counts leases (see MoveToFailed's retry semantics);
// MaxAttempts bounds it.
//
// ExitCode, StdOut and StdErr capture the remote command's result.
// FailedReason and StackTrace are populated on terminal failure.
//
// KeepLogs bounds how many JobLog rows are retained for this job.
//
// Job instances are snapshots of storage state. Mutating fields directly
// does not change persisted state; transitions must be performed through a
// storage repository, which owns the job's row lock.
type Job struct {
	Id       int64
	CustomId string

	QueueId int64

	Name       string
	Command    string
	Args       []string
	WorkingDir string
	Timeout    time.Duration

	Status       Status
	Priority     int
	AttemptsMade int
	MaxAttempts  int

	ExitCode     *int
	StdOut       string
	StdErr       string
	FailedReason string
	StackTrace   string

	LockToken string
	KeepLogs  int

	CreatedAt   time.Time
	UpdatedAt   time.Time
	ProcessedOn *time.Time
	FinishedOn  *time.Time
}

// Leased reports whether the job currently carries an active lease.
func (j *Job) Leased() bool {
	return j.LockToken != ""
}

// JobLog is a single append-only log line belonging to a Job.
//
// Sequence is dense and starts at 1 within a job; it is assigned under the
// parent Job's row lock so concurrent appends (stdout and stderr callbacks
// firing from the same remote session) never skip or collide.
type JobLog struct {
	Id        string
	JobId     int64
	Sequence  int
	Message   string
	CreatedAt time.Time
}
