package job

import "time"

// DefaultKeepLogs is the retention bound applied when a job's options and
// its queue's defaults both leave KeepLogs unset.
const DefaultKeepLogs = 50

// DefaultMaxAttempts is the attempt bound applied when a job's options and
// its queue's defaults both leave MaxAttempts unset.
const DefaultMaxAttempts = 1

// Options is the recognized bag of per-job settings a caller may pass to
// Queue.Add, and the shape stored as a Queue's default_job_options.
//
// Zero values mean "unset" for every field except CustomId, which is always
// optional. Merge treats a zero Priority, like a zero MaxAttempts, Timeout,
// WorkingDir or KeepLogs, as "use the merge source's value instead" — there
// is no sentinel distinct from the default for any of these fields.
type Options struct {
	// CustomId, when non-empty, must be globally unique across all jobs.
	CustomId string

	// Priority orders jobs within a single lease batch; lower values are
	// leased first. Default 0.
	Priority int

	// MaxAttempts bounds AttemptsMade. Must be >= 1. Default
	// DefaultMaxAttempts.
	MaxAttempts int

	// Timeout bounds remote execution. Zero means no timeout.
	Timeout time.Duration

	// WorkingDir is the remote directory the command runs in. Empty means
	// fall back to the remote config's default, and then to "/tmp".
	WorkingDir string

	// KeepLogs bounds retained JobLog rows for the job. Must be >= 1.
	// Default DefaultKeepLogs.
	KeepLogs int
}

// Merge shallow-merges override on top of defaults: every non-zero field of
// override wins; zero fields fall back to the corresponding field of
// defaults. CustomId is never taken from defaults, since a queue-level
// default custom id would violate global uniqueness for every job created
// against that queue.
//
// The result always has MaxAttempts >= 1 and KeepLogs >= 1, falling back to
// the package defaults if neither defaults nor override specify them.
func Merge(defaults, override Options) Options {
	out := defaults
	out.CustomId = override.CustomId

	if override.Priority != 0 {
		out.Priority = override.Priority
	}
	if override.MaxAttempts != 0 {
		out.MaxAttempts = override.MaxAttempts
	}
	if override.Timeout != 0 {
		out.Timeout = override.Timeout
	}
	if override.WorkingDir != "" {
		out.WorkingDir = override.WorkingDir
	}
	if override.KeepLogs != 0 {
		out.KeepLogs = override.KeepLogs
	}

	if out.MaxAttempts < 1 {
		out.MaxAttempts = DefaultMaxAttempts
	}
	if out.KeepLogs < 1 {
		out.KeepLogs = DefaultKeepLogs
	}
	return out
}
