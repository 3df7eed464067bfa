package foreman

import (
	"errors"

	"github.com/foreman-run/foreman/storage"
)

var (
	// ErrDoubleStarted is returned when Start is called on a worker that
	// has already been started.
	ErrDoubleStarted = errors.New("worker double start")

	// ErrDoubleStopped is returned when Stop is called on a worker that
	// is not currently running.
	ErrDoubleStopped = errors.New("worker double stop")

	// ErrStopTimeout is returned when a worker fails to shut down within
	// the provided timeout during Stop. The worker may still be
	// terminating in the background.
	ErrStopTimeout = errors.New("worker stop timeout")

	// ErrQueuePaused is returned by Add when the target queue's status is
	// PAUSED. Alias of storage.ErrQueuePaused so callers can match either
	// package's sentinel with errors.Is.
	ErrQueuePaused = storage.ErrQueuePaused

	// ErrCustomIDConflict is returned by Add when the job's CustomId
	// collides with an existing job in any queue.
	ErrCustomIDConflict = storage.ErrCustomIDConflict

	// ErrWrongState is returned when a state transition is attempted from
	// a status that does not permit it (for example, MoveToCancelled on
	// a job that is no longer PENDING).
	ErrWrongState = storage.ErrWrongState

	// ErrJobLost is returned when a job's execution outcome can no longer
	// be recorded because its lease was reassigned to another worker by
	// the stall sweep while it was still running.
	ErrJobLost = storage.ErrJobLost

	// ErrQueueNotFound is returned when an operation references a queue
	// that does not exist.
	ErrQueueNotFound = storage.ErrQueueNotFound

	// ErrJobNotFound is returned when an operation references a job that
	// does not exist.
	ErrJobNotFound = storage.ErrJobNotFound
)
