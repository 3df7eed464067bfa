package storage

import "errors"

var (
	// ErrQueuePaused is returned by QueueRepository.Add when the target
	// queue's status is PAUSED.
	ErrQueuePaused = errors.New("storage: queue is paused")

	// ErrCustomIDConflict is returned by JobRepository.Create when the
	// job's CustomId collides with an existing job.
	ErrCustomIDConflict = errors.New("storage: custom id already exists")

	// ErrWrongState is returned when a state transition is attempted from
	// a status that does not permit it.
	ErrWrongState = errors.New("storage: job is not in the required state")

	// ErrJobLost is returned by MoveToCompleted and MoveToFailed when the
	// job is RUNNING but its lock_token no longer matches the caller's:
	// the stall sweep and a subsequent Lease already reassigned the row to
	// another worker while the caller was still executing it.
	ErrJobLost = errors.New("storage: job lease lost")

	// ErrQueueNotFound is returned when an operation references a queue
	// that does not exist.
	ErrQueueNotFound = errors.New("storage: queue not found")

	// ErrJobNotFound is returned when an operation references a job that
	// does not exist.
	ErrJobNotFound = errors.New("storage: job not found")
)
