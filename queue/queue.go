package queue

import (
	"time"

	"github.com/foreman-run/foreman/job"
)

// Queue is a named collection of jobs sharing default options and an
// ACTIVE/PAUSED flag.
type Queue struct {
	Id   int64
	Name string

	Status            Status
	DefaultJobOptions job.Options

	CreatedAt time.Time
	UpdatedAt time.Time
	PausedAt  *time.Time
}
