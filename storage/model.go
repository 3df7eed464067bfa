package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/foreman-run/foreman/job"
	"github.com/foreman-run/foreman/queue"
)

// optionsJSON is the jsonb-serializable shape of job.Options. Kept distinct
// from the domain type so the domain package carries no persistence tags,
// following the teacher's separation between job.Job and the sql package's
// jobModel.
type optionsJSON struct {
	CustomId       string `json:"customId,omitempty"`
	Priority       int    `json:"priority,omitempty"`
	MaxAttempts    int    `json:"maxAttempts,omitempty"`
	TimeoutSeconds int    `json:"timeout,omitempty"`
	WorkingDir     string `json:"workingDir,omitempty"`
	KeepLogs       int    `json:"keepLogs,omitempty"`
}

func toOptionsJSON(o job.Options) optionsJSON {
	return optionsJSON{
		CustomId:       o.CustomId,
		Priority:       o.Priority,
		MaxAttempts:    o.MaxAttempts,
		TimeoutSeconds: int(o.Timeout / time.Second),
		WorkingDir:     o.WorkingDir,
		KeepLogs:       o.KeepLogs,
	}
}

func (o optionsJSON) toOptions() job.Options {
	return job.Options{
		CustomId:    o.CustomId,
		Priority:    o.Priority,
		MaxAttempts: o.MaxAttempts,
		Timeout:     time.Duration(o.TimeoutSeconds) * time.Second,
		WorkingDir:  o.WorkingDir,
		KeepLogs:    o.KeepLogs,
	}
}

type queueModel struct {
	bun.BaseModel `bun:"table:queue"`

	Id     int64  `bun:"id,pk,autoincrement"`
	Name   string `bun:"name,unique,notnull"`
	Status string `bun:"status,notnull,default:'ACTIVE'"`

	DefaultJobOptions optionsJSON `bun:"default_job_options,type:jsonb,notnull,default:'{}'"`

	CreatedAt time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	PausedAt  *time.Time `bun:"paused_at,nullzero"`
}

func (qm *queueModel) toQueue() (*queue.Queue, error) {
	status, err := queue.ParseStatus(qm.Status)
	if err != nil {
		return nil, err
	}
	return &queue.Queue{
		Id:                qm.Id,
		Name:              qm.Name,
		Status:            status,
		DefaultJobOptions: qm.DefaultJobOptions.toOptions(),
		CreatedAt:         qm.CreatedAt,
		UpdatedAt:         qm.UpdatedAt,
		PausedAt:          qm.PausedAt,
	}, nil
}

type jobModel struct {
	bun.BaseModel `bun:"table:job"`

	Id       int64   `bun:"id,pk,autoincrement"`
	CustomId *string `bun:"custom_id,unique"`
	QueueId  int64   `bun:"queue_id,notnull"`

	Name       string   `bun:"name,notnull"`
	Command    string   `bun:"command,notnull"`
	Args       []string `bun:"args,type:jsonb"`
	WorkingDir string   `bun:"working_dir"`
	Timeout    *int     `bun:"timeout"` // seconds; nil = no timeout

	StdOut   string `bun:"std_out"`
	StdErr   string `bun:"std_err"`
	ExitCode *int   `bun:"exit_code"`

	Status       string `bun:"status,notnull,default:'PENDING'"`
	Priority     int    `bun:"priority,notnull,default:0"`
	MaxAttempts  int    `bun:"max_attempts,notnull"`
	AttemptsMade int    `bun:"attempts_made,notnull,default:0"`

	CreatedAt   time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	ProcessedOn *time.Time `bun:"processed_on"`
	FinishedOn  *time.Time `bun:"finished_on"`

	FailedReason string  `bun:"failed_reason"`
	StackTrace   string  `bun:"stack_trace"`
	LockToken    *string `bun:"lock_token"`
	KeepLogs     int     `bun:"keep_logs,notnull,default:50"`
}

func (jm *jobModel) toJob() (*job.Job, error) {
	status, err := job.ParseStatus(jm.Status)
	if err != nil {
		return nil, err
	}
	j := &job.Job{
		Id:           jm.Id,
		QueueId:      jm.QueueId,
		Name:         jm.Name,
		Command:      jm.Command,
		Args:         jm.Args,
		WorkingDir:   jm.WorkingDir,
		Status:       status,
		Priority:     jm.Priority,
		AttemptsMade: jm.AttemptsMade,
		MaxAttempts:  jm.MaxAttempts,
		StdOut:       jm.StdOut,
		StdErr:       jm.StdErr,
		ExitCode:     jm.ExitCode,
		FailedReason: jm.FailedReason,
		StackTrace:   jm.StackTrace,
		KeepLogs:     jm.KeepLogs,
		CreatedAt:    jm.CreatedAt,
		UpdatedAt:    jm.UpdatedAt,
		ProcessedOn:  jm.ProcessedOn,
		FinishedOn:   jm.FinishedOn,
	}
	if jm.CustomId != nil {
		j.CustomId = *jm.CustomId
	}
	if jm.Timeout != nil {
		j.Timeout = time.Duration(*jm.Timeout) * time.Second
	}
	if jm.LockToken != nil {
		j.LockToken = *jm.LockToken
	}
	return j, nil
}

func fromJobCreate(queueId int64, name, command string, args []string, opts job.Options) *jobModel {
	now := time.Now()
	var customId *string
	if opts.CustomId != "" {
		customId = &opts.CustomId
	}
	var timeout *int
	if opts.Timeout > 0 {
		seconds := int(opts.Timeout / time.Second)
		timeout = &seconds
	}
	return &jobModel{
		CustomId:    customId,
		QueueId:     queueId,
		Name:        name,
		Command:     command,
		Args:        args,
		WorkingDir:  opts.WorkingDir,
		Timeout:     timeout,
		Status:      job.Pending.String(),
		Priority:    opts.Priority,
		MaxAttempts: opts.MaxAttempts,
		KeepLogs:    opts.KeepLogs,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

type jobLogModel struct {
	bun.BaseModel `bun:"table:job_log"`

	Id        uuid.UUID `bun:"id,pk,type:uuid"`
	JobId     int64     `bun:"job_id,notnull"`
	Sequence  int       `bun:"sequence,notnull"`
	Message   string    `bun:"message,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func (lm *jobLogModel) toJobLog() *job.JobLog {
	return &job.JobLog{
		Id:        lm.Id.String(),
		JobId:     lm.JobId,
		Sequence:  lm.Sequence,
		Message:   lm.Message,
		CreatedAt: lm.CreatedAt,
	}
}
