package storage

import (
	"context"
	"errors"

	"github.com/uptrace/bun"
)

func createQueueTable(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().
		Model((*queueModel)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

func createJobTable(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().
		Model((*jobModel)(nil)).
		IfNotExists().
		ForeignKey(`("queue_id") REFERENCES "queue" ("id") ON DELETE CASCADE`).
		Exec(ctx)
	return err
}

func createJobLogTable(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().
		Model((*jobLogModel)(nil)).
		IfNotExists().
		ForeignKey(`("job_id") REFERENCES "job" ("id") ON DELETE CASCADE`).
		Exec(ctx)
	return err
}

func createLeaseIndex(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateIndex().
		Model((*jobModel)(nil)).
		Index("idx_job_lease").
		Column("status", "queue_id", "lock_token", "priority", "created_at", "id").
		IfNotExists().
		Exec(ctx)
	return err
}

func createStallIndex(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateIndex().
		Model((*jobModel)(nil)).
		Index("idx_job_stall").
		Column("queue_id", "status", "processed_on").
		IfNotExists().
		Exec(ctx)
	return err
}

func createCustomIDIndex(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateIndex().
		Model((*jobModel)(nil)).
		Index("idx_job_custom_id").
		Column("custom_id").
		Unique().
		Where("custom_id IS NOT NULL").
		IfNotExists().
		Exec(ctx)
	return err
}

func createLogSeqIndex(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateIndex().
		Model((*jobLogModel)(nil)).
		Index("idx_job_log_seq").
		Column("job_id", "sequence").
		IfNotExists().
		Exec(ctx)
	return err
}

func initDB(ctx context.Context, db *bun.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	steps := []func(context.Context, bun.IDB) error{
		createQueueTable,
		createJobTable,
		createJobLogTable,
		createLeaseIndex,
		createStallIndex,
		createCustomIDIndex,
		createLogSeqIndex,
	}
	for _, step := range steps {
		if err := step(ctx, tx); err != nil {
			return errors.Join(err, tx.Rollback())
		}
	}
	return tx.Commit()
}

// InitDB initializes the database schema: the queue, job and job_log
// tables and their supporting indexes, inside a single transaction. If
// any step fails, the transaction is rolled back.
//
// InitDB is idempotent and may be safely called multiple times. It does
// not drop or modify existing tables beyond creating missing objects.
//
// The caller is responsible for providing a *bun.DB opened against
// PostgreSQL; other dialects are not supported.
func InitDB(ctx context.Context, db *bun.DB) error {
	return initDB(ctx, db)
}

// MustInitDB behaves like InitDB but panics if initialization fails.
// Intended for application bootstrap code where failure to initialize
// schema is unrecoverable.
func MustInitDB(ctx context.Context, db *bun.DB) {
	if err := initDB(ctx, db); err != nil {
		panic(err)
	}
}
