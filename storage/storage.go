package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	_ "github.com/lib/pq"
)

// Storage is the PostgreSQL-backed persistence adapter. It wraps the
// pooled, transactional connection used by JobRepository and
// QueueRepository; the dedicated LISTEN/NOTIFY connection lives
// separately in Listener because channels are connection-scoped in
// PostgreSQL and must not share the pool.
type Storage struct {
	db *bun.DB
}

// Open opens a PostgreSQL connection pool against databaseURL (a
// "postgres://" connection string) and wraps it in a Storage. maxOpenConns
// bounds the pool; callers size it relative to worker concurrency (see
// SPEC_FULL.md's "max(WorkerConcurrency+2, 4)" guidance).
func Open(databaseURL string, maxOpenConns int) (*Storage, error) {
	sqldb, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	sqldb.SetMaxOpenConns(maxOpenConns)
	db := bun.NewDB(sqldb, pgdialect.New())
	return &Storage{db: db}, nil
}

// New wraps an already-configured *bun.DB. Used by tests and callers that
// need control over the underlying *sql.DB beyond what Open offers.
func New(db *bun.DB) *Storage {
	return &Storage{db: db}
}

// DB returns the underlying *bun.DB, for schema initialization
// (storage.InitDB) and health checks.
func (s *Storage) DB() *bun.DB {
	return s.db
}

// Close closes the underlying connection pool.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Notify publishes payload on channel via PostgreSQL's pg_notify, waking
// any Listener subscribed to it.
func (s *Storage) Notify(ctx context.Context, channel, payload string) error {
	_, err := s.db.ExecContext(ctx, "SELECT pg_notify(?, ?)", channel, payload)
	if err != nil {
		return fmt.Errorf("storage: notify %s: %w", channel, err)
	}
	return nil
}

// Jobs returns a JobRepository bound to this storage's connection pool.
func (s *Storage) Jobs() *JobRepository {
	return &JobRepository{db: s.db}
}

// Queues returns a QueueRepository bound to this storage's connection
// pool.
func (s *Storage) Queues() *QueueRepository {
	return &QueueRepository{db: s.db}
}
