// Package storage is the PostgreSQL-backed persistence adapter for
// foreman: transactional repositories for Queue and Job (including the
// atomic lease query and the append-only JobLog), and a dedicated
// LISTEN/NOTIFY client used as a wake-up hint by the worker loop.
//
// # Overview
//
// The package provides:
//
//   - durable persistence of queues, jobs and job logs
//   - atomic state transitions guarded by row-level locking
//   - the at-most-one-leaser lease query built on FOR UPDATE SKIP LOCKED
//   - bounded log retention enforced on every append
//
// It is built on github.com/uptrace/bun over a database/sql handle opened
// with github.com/lib/pq, and is PostgreSQL-only: the lease query, the
// jsonb columns and the LISTEN/NOTIFY channel are all Postgres-specific.
//
// # Concurrency model
//
// Every mutation of a Job or Queue row happens inside a transaction that
// first acquires an exclusive row lock (SELECT ... FOR UPDATE) on the
// target row. Batched selections that must not block concurrent workers
// (the lease query, the stall sweep) add SKIP LOCKED.
//
// # Notification channel
//
// Storage.Notify publishes to the "new_job" channel via pg_notify; Listener
// wraps a single long-lived *pq.Listener connection, kept separate from the
// pooled transactional connection because LISTEN/NOTIFY channels are
// connection-scoped in PostgreSQL.
//
// # Schema
//
// InitDB (or MustInitDB) creates the queue, job and job_log tables and
// their supporting indexes, idempotently, inside one transaction. It does
// not perform destructive migrations; schema evolution beyond adding new
// objects is the caller's responsibility.
package storage
