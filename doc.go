// Package foreman provides a durable, PostgreSQL-backed job queue whose
// workers lease jobs and execute them as shell commands on remote hosts
// over SSH.
//
// # Overview
//
// foreman separates the domain record (job.Job, queue.Queue) from the
// storage adapter (storage.Storage) and the transport (remote.Executor).
// A Worker ties the three together: it leases jobs from one named queue,
// dispatches each to the configured remote host, and persists the
// outcome.
//
// # State Machine
//
// Jobs follow this lifecycle:
//
//	Pending -> Running
//	Running -> Completed
//	Running -> Failed
//	Running -> Stalled
//	Stalled -> Pending   (via RetryStalledJobs)
//	Stalled -> Failed    (re-leased with no attempts remaining)
//	Pending -> Cancelled
//
// Completed, Failed and Cancelled are terminal.
//
// # Delivery Semantics
//
// The lease query (storage.JobRepository.Lease) guarantees that, under
// any number of concurrent workers, a PENDING row is returned to exactly
// one worker. A worker that crashes mid-job leaves the row RUNNING; a
// later stall sweep (by any live worker polling the same queue)
// transitions it to STALLED once its processed_on timestamp exceeds the
// configured threshold, and RetryStalledJobs returns it to PENDING,
// whatever its attempt count. This is an at-least-once delivery model: a job whose
// worker crashed after partial execution may run again.
//
// # Concurrency Model
//
// Worker runs one cooperative poll loop per process: lease a batch sized
// to the free concurrency slots, dispatch each leased job to a bounded
// worker pool (internal.WorkerPool), sleep until the next poll interval
// or a LISTEN/NOTIFY wake-up (internal.WakeUp), whichever comes first.
// Multiple Worker processes coordinate only through the database; there
// is no in-process or cross-process lock beyond the lease query itself.
//
// # Storage Expectations
//
// storage.Storage must be backed by PostgreSQL: the lease query depends
// on FOR UPDATE SKIP LOCKED, and the wake-up channel depends on
// LISTEN/NOTIFY, both Postgres-specific.
package foreman
