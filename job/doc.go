// Package job defines the persistent representation of a single unit of
// remote work managed by a foreman queue.
//
// A Job carries both its payload (the command to run on a remote host) and
// its delivery state (status, lease, attempt count, captured output). Unlike
// a pure transport envelope, Job is the full authoritative record stored by
// the queue backend: leasing, completing, failing, and cancelling a job are
// all expressed as transitions of this single type.
//
// Job values returned by the storage layer are snapshots. Mutating them
// directly does not change persisted state; transitions must go through the
// storage repository that owns the row lock.
package job
