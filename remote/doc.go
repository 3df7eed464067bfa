// Package remote wraps a single authenticated SSH session used to execute
// leased jobs on a remote host.
//
// Executor never touches the database; ExecuteJob and ExecuteJobWithTimeout
// produce a pure ExecResult that the caller (the worker loop) persists.
// Connect/Disconnect are idempotent from the caller's perspective, and
// UploadFile provides SFTP-based file transfer for staging scripts ahead of
// execution.
//
// Command construction shell-escapes every argument and, where possible,
// prefers the SSH protocol's own environment-variable facility over
// splicing values into the command line, to avoid the injection risk of a
// naively string-built "export KEY=VALUE; cmd" invocation.
package remote
