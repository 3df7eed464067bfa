// Package queue defines the named, pausable container of jobs that forms
// the scheduling boundary for a foreman Worker.
//
// A Queue has a globally-unique name, an ACTIVE/PAUSED status, and a bag of
// default job options shallow-merged into every job added to it. Queue
// values are snapshots; transitions (pause, resume, add) are performed
// through a storage repository that owns the queue row's lock.
package queue
