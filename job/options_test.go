package job_test

import (
	"testing"
	"time"

	"github.com/foreman-run/foreman/job"
)

func TestMergeOverridesWin(t *testing.T) {
	defaults := job.Options{Priority: 5, MaxAttempts: 3, Timeout: 10 * time.Second, WorkingDir: "/srv", KeepLogs: 100}
	override := job.Options{CustomId: "job-1", MaxAttempts: 7}

	got := job.Merge(defaults, override)

	if got.CustomId != "job-1" {
		t.Fatalf("CustomId = %q, want job-1", got.CustomId)
	}
	if got.Priority != 5 {
		t.Fatalf("Priority = %d, want 5 (from defaults)", got.Priority)
	}
	if got.MaxAttempts != 7 {
		t.Fatalf("MaxAttempts = %d, want 7 (from override)", got.MaxAttempts)
	}
	if got.Timeout != 10*time.Second {
		t.Fatalf("Timeout = %v, want 10s (from defaults)", got.Timeout)
	}
	if got.WorkingDir != "/srv" {
		t.Fatalf("WorkingDir = %q, want /srv (from defaults)", got.WorkingDir)
	}
	if got.KeepLogs != 100 {
		t.Fatalf("KeepLogs = %d, want 100 (from defaults)", got.KeepLogs)
	}
}

func TestMergeFallsBackToPackageDefaults(t *testing.T) {
	got := job.Merge(job.Options{}, job.Options{})
	if got.MaxAttempts != job.DefaultMaxAttempts {
		t.Fatalf("MaxAttempts = %d, want %d", got.MaxAttempts, job.DefaultMaxAttempts)
	}
	if got.KeepLogs != job.DefaultKeepLogs {
		t.Fatalf("KeepLogs = %d, want %d", got.KeepLogs, job.DefaultKeepLogs)
	}
}

func TestMergeCustomIdNeverFromDefaults(t *testing.T) {
	defaults := job.Options{CustomId: "should-not-propagate"}
	got := job.Merge(defaults, job.Options{})
	if got.CustomId != "" {
		t.Fatalf("CustomId = %q, want empty", got.CustomId)
	}
}

func TestMergeZeroPriorityOverrideDoesNotClobberDefault(t *testing.T) {
	// Priority has no reserved "unset" sentinel distinct from 0, so an
	// override of the zero value cannot be distinguished from "not set" --
	// the defaults' priority wins, matching Merge's documented behavior.
	defaults := job.Options{Priority: 9}
	got := job.Merge(defaults, job.Options{Priority: 0})
	if got.Priority != 9 {
		t.Fatalf("Priority = %d, want 9", got.Priority)
	}
}
