package job_test

import (
	"testing"

	"github.com/foreman-run/foreman/job"
)

func TestStatusRoundTrip(t *testing.T) {
	statuses := []job.Status{
		job.Unknown, job.Pending, job.Running, job.Completed,
		job.Failed, job.Stalled, job.Cancelled,
	}
	for _, s := range statuses {
		text, err := s.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v): %v", s, err)
		}
		var got job.Status
		if err := got.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%q): %v", text, err)
		}
		if got != s {
			t.Fatalf("round trip mismatch: got %v, want %v", got, s)
		}
	}
}

func TestParseStatusUnknownString(t *testing.T) {
	if _, err := job.ParseStatus("NOT_A_STATUS"); err == nil {
		t.Fatal("expected error for unrecognized status string")
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []job.Status{job.Completed, job.Failed, job.Cancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("expected %v to be terminal", s)
		}
	}
	nonTerminal := []job.Status{job.Pending, job.Running, job.Stalled}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Fatalf("expected %v to not be terminal", s)
		}
	}
}
