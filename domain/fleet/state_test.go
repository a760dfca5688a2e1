package fleet

import (
	"testing"
	"time"
)

func TestRunStatus_IsValid(t *testing.T) {
	tests := []struct {
		status RunStatus
		valid  bool
	}{
		{RunStatusNever, true},
		{RunStatusRunning, true},
		{RunStatusSuccess, true},
		{RunStatusError, true},
		{RunStatusSkipped, true},
		{RunStatus("queued"), false},
		{RunStatus(""), false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsValid(); got != tt.valid {
				t.Errorf("IsValid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestNewState(t *testing.T) {
	s := NewState("repo-1")

	if s.RepoID() != "repo-1" {
		t.Errorf("RepoID() = %q", s.RepoID())
	}
	if s.Status() != RunStatusNever {
		t.Errorf("Status() = %v, want %v", s.Status(), RunStatusNever)
	}
	if !s.LastRunStartedAt().IsZero() || !s.LastRunFinishedAt().IsZero() {
		t.Error("timestamps should be zero")
	}
	if s.ConsecutiveFailures() != 0 {
		t.Errorf("ConsecutiveFailures() = %d", s.ConsecutiveFailures())
	}
}

func TestState_Started(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	original := NewState("repo-1")
	started := original.Started(now)

	if started.Status() != RunStatusRunning {
		t.Errorf("Status() = %v, want %v", started.Status(), RunStatusRunning)
	}
	if !started.LastRunStartedAt().Equal(now) {
		t.Errorf("LastRunStartedAt() = %v, want %v", started.LastRunStartedAt(), now)
	}
	if original.Status() != RunStatusNever {
		t.Error("original should be unchanged")
	}
}

func TestState_Succeeded(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	backoff := NewBackoff(10*time.Second, 5*time.Minute)
	failed := NewState("repo-1").Failed(now.Add(-time.Hour), "boom", backoff, nil)

	summary := map[string]any{"spans_indexed": 12}
	s := failed.Started(now.Add(-time.Minute)).Succeeded(now, 90*time.Second, summary)

	if s.Status() != RunStatusSuccess {
		t.Errorf("Status() = %v", s.Status())
	}
	if !s.LastRunFinishedAt().Equal(now) {
		t.Errorf("LastRunFinishedAt() = %v", s.LastRunFinishedAt())
	}
	if s.ConsecutiveFailures() != 0 {
		t.Errorf("ConsecutiveFailures() = %d, want 0", s.ConsecutiveFailures())
	}
	if s.LastErrorReason() != "" {
		t.Errorf("LastErrorReason() = %q, want empty", s.LastErrorReason())
	}
	if want := now.Add(90 * time.Second); !s.NextEligibleAt().Equal(want) {
		t.Errorf("NextEligibleAt() = %v, want %v", s.NextEligibleAt(), want)
	}
	if s.LastJobSummary()["spans_indexed"] != 12 {
		t.Errorf("LastJobSummary() = %v", s.LastJobSummary())
	}
}

func TestState_Failed(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	backoff := NewBackoff(10*time.Second, 5*time.Minute)

	first := NewState("repo-1").Failed(now, "clone failed", backoff, nil)
	if first.Status() != RunStatusError {
		t.Errorf("Status() = %v", first.Status())
	}
	if first.ConsecutiveFailures() != 1 {
		t.Errorf("ConsecutiveFailures() = %d, want 1", first.ConsecutiveFailures())
	}
	if first.LastErrorReason() != "clone failed" {
		t.Errorf("LastErrorReason() = %q", first.LastErrorReason())
	}
	if want := now.Add(10 * time.Second); !first.NextEligibleAt().Equal(want) {
		t.Errorf("NextEligibleAt() = %v, want %v (base backoff)", first.NextEligibleAt(), want)
	}

	second := first.Failed(now, "clone failed again", backoff, nil)
	if second.ConsecutiveFailures() != 2 {
		t.Errorf("ConsecutiveFailures() = %d, want 2", second.ConsecutiveFailures())
	}
	if want := now.Add(20 * time.Second); !second.NextEligibleAt().Equal(want) {
		t.Errorf("NextEligibleAt() = %v, want %v (doubled)", second.NextEligibleAt(), want)
	}
}

func TestState_Failed_BackoffCapped(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	backoff := NewBackoff(10*time.Second, 30*time.Second)

	s := NewState("repo-1")
	for i := 0; i < 6; i++ {
		s = s.Failed(now, "still broken", backoff, nil)
	}

	if want := now.Add(30 * time.Second); !s.NextEligibleAt().Equal(want) {
		t.Errorf("NextEligibleAt() = %v, want capped %v", s.NextEligibleAt(), want)
	}
}

func TestState_Skipped(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	backoff := NewBackoff(10*time.Second, 5*time.Minute)
	failed := NewState("repo-1").Failed(now.Add(-time.Hour), "boom", backoff, nil)

	s := failed.Skipped(now, "repo path missing")
	if s.Status() != RunStatusSkipped {
		t.Errorf("Status() = %v", s.Status())
	}
	if s.ConsecutiveFailures() != 1 {
		t.Errorf("ConsecutiveFailures() = %d, want unchanged 1", s.ConsecutiveFailures())
	}
	if s.LastErrorReason() != "repo path missing" {
		t.Errorf("LastErrorReason() = %q", s.LastErrorReason())
	}
	if !s.LastRunFinishedAt().Equal(now) {
		t.Errorf("LastRunFinishedAt() = %v", s.LastRunFinishedAt())
	}
}

func TestState_Recovered(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	stale := NewState("repo-1").Started(now.Add(-time.Hour))

	recovered := stale.Recovered()
	if recovered.Status() != RunStatusError {
		t.Errorf("Status() = %v, want %v", recovered.Status(), RunStatusError)
	}
	if recovered.LastErrorReason() == "" {
		t.Error("LastErrorReason() should explain the recovery")
	}
	if !recovered.LastRunFinishedAt().IsZero() {
		t.Error("finished timestamp should stay zero so the repo is re-eligible")
	}
}

func TestState_Recovered_PassThrough(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ok := NewState("repo-1").Succeeded(now, time.Minute, nil)

	recovered := ok.Recovered()
	if recovered.Status() != RunStatusSuccess {
		t.Errorf("Status() = %v, want unchanged success", recovered.Status())
	}
	if recovered.LastErrorReason() != "" {
		t.Errorf("LastErrorReason() = %q, want empty", recovered.LastErrorReason())
	}
}

func TestState_SummaryCopied(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	summary := map[string]any{"files": 3}

	s := NewState("repo-1").Succeeded(now, time.Minute, summary)

	summary["files"] = 99
	if s.LastJobSummary()["files"] != 3 {
		t.Error("state should hold its own copy of the summary")
	}

	got := s.LastJobSummary()
	got["files"] = 42
	if s.LastJobSummary()["files"] != 3 {
		t.Error("LastJobSummary() should return a copy")
	}
}

func TestReconstructState(t *testing.T) {
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	finished := started.Add(time.Minute)
	next := finished.Add(time.Hour)

	s := ReconstructState("repo-1", RunStatusError, started, finished, "timeout", 3, next,
		map[string]any{"spans": 7})

	if s.Status() != RunStatusError {
		t.Errorf("Status() = %v", s.Status())
	}
	if s.ConsecutiveFailures() != 3 {
		t.Errorf("ConsecutiveFailures() = %d", s.ConsecutiveFailures())
	}
	if !s.NextEligibleAt().Equal(next) {
		t.Errorf("NextEligibleAt() = %v", s.NextEligibleAt())
	}
	if s.LastJobSummary()["spans"] != 7 {
		t.Errorf("LastJobSummary() = %v", s.LastJobSummary())
	}
}
