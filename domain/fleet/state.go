package fleet

import "time"

// RunStatus represents the outcome of a repository's most recent job.
type RunStatus string

// RunStatus values.
const (
	RunStatusNever   RunStatus = "never"
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusError   RunStatus = "error"
	RunStatusSkipped RunStatus = "skipped"
)

// IsValid returns true if the status is one of the known values.
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusNever, RunStatusRunning, RunStatusSuccess, RunStatusError, RunStatusSkipped:
		return true
	}
	return false
}

// State records the durable run history of one repository. A zero
// lastRunStartedAt/lastRunFinishedAt/nextEligibleAt means "not set".
type State struct {
	repoID              string
	status              RunStatus
	lastRunStartedAt    time.Time
	lastRunFinishedAt   time.Time
	lastErrorReason     string
	consecutiveFailures int
	nextEligibleAt      time.Time
	lastJobSummary      map[string]any
}

// NewState creates the initial State for a repository that has never run.
func NewState(repoID string) State {
	return State{
		repoID: repoID,
		status: RunStatusNever,
	}
}

// ReconstructState creates a State with all fields (used by the state store
// when loading).
func ReconstructState(
	repoID string,
	status RunStatus,
	startedAt, finishedAt time.Time,
	errorReason string,
	consecutiveFailures int,
	nextEligibleAt time.Time,
	summary map[string]any,
) State {
	return State{
		repoID:              repoID,
		status:              status,
		lastRunStartedAt:    startedAt,
		lastRunFinishedAt:   finishedAt,
		lastErrorReason:     errorReason,
		consecutiveFailures: consecutiveFailures,
		nextEligibleAt:      nextEligibleAt,
		lastJobSummary:      copySummary(summary),
	}
}

// RepoID returns the repository identifier.
func (s State) RepoID() string { return s.repoID }

// Status returns the last run status.
func (s State) Status() RunStatus { return s.status }

// LastRunStartedAt returns when the last run started.
func (s State) LastRunStartedAt() time.Time { return s.lastRunStartedAt }

// LastRunFinishedAt returns when the last run finished.
func (s State) LastRunFinishedAt() time.Time { return s.lastRunFinishedAt }

// LastErrorReason returns the failure reason of the last run, if any.
func (s State) LastErrorReason() string { return s.lastErrorReason }

// ConsecutiveFailures returns the current failure streak.
func (s State) ConsecutiveFailures() int { return s.consecutiveFailures }

// NextEligibleAt returns the earliest instant the repo may run again.
func (s State) NextEligibleAt() time.Time { return s.nextEligibleAt }

// LastJobSummary returns a copy of the last job's summary counts.
func (s State) LastJobSummary() map[string]any { return copySummary(s.lastJobSummary) }

// Started marks the repo as owned by a worker since now.
func (s State) Started(now time.Time) State {
	s.status = RunStatusRunning
	s.lastRunStartedAt = now
	return s
}

// Succeeded records a run that finished successfully at now. The failure
// streak resets and the repo becomes eligible again after refreshIn.
func (s State) Succeeded(now time.Time, refreshIn time.Duration, summary map[string]any) State {
	s.status = RunStatusSuccess
	s.lastRunFinishedAt = now
	s.consecutiveFailures = 0
	s.lastErrorReason = ""
	s.nextEligibleAt = now.Add(refreshIn)
	s.lastJobSummary = copySummary(summary)
	return s
}

// Failed records a run that failed at now. The failure streak grows by one
// and the next attempt is delayed by the backoff policy.
func (s State) Failed(now time.Time, reason string, backoff Backoff, summary map[string]any) State {
	s.status = RunStatusError
	s.lastRunFinishedAt = now
	s.consecutiveFailures++
	s.lastErrorReason = reason
	s.nextEligibleAt = now.Add(backoff.Delay(s.consecutiveFailures))
	s.lastJobSummary = copySummary(summary)
	return s
}

// Skipped records a run that was not performed. The failure streak is
// unchanged.
func (s State) Skipped(now time.Time, reason string) State {
	s.status = RunStatusSkipped
	s.lastRunFinishedAt = now
	s.lastErrorReason = reason
	return s
}

// Recovered clears a stale running status left behind by a daemon that
// stopped mid-run. The repo stays eligible because the finished timestamp
// is not advanced. Non-running states pass through unchanged.
func (s State) Recovered() State {
	if s.status != RunStatusRunning {
		return s
	}
	s.status = RunStatusError
	s.lastErrorReason = "stale running state after restart"
	return s
}

func copySummary(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
