package fleet

import "time"

// Backoff computes the delay before a failing repository may run again.
type Backoff struct {
	base time.Duration
	max  time.Duration
}

// NewBackoff creates a Backoff with the given base and cap.
func NewBackoff(base, max time.Duration) Backoff {
	return Backoff{base: base, max: max}
}

// Base returns the first-failure delay.
func (b Backoff) Base() time.Duration { return b.base }

// Max returns the delay cap.
func (b Backoff) Max() time.Duration { return b.max }

// Delay returns min(max, base * 2^(failures-1)). Zero or negative failure
// counts yield no delay.
func (b Backoff) Delay(failures int) time.Duration {
	if failures <= 0 || b.base <= 0 {
		return 0
	}
	delay := b.base
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= b.max || delay < 0 {
			return b.max
		}
	}
	if delay > b.max {
		return b.max
	}
	return delay
}

// SchedulePolicy holds the fleet-wide scheduling knobs used by the
// eligibility decision.
type SchedulePolicy struct {
	tickInterval time.Duration
	maxFailures  int
}

// NewSchedulePolicy creates a SchedulePolicy. A non-positive maxFailures
// disables parking.
func NewSchedulePolicy(tickInterval time.Duration, maxFailures int) SchedulePolicy {
	return SchedulePolicy{
		tickInterval: tickInterval,
		maxFailures:  maxFailures,
	}
}

// TickInterval returns the global tick interval.
func (p SchedulePolicy) TickInterval() time.Duration { return p.tickInterval }

// MaxFailures returns the failure streak at which a repo is parked.
func (p SchedulePolicy) MaxFailures() int { return p.maxFailures }

// RefreshInterval returns the effective refresh window for a repository:
// the larger of its own floor and the global tick interval.
func (p SchedulePolicy) RefreshInterval(desc Descriptor) time.Duration {
	if desc.MinRefreshInterval() > p.tickInterval {
		return desc.MinRefreshInterval()
	}
	return p.tickInterval
}

// Eligible reports whether a repository should be scheduled at now. A nil
// state means the repo has never run and is always eligible. force bypasses
// every block: a running status, a parked failure streak, a backoff window,
// and the too-recent window.
func (p SchedulePolicy) Eligible(desc Descriptor, state *State, now time.Time, force bool) bool {
	if state == nil {
		return true
	}
	if force {
		return true
	}
	if state.Status() == RunStatusRunning {
		return false
	}
	if p.maxFailures > 0 && state.ConsecutiveFailures() >= p.maxFailures {
		return false
	}
	if next := state.NextEligibleAt(); !next.IsZero() && now.Before(next) {
		return false
	}
	if fin := state.LastRunFinishedAt(); !fin.IsZero() && now.Sub(fin) < p.RefreshInterval(desc) {
		return false
	}
	return true
}
