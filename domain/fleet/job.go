package fleet

import "context"

// JobResult is the outcome of one repository job. Failures are in-band:
// the runner never returns an error, it returns a failed result, so the
// worker pool has exactly one path for applying outcomes to state.
type JobResult struct {
	success     bool
	exitCode    int
	errorReason string
	summary     map[string]any
	stdoutTail  string
	stderrTail  string
}

// SuccessResult creates the result of a job that completed. summary carries
// the job's counters (files indexed, spans enriched, and so on).
func SuccessResult(summary map[string]any) JobResult {
	return JobResult{success: true, exitCode: 0, summary: copySummary(summary)}
}

// FailureResult creates the result of a job that failed. exitCode is the
// subprocess exit code, or -1 for in-process failures and panics.
func FailureResult(exitCode int, reason string, summary map[string]any) JobResult {
	return JobResult{
		success:     false,
		exitCode:    exitCode,
		errorReason: reason,
		summary:     copySummary(summary),
	}
}

// WithOutputTails returns a copy carrying the last chunk of the job's
// stdout and stderr, for subprocess runners.
func (r JobResult) WithOutputTails(stdout, stderr string) JobResult {
	r.stdoutTail = stdout
	r.stderrTail = stderr
	return r
}

// Success reports whether the job completed.
func (r JobResult) Success() bool { return r.success }

// ExitCode returns the job's exit code; zero on success.
func (r JobResult) ExitCode() int { return r.exitCode }

// ErrorReason returns why the job failed; empty on success.
func (r JobResult) ErrorReason() string { return r.errorReason }

// Summary returns a copy of the job's counters.
func (r JobResult) Summary() map[string]any { return copySummary(r.summary) }

// StdoutTail returns the tail of the job's standard output.
func (r JobResult) StdoutTail() string { return r.stdoutTail }

// StderrTail returns the tail of the job's standard error.
func (r JobResult) StderrTail() string { return r.stderrTail }

// JobRunner executes one repository job: index, enrich, embed. The context
// carries the job time budget; runners must stop at its deadline and report
// what they finished.
type JobRunner interface {
	Run(ctx context.Context, repo Descriptor) JobResult
}
