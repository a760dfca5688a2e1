// Package runner executes per-repository index jobs behind the
// fleet.JobRunner interface. SubprocessRunner spawns an external binary per
// job, keeping a process boundary between the daemon and the job body: a
// crashing or hung job kills its own process, never a daemon worker. Func
// adapts an in-process function for embedded deployments and tests.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/llmc-dev/ragd/domain/fleet"
)

// maxTailBytes bounds the captured stdout/stderr carried on a JobResult.
const maxTailBytes = 2000

// waitDelay unblocks Wait when a grandchild process inherits the output
// pipes and outlives the killed job.
const waitDelay = 10 * time.Second

// Func adapts a function to the fleet.JobRunner interface.
type Func func(ctx context.Context, repo fleet.Descriptor) fleet.JobResult

// Run invokes the wrapped function.
func (f Func) Run(ctx context.Context, repo fleet.Descriptor) fleet.JobResult {
	return f(ctx, repo)
}

// SubprocessRunner runs each job as a child process. The child receives the
// repository and workspace paths on its argv and reports through its exit
// code: zero is success, anything else a failure whose reason is the stderr
// tail. The context bounds the child's lifetime; an expired context kills it.
type SubprocessRunner struct {
	argv   []string
	logger *slog.Logger
}

// NewSubprocessRunner creates a runner invoking command, a space-separated
// program plus leading arguments, for every job.
func NewSubprocessRunner(command string, logger *slog.Logger) *SubprocessRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubprocessRunner{argv: strings.Fields(command), logger: logger}
}

// Run executes one job for repo and reports its outcome. Failures are
// in-band: a missing binary, a non-zero exit, or a context kill all come
// back as a failed JobResult, never a panic or an error.
func (r *SubprocessRunner) Run(ctx context.Context, repo fleet.Descriptor) fleet.JobResult {
	if len(r.argv) == 0 {
		return fleet.FailureResult(-1, "job runner command is empty", nil)
	}

	args := append([]string{}, r.argv[1:]...)
	args = append(args, "--repo", repo.RepoPath(), "--workspace", repo.WorkspacePath())
	if repo.Profile() != "" {
		args = append(args, "--profile", repo.Profile())
	}

	var stdout, stderr tailBuffer
	cmd := exec.CommandContext(ctx, r.argv[0], args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	r.logger.Debug("starting job subprocess",
		"repo_id", repo.RepoID(),
		"command", r.argv[0],
	)

	start := time.Now()
	err := cmd.Run()

	if err == nil {
		r.logger.Debug("job subprocess finished",
			"repo_id", repo.RepoID(),
			"duration", time.Since(start),
		)
		return fleet.SuccessResult(parseSummary(stdout.String())).
			WithOutputTails(stdout.String(), stderr.String())
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}

	reason := strings.TrimSpace(stderr.String())
	switch {
	case ctx.Err() != nil:
		reason = "job killed: " + ctx.Err().Error()
	case reason != "":
		// stderr tail is the reason
	case exitCode >= 0:
		reason = fmt.Sprintf("exit_code=%d", exitCode)
	default:
		reason = err.Error()
	}

	r.logger.Warn("job subprocess failed",
		"repo_id", repo.RepoID(),
		"exit_code", exitCode,
		"duration", time.Since(start),
		"reason", reason,
	)
	return fleet.FailureResult(exitCode, reason, parseSummary(stdout.String())).
		WithOutputTails(stdout.String(), stderr.String())
}

// parseSummary recovers the JSON summary a job child prints as its final
// stdout line. Output that does not end in a JSON object simply yields no
// summary; the tails still carry the raw text.
func parseSummary(stdoutTail string) map[string]any {
	trimmed := strings.TrimSpace(stdoutTail)
	if trimmed == "" {
		return nil
	}
	lines := strings.Split(trimmed, "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if !strings.HasPrefix(last, "{") {
		return nil
	}
	var summary map[string]any
	if err := json.Unmarshal([]byte(last), &summary); err != nil {
		return nil
	}
	return summary
}

// tailBuffer is an io.Writer keeping only the last maxTailBytes written.
type tailBuffer struct {
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - maxTailBytes; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return string(b.buf)
}
