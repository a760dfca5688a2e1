package runner

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmc-dev/ragd/domain/fleet"
)

// writeScript materializes a shell script in a temp dir and returns its path.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixtures not supported on Windows")
	}
	path := filepath.Join(t.TempDir(), "runner.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func testRepo(t *testing.T, profile string) fleet.Descriptor {
	t.Helper()
	dir := t.TempDir()
	return fleet.NewDescriptor(
		filepath.Join(dir, "repo"),
		filepath.Join(dir, "workspace"),
		"test-repo",
		profile,
	)
}

func TestSubprocessRunner_PassesContractArgs(t *testing.T) {
	script := writeScript(t, `echo "$@"`)
	runner := NewSubprocessRunner(script, slog.Default())
	repo := testRepo(t, "docs")

	result := runner.Run(context.Background(), repo)

	require.True(t, result.Success())
	assert.Equal(t, 0, result.ExitCode())
	assert.Empty(t, result.ErrorReason())

	argLine := strings.TrimSpace(result.StdoutTail())
	assert.Equal(t,
		"--repo "+repo.RepoPath()+" --workspace "+repo.WorkspacePath()+" --profile docs",
		argLine,
	)
}

func TestSubprocessRunner_OmitsEmptyProfile(t *testing.T) {
	script := writeScript(t, `echo "$@"`)
	runner := NewSubprocessRunner(script, slog.Default())
	repo := testRepo(t, "")

	result := runner.Run(context.Background(), repo)

	require.True(t, result.Success())
	assert.NotContains(t, result.StdoutTail(), "--profile")
}

func TestSubprocessRunner_KeepsCommandArgsFirst(t *testing.T) {
	script := writeScript(t, `echo "$@"`)
	runner := NewSubprocessRunner(script+" --verbose", slog.Default())

	result := runner.Run(context.Background(), testRepo(t, ""))

	require.True(t, result.Success())
	assert.True(t, strings.HasPrefix(strings.TrimSpace(result.StdoutTail()), "--verbose --repo "),
		"command's own args must precede the injected contract args: %q", result.StdoutTail())
}

func TestSubprocessRunner_ParsesSummaryLine(t *testing.T) {
	script := writeScript(t, `echo "indexing..."
echo '{"files_indexed":3,"spans_added":7}'`)
	runner := NewSubprocessRunner(script, slog.Default())

	result := runner.Run(context.Background(), testRepo(t, ""))

	require.True(t, result.Success())
	summary := result.Summary()
	require.NotNil(t, summary)
	assert.Equal(t, float64(3), summary["files_indexed"])
	assert.Equal(t, float64(7), summary["spans_added"])
}

func TestSubprocessRunner_NoSummaryWhenLastLineNotJSON(t *testing.T) {
	script := writeScript(t, `echo "all done"`)
	runner := NewSubprocessRunner(script, slog.Default())

	result := runner.Run(context.Background(), testRepo(t, ""))

	require.True(t, result.Success())
	assert.Nil(t, result.Summary())
}

func TestSubprocessRunner_FailureReasonFromStderr(t *testing.T) {
	script := writeScript(t, `echo "boom: cannot open index" >&2
exit 3`)
	runner := NewSubprocessRunner(script, slog.Default())

	result := runner.Run(context.Background(), testRepo(t, ""))

	require.False(t, result.Success())
	assert.Equal(t, 3, result.ExitCode())
	assert.Equal(t, "boom: cannot open index", result.ErrorReason())
	assert.Contains(t, result.StderrTail(), "boom")
}

func TestSubprocessRunner_FailureReasonFromExitCode(t *testing.T) {
	script := writeScript(t, `exit 7`)
	runner := NewSubprocessRunner(script, slog.Default())

	result := runner.Run(context.Background(), testRepo(t, ""))

	require.False(t, result.Success())
	assert.Equal(t, 7, result.ExitCode())
	assert.Equal(t, "exit_code=7", result.ErrorReason())
}

func TestSubprocessRunner_FailureKeepsPartialSummary(t *testing.T) {
	script := writeScript(t, `echo '{"files_indexed":2}'
echo "enrichment backend unreachable" >&2
exit 1`)
	runner := NewSubprocessRunner(script, slog.Default())

	result := runner.Run(context.Background(), testRepo(t, ""))

	require.False(t, result.Success())
	require.NotNil(t, result.Summary())
	assert.Equal(t, float64(2), result.Summary()["files_indexed"])
}

func TestSubprocessRunner_MissingBinary(t *testing.T) {
	runner := NewSubprocessRunner(filepath.Join(t.TempDir(), "does-not-exist"), slog.Default())

	result := runner.Run(context.Background(), testRepo(t, ""))

	require.False(t, result.Success())
	assert.Equal(t, -1, result.ExitCode())
	assert.NotEmpty(t, result.ErrorReason())
}

func TestSubprocessRunner_EmptyCommand(t *testing.T) {
	runner := NewSubprocessRunner("   ", slog.Default())

	result := runner.Run(context.Background(), testRepo(t, ""))

	require.False(t, result.Success())
	assert.Equal(t, -1, result.ExitCode())
	assert.Equal(t, "job runner command is empty", result.ErrorReason())
}

func TestSubprocessRunner_ContextDeadlineKillsJob(t *testing.T) {
	script := writeScript(t, `exec sleep 10`)
	runner := NewSubprocessRunner(script, slog.Default())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	result := runner.Run(ctx, testRepo(t, ""))

	require.False(t, result.Success())
	assert.Equal(t, -1, result.ExitCode())
	assert.Contains(t, result.ErrorReason(), "deadline exceeded")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSubprocessRunner_TailsAreBounded(t *testing.T) {
	// 3000 bytes of filler, then a marker that must survive in the tail.
	script := writeScript(t, `head -c 3000 /dev/zero | tr '\0' x
printf 'TAIL-END'`)
	runner := NewSubprocessRunner(script, slog.Default())

	result := runner.Run(context.Background(), testRepo(t, ""))

	require.True(t, result.Success())
	assert.Len(t, result.StdoutTail(), maxTailBytes)
	assert.True(t, strings.HasSuffix(result.StdoutTail(), "TAIL-END"))
}

func TestTailBuffer(t *testing.T) {
	var b tailBuffer
	for range 3 {
		n, err := b.Write([]byte(strings.Repeat("a", 900)))
		require.NoError(t, err)
		assert.Equal(t, 900, n)
	}
	_, err := b.Write([]byte("zzz"))
	require.NoError(t, err)

	assert.Len(t, b.String(), maxTailBytes)
	assert.True(t, strings.HasSuffix(b.String(), "zzz"))
}

func TestFuncAdapter(t *testing.T) {
	var got fleet.Descriptor
	fn := Func(func(_ context.Context, repo fleet.Descriptor) fleet.JobResult {
		got = repo
		return fleet.SuccessResult(map[string]any{"spans_added": 1})
	})

	repo := testRepo(t, "code")
	result := fn.Run(context.Background(), repo)

	require.True(t, result.Success())
	assert.Equal(t, repo.RepoID(), got.RepoID())
}
