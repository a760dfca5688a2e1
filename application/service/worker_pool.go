package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/llmc-dev/ragd/domain/fleet"
	"github.com/llmc-dev/ragd/internal/metrics"
)

// WorkerPool runs refresh jobs, at most one per repository at any instant.
// The running-set lock protects only membership changes and never wraps I/O.
type WorkerPool struct {
	states  fleet.StateStore
	runner  fleet.JobRunner
	policy  fleet.SchedulePolicy
	backoff fleet.Backoff
	budget  time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	running map[string]bool
	wg      sync.WaitGroup
}

// NewWorkerPool creates a pool that runs jobs through runner and records
// outcomes in states. budget caps each job's wall-clock time; zero means
// no cap.
func NewWorkerPool(
	states fleet.StateStore,
	runner fleet.JobRunner,
	policy fleet.SchedulePolicy,
	backoff fleet.Backoff,
	budget time.Duration,
	logger *slog.Logger,
) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		states:  states,
		runner:  runner,
		policy:  policy,
		backoff: backoff,
		budget:  budget,
		logger:  logger,
		running: make(map[string]bool),
	}
}

// RunningRepoIDs returns a snapshot of the repos currently owned by a worker.
func (p *WorkerPool) RunningRepoIDs() map[string]bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]bool, len(p.running))
	for id := range p.running {
		out[id] = true
	}
	return out
}

// Submit schedules each descriptor in order. A repo already owned by a
// worker is dropped silently. Returns the number of jobs accepted.
func (p *WorkerPool) Submit(ctx context.Context, jobs []fleet.Descriptor) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	accepted := 0
	for _, desc := range jobs {
		if p.running[desc.RepoID()] {
			continue
		}
		p.running[desc.RepoID()] = true
		metrics.RunningJobs.Inc()
		accepted++

		p.wg.Go(func() {
			defer p.release(desc.RepoID())
			p.runJob(ctx, desc)
		})
	}
	return accepted
}

// Drain blocks until every in-flight job has finished.
func (p *WorkerPool) Drain() {
	p.wg.Wait()
}

func (p *WorkerPool) release(repoID string) {
	p.mu.Lock()
	delete(p.running, repoID)
	p.mu.Unlock()
	metrics.RunningJobs.Dec()
}

// runJob owns the full lifecycle of one refresh: mark the repo running,
// invoke the runner, record the outcome. The job keeps going when the
// scheduler's context is cancelled; shutdown never kills in-flight work.
func (p *WorkerPool) runJob(ctx context.Context, desc fleet.Descriptor) {
	opCtx := context.WithoutCancel(ctx)

	jobID := uuid.NewString()
	logger := p.logger.With(
		slog.String("job_id", jobID),
		slog.String("repo_id", desc.RepoID()),
	)

	start := time.Now()
	logger.Debug("job started", slog.String("repo_path", desc.RepoPath()))
	if _, err := p.states.Update(opCtx, desc.RepoID(), func(s fleet.State) fleet.State {
		return s.Started(start)
	}); err != nil {
		logger.Warn("could not mark repo running", slog.String("error", err.Error()))
	}

	result := p.invoke(opCtx, desc, logger)

	finished := time.Now()
	duration := finished.Sub(start)
	metrics.JobDuration.Observe(duration.Seconds())

	// The correlation id ties the persisted state back to this job's log
	// lines and the subprocess runner's summary line.
	summary := result.Summary()
	if summary == nil {
		summary = map[string]any{}
	}
	summary["job_id"] = jobID

	if result.Success() {
		metrics.JobsTotal.WithLabelValues("success").Inc()
		logger.Info("job finished", slog.Duration("duration", duration))
		if _, err := p.states.Update(opCtx, desc.RepoID(), func(s fleet.State) fleet.State {
			return s.Succeeded(finished, p.policy.RefreshInterval(desc), summary)
		}); err != nil {
			logger.Warn("could not record job success", slog.String("error", err.Error()))
		}
		return
	}

	metrics.JobsTotal.WithLabelValues("failure").Inc()
	logger.Warn("job failed",
		slog.Int("exit_code", result.ExitCode()),
		slog.String("reason", result.ErrorReason()),
		slog.Duration("duration", duration),
	)
	if _, err := p.states.Update(opCtx, desc.RepoID(), func(s fleet.State) fleet.State {
		return s.Failed(finished, result.ErrorReason(), p.backoff, summary)
	}); err != nil {
		logger.Warn("could not record job failure", slog.String("error", err.Error()))
	}
}

// invoke runs the job under its time budget, converting a panic in the
// runner into a job failure.
func (p *WorkerPool) invoke(ctx context.Context, desc fleet.Descriptor, logger *slog.Logger) (result fleet.JobResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", slog.Any("panic", r))
			result = fleet.FailureResult(-1, fmt.Sprintf("job panicked: %v", r), nil)
		}
	}()

	if p.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.budget)
		defer cancel()
	}
	return p.runner.Run(ctx, desc)
}
