package service

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/llmc-dev/ragd/domain/fleet"
	"github.com/llmc-dev/ragd/internal/metrics"
)

// Scheduler owns the tick loop: drain control flags, load the fleet, decide
// eligibility, and hand jobs to the worker pool. Per-tick errors are logged
// and never stop the loop.
type Scheduler struct {
	registry fleet.Registry
	states   fleet.StateStore
	control  fleet.ControlSurface
	pool     *WorkerPool
	policy   fleet.SchedulePolicy
	interval time.Duration
	maxJobs  int
	logger   *slog.Logger
}

// NewScheduler wires the tick loop. interval and maxJobs come from the
// daemon config; policy decides per-repo eligibility.
func NewScheduler(
	registry fleet.Registry,
	states fleet.StateStore,
	control fleet.ControlSurface,
	pool *WorkerPool,
	policy fleet.SchedulePolicy,
	interval time.Duration,
	maxJobs int,
	logger *slog.Logger,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		registry: registry,
		states:   states,
		control:  control,
		pool:     pool,
		policy:   policy,
		interval: interval,
		maxJobs:  maxJobs,
		logger:   logger,
	}
}

// Run loops until the context is cancelled or a shutdown flag arrives, then
// drains the worker pool and returns. In-flight jobs are never cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.RecoverStale(ctx)

	s.logger.Info("scheduler started",
		slog.Duration("tick_interval", s.interval),
		slog.Int("max_concurrent_jobs", s.maxJobs),
	)

	timer := time.NewTimer(s.nextSleep())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping, draining workers")
			s.pool.Drain()
			return nil
		case <-timer.C:
		}

		if shutdown := s.Tick(ctx); shutdown {
			s.logger.Info("shutdown flag received, draining workers")
			s.pool.Drain()
			return nil
		}
		timer.Reset(s.nextSleep())
	}
}

// Tick runs one scheduler iteration and reports whether a shutdown flag was
// read. Exported so the one-shot CLI command can reuse the exact loop body.
func (s *Scheduler) Tick(ctx context.Context) bool {
	start := time.Now()
	metrics.TicksTotal.Inc()
	defer func() {
		metrics.TickDuration.Observe(time.Since(start).Seconds())
	}()

	events, err := s.control.Read(ctx)
	if err != nil {
		s.logger.Warn("control surface read failed", slog.String("error", err.Error()))
		events = fleet.NewControlEvents()
	}
	if events.Shutdown() {
		return true
	}

	repos, err := s.registry.Load(ctx)
	if err != nil {
		s.logger.Error("registry load failed", slog.String("error", err.Error()))
		return false
	}
	metrics.ReposRegistered.Set(float64(len(repos)))

	states, err := s.states.LoadAll(ctx)
	if err != nil {
		s.logger.Error("state load failed", slog.String("error", err.Error()))
		return false
	}

	running := s.pool.RunningRepoIDs()
	now := time.Now()

	// Registry iteration order defines submission order when jobs contend
	// for slots; sort so contention resolves the same way every tick.
	ids := make([]string, 0, len(repos))
	for id := range repos {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var eligible []fleet.Descriptor
	for _, id := range ids {
		if running[id] {
			continue
		}

		var statePtr *fleet.State
		if st, ok := states[id]; ok {
			statePtr = &st
		}
		if s.policy.Eligible(repos[id], statePtr, now, events.Forces(id)) {
			eligible = append(eligible, repos[id])
		}
	}

	slots := s.maxJobs - len(running)
	if slots < 0 {
		slots = 0
	}
	batch := eligible
	if len(batch) > slots {
		batch = batch[:slots]
	}

	accepted := s.pool.Submit(ctx, batch)
	if deferred := len(eligible) - len(batch); deferred > 0 {
		s.logger.Info("deferring eligible repos, no free slots",
			slog.Int("deferred", deferred),
			slog.Int("running", len(running)),
		)
	}
	s.logger.Debug("tick complete",
		slog.Int("registered", len(repos)),
		slog.Int("eligible", len(eligible)),
		slog.Int("submitted", accepted),
		slog.Duration("took", time.Since(start)),
	)
	return false
}

// RecoverStale marks repos left in running state by a crashed daemon as
// errored so they become eligible again. Run calls it once at startup; the
// one-shot tick command calls it directly since each invocation is a fresh
// process.
func (s *Scheduler) RecoverStale(ctx context.Context) {
	states, err := s.states.LoadAll(ctx)
	if err != nil {
		s.logger.Warn("could not load states for crash recovery",
			slog.String("error", err.Error()))
		return
	}

	ids := make([]string, 0, len(states))
	for id, st := range states {
		if st.Status() == fleet.RunStatusRunning {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		s.logger.Warn("recovering stale running state", slog.String("repo_id", id))
		if _, err := s.states.Update(ctx, id, func(cur fleet.State) fleet.State {
			if cur.Status() != fleet.RunStatusRunning {
				return cur
			}
			return cur.Recovered()
		}); err != nil {
			s.logger.Warn("could not recover stale state",
				slog.String("repo_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
}

// nextSleep returns the tick interval plus uniform jitter up to half the
// interval, so ticks never lock onto other periodic work on the host.
func (s *Scheduler) nextSleep() time.Duration {
	if s.interval <= 0 {
		return time.Second
	}
	jitter := time.Duration(0)
	if half := s.interval / 2; half > 0 {
		jitter = rand.N(half)
	}
	return s.interval + jitter
}
