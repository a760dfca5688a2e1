package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmc-dev/ragd/domain/fleet"
)

// stubControl pops one ControlEvents per Read.
type stubControl struct {
	mu    sync.Mutex
	queue []fleet.ControlEvents
	err   error
}

func (c *stubControl) Read(context.Context) (fleet.ControlEvents, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return fleet.ControlEvents{}, c.err
	}
	if len(c.queue) == 0 {
		return fleet.NewControlEvents(), nil
	}
	events := c.queue[0]
	c.queue = c.queue[1:]
	return events, nil
}

type schedulerFixture struct {
	scheduler *Scheduler
	registry  fakeRegistry
	states    *memStateStore
	control   *stubControl
	runner    *stubRunner
	pool      *WorkerPool
}

func newSchedulerFixture(descs []fleet.Descriptor, maxJobs int, runner *stubRunner) schedulerFixture {
	byID := make(map[string]fleet.Descriptor, len(descs))
	for _, d := range descs {
		byID[d.RepoID()] = d
	}
	registry := fakeRegistry{descs: byID}
	states := newMemStateStore()
	control := &stubControl{}
	policy := fleet.NewSchedulePolicy(time.Minute, 3)
	pool := NewWorkerPool(states, runner, policy, fleet.NewBackoff(time.Minute, time.Hour), 0, nil)
	scheduler := NewScheduler(registry, states, control, pool, policy, 10*time.Millisecond, maxJobs, nil)
	return schedulerFixture{
		scheduler: scheduler,
		registry:  registry,
		states:    states,
		control:   control,
		runner:    runner,
		pool:      pool,
	}
}

func TestScheduler_TickSubmitsEligibleRepos(t *testing.T) {
	descs := []fleet.Descriptor{
		fleet.NewDescriptor("/repos/alpha", "", "alpha", ""),
		fleet.NewDescriptor("/repos/beta", "", "beta", ""),
	}
	fx := newSchedulerFixture(descs, 8, &stubRunner{})

	shutdown := fx.scheduler.Tick(context.Background())
	assert.False(t, shutdown)
	fx.pool.Drain()

	assert.Equal(t, 2, fx.runner.callCount())
	for _, d := range descs {
		st, err := fx.states.Get(context.Background(), d.RepoID())
		require.NoError(t, err)
		assert.Equal(t, fleet.RunStatusSuccess, st.Status())
	}
}

func TestScheduler_SlotContentionIsDeterministic(t *testing.T) {
	descs := []fleet.Descriptor{
		fleet.NewDescriptor("/repos/alpha", "", "alpha", ""),
		fleet.NewDescriptor("/repos/beta", "", "beta", ""),
	}
	ids := []string{descs[0].RepoID(), descs[1].RepoID()}
	sort.Strings(ids)

	fx := newSchedulerFixture(descs, 1, &stubRunner{})
	fx.scheduler.Tick(context.Background())
	fx.pool.Drain()

	require.Equal(t, 1, fx.runner.callCount())
	fx.runner.mu.Lock()
	got := fx.runner.calls[0]
	fx.runner.mu.Unlock()
	assert.Equal(t, ids[0], got, "the lexically first repo ID wins the slot")
}

func TestScheduler_ShutdownFlagStopsTick(t *testing.T) {
	descs := []fleet.Descriptor{fleet.NewDescriptor("/repos/alpha", "", "alpha", "")}
	fx := newSchedulerFixture(descs, 8, &stubRunner{})
	fx.control.queue = []fleet.ControlEvents{fleet.NewControlEvents().WithShutdown()}

	shutdown := fx.scheduler.Tick(context.Background())
	assert.True(t, shutdown)
	fx.pool.Drain()
	assert.Zero(t, fx.runner.callCount(), "no jobs start on a shutdown tick")
}

func TestScheduler_SkipsRunningRepos(t *testing.T) {
	release := make(chan struct{})
	runner := &stubRunner{fn: func(context.Context, fleet.Descriptor) fleet.JobResult {
		<-release
		return fleet.SuccessResult(nil)
	}}
	descs := []fleet.Descriptor{fleet.NewDescriptor("/repos/alpha", "", "alpha", "")}
	fx := newSchedulerFixture(descs, 8, runner)

	ctx := context.Background()
	fx.scheduler.Tick(ctx)
	require.Eventually(t, func() bool { return fx.runner.callCount() == 1 }, time.Second, 5*time.Millisecond)

	// The repo is still owned by a worker, so the next tick passes it over.
	fx.scheduler.Tick(ctx)
	assert.Equal(t, 1, fx.runner.callCount())

	close(release)
	fx.pool.Drain()
}

func TestScheduler_ForceOverridesParkedRepo(t *testing.T) {
	desc := fleet.NewDescriptor("/repos/alpha", "", "alpha", "")
	fx := newSchedulerFixture([]fleet.Descriptor{desc}, 8, &stubRunner{})

	// Park the repo past the failure cap.
	ctx := context.Background()
	st := fleet.NewState(desc.RepoID())
	backoff := fleet.NewBackoff(time.Minute, time.Hour)
	for range 4 {
		st = st.Failed(time.Now(), "flaky", backoff, nil)
	}
	require.NoError(t, fx.states.Upsert(ctx, st))

	fx.scheduler.Tick(ctx)
	fx.pool.Drain()
	assert.Zero(t, fx.runner.callCount(), "parked repos stay parked without a force")

	fx.control.queue = []fleet.ControlEvents{fleet.NewControlEvents().WithRefreshRepo(desc.RepoID())}
	fx.scheduler.Tick(ctx)
	fx.pool.Drain()
	assert.Equal(t, 1, fx.runner.callCount(), "a refresh flag bypasses the failure cap")
}

func TestScheduler_ControlReadErrorDoesNotStopTick(t *testing.T) {
	descs := []fleet.Descriptor{fleet.NewDescriptor("/repos/alpha", "", "alpha", "")}
	fx := newSchedulerFixture(descs, 8, &stubRunner{})
	fx.control.err = errors.New("control dir unreadable")

	shutdown := fx.scheduler.Tick(context.Background())
	assert.False(t, shutdown)
	fx.pool.Drain()
	assert.Equal(t, 1, fx.runner.callCount())
}

func TestScheduler_RunRecoversStaleRunningStates(t *testing.T) {
	desc := fleet.NewDescriptor("/repos/alpha", "", "alpha", "")
	fx := newSchedulerFixture([]fleet.Descriptor{desc}, 8, &stubRunner{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A crashed daemon left the repo marked running.
	st := fleet.NewState(desc.RepoID()).Started(time.Now().Add(-time.Hour))
	require.NoError(t, fx.states.Upsert(context.Background(), st))

	require.NoError(t, fx.scheduler.Run(ctx))

	recovered, err := fx.states.Get(context.Background(), desc.RepoID())
	require.NoError(t, err)
	assert.Equal(t, fleet.RunStatusError, recovered.Status())
}

func TestScheduler_RunStopsOnShutdownFlag(t *testing.T) {
	desc := fleet.NewDescriptor("/repos/alpha", "", "alpha", "")
	fx := newSchedulerFixture([]fleet.Descriptor{desc}, 8, &stubRunner{})
	fx.control.queue = []fleet.ControlEvents{fleet.NewControlEvents().WithShutdown()}

	done := make(chan error, 1)
	go func() { done <- fx.scheduler.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not honor the shutdown flag")
	}
	assert.Zero(t, fx.runner.callCount())
}
