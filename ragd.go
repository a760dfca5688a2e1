// Package ragd keeps code-understanding indexes fresh for a fleet of local
// repositories. A daemon ticks a jittered scheduler over a YAML registry,
// hands stale repositories to a bounded worker pool, and each job reconciles
// the repo's span index, LLM enrichments, and vector embeddings inside the
// repo's workspace. The same index serves similarity search to the status
// API and the MCP surface.
//
// Basic usage:
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	daemon, err := ragd.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer daemon.Close()
//
//	// Blocks until ctx is cancelled or a shutdown flag arrives.
//	if err := daemon.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package ragd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/llmc-dev/ragd/application/service"
	"github.com/llmc-dev/ragd/domain/fleet"
	"github.com/llmc-dev/ragd/domain/index"
	"github.com/llmc-dev/ragd/infrastructure/api"
	"github.com/llmc-dev/ragd/infrastructure/control"
	"github.com/llmc-dev/ragd/infrastructure/indexstore"
	"github.com/llmc-dev/ragd/infrastructure/provider"
	"github.com/llmc-dev/ragd/infrastructure/registry"
	"github.com/llmc-dev/ragd/infrastructure/runner"
	"github.com/llmc-dev/ragd/infrastructure/slicing"
	"github.com/llmc-dev/ragd/infrastructure/state"
	"github.com/llmc-dev/ragd/internal/config"
)

// ErrDaemonClosed indicates the daemon has been closed.
var ErrDaemonClosed = errors.New("ragd: daemon is closed")

// apiShutdownGrace bounds how long the status API may take to drain once the
// scheduler has stopped.
const apiShutdownGrace = 5 * time.Second

// Daemon is the main entry point for the ragd library. New wires every
// collaborator from the AppConfig; nothing runs until Run is called.
//
// Access resources via struct fields:
//
//	daemon.Search.Search(ctx, repoRef, "parse the registry")
//	daemon.Jobs.Run(ctx, descriptor)
type Daemon struct {
	// Public service fields (direct service access)
	Search *service.SearchService
	Jobs   *service.JobService

	registry  fleet.Registry
	states    fleet.StateStore
	control   fleet.ControlSurface
	opener    index.StoreOpener
	pool      *service.WorkerPool
	scheduler *service.Scheduler
	statusAPI *api.Server

	embedders map[string]provider.Embedder
	closers   []io.Closer

	cfg     config.AppConfig
	version string
	logger  *slog.Logger
	closed  atomic.Bool
	mu      sync.Mutex
}

// New creates a Daemon from a validated config. Options override individual
// collaborators; everything left nil is built from cfg.
func New(cfg config.AppConfig, opts ...Option) (*Daemon, error) {
	dcfg := newDaemonConfig()
	for _, opt := range opts {
		opt(dcfg)
	}

	logger := dcfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("prepare daemon directories: %w", err)
	}

	reg := dcfg.registry
	if reg == nil {
		reg = registry.NewFileRegistry(cfg.RegistryPath(), cfg.ReposRoot(), logger)
	}
	stateStore := dcfg.states
	if stateStore == nil {
		stateStore = state.NewFileStore(cfg.StateDir(), logger)
	}
	flags := dcfg.control
	if flags == nil {
		flags = control.NewFlagSurface(cfg.ControlDir(), logger)
	}
	opener := dcfg.opener
	if opener == nil {
		opener = indexstore.NewOpener(logger)
	}

	embedders := buildEmbedders(cfg, dcfg, logger)
	engine := service.NewEmbeddingEngine(cfg, embedders, logger)

	local := dcfg.local
	if local == nil {
		local = provider.NewOpenAICompletion(completionConfig(cfg.Local()))
	}
	gateway := dcfg.gateway
	if gateway == nil {
		gateway = provider.NewGatewayCompletion(gatewayConfig(cfg.Gateway()))
	}

	// The in-process runner is always built: it backs `ragd job` and is the
	// pool's runner when no job_runner_cmd is configured.
	jobs := service.NewJobService(cfg, opener, slicing.NewHeuristic(), local, gateway, engine, logger)

	jobRunner := dcfg.runner
	if jobRunner == nil {
		if cmd := cfg.JobRunnerCmd(); cmd != "" {
			jobRunner = runner.NewSubprocessRunner(cmd, logger)
		} else {
			jobRunner = jobs
		}
	}

	policy := fleet.NewSchedulePolicy(cfg.TickInterval(), cfg.MaxConsecutiveFailures())
	backoff := fleet.NewBackoff(cfg.BaseBackoff(), cfg.MaxBackoff())
	pool := service.NewWorkerPool(stateStore, jobRunner, policy, backoff, cfg.JobTimeBudget(), logger)
	scheduler := service.NewScheduler(reg, stateStore, flags, pool, policy, cfg.TickInterval(), cfg.MaxConcurrentJobs(), logger)

	d := &Daemon{
		Search:    service.NewSearchService(reg, opener, engine, service.NewRouteClassifier(), logger),
		Jobs:      jobs,
		registry:  reg,
		states:    stateStore,
		control:   flags,
		opener:    opener,
		pool:      pool,
		scheduler: scheduler,
		embedders: embedders,
		closers:   dcfg.closers,
		cfg:       cfg,
		version:   dcfg.version,
		logger:    logger,
	}

	if addr := cfg.APIAddr(); addr != "" {
		status := api.NewStatusServer(reg, stateStore, opener, dcfg.version, logger)
		d.statusAPI = api.NewServer(addr, status.Handler(), logger)
	}

	return d, nil
}

// Run starts the scheduler loop and, when configured, the status API, then
// blocks until the context is cancelled or a shutdown flag is consumed.
// Cancellation stops new job submissions and drains running jobs; it never
// kills them.
func (d *Daemon) Run(ctx context.Context) error {
	if d.closed.Load() {
		return ErrDaemonClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// A shutdown flag stops the scheduler without cancelling the outer
		// context; cancel here so the status API goes down with it.
		defer cancel()
		return d.scheduler.Run(gctx)
	})
	if d.statusAPI != nil {
		g.Go(func() error { return d.statusAPI.Start() })
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, stop := context.WithTimeout(context.Background(), apiShutdownGrace)
			defer stop()
			return d.statusAPI.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}

// RunTick executes one scheduler pass and waits for every job it started,
// reporting whether a shutdown flag was consumed. Each invocation is a fresh
// process, so states left running by a crashed daemon are recovered first.
func (d *Daemon) RunTick(ctx context.Context) bool {
	d.scheduler.RecoverStale(ctx)
	shutdown := d.scheduler.Tick(ctx)
	d.pool.Drain()
	return shutdown
}

// Close releases provider resources. A second call reports ErrDaemonClosed.
func (d *Daemon) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return ErrDaemonClosed
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for name, emb := range d.embedders {
		if err := emb.Close(); err != nil {
			d.logger.Error("failed to close embedder",
				slog.String("profile", name), slog.Any("error", err))
		}
	}
	for _, closer := range d.closers {
		if err := closer.Close(); err != nil {
			d.logger.Error("failed to close resource", slog.Any("error", err))
		}
	}

	d.logger.Info("daemon closed")
	return nil
}

// Registry returns the repository registry.
func (d *Daemon) Registry() fleet.Registry { return d.registry }

// States returns the per-repo run state store.
func (d *Daemon) States() fleet.StateStore { return d.states }

// Config returns the daemon configuration.
func (d *Daemon) Config() config.AppConfig { return d.cfg }

// Version returns the build version string.
func (d *Daemon) Version() string { return d.version }

// Logger returns the daemon's logger.
func (d *Daemon) Logger() *slog.Logger { return d.logger }

// buildEmbedders constructs one embedder per configured profile, honoring
// injected overrides. Profiles on the openai provider read credentials from
// the environment so keys never live in the config file; local profiles run
// in-process via hugot with models cached under the daemon home.
func buildEmbedders(cfg config.AppConfig, dcfg *daemonConfig, logger *slog.Logger) map[string]provider.Embedder {
	modelDir := filepath.Join(cfg.HomeRoot(), "models")

	embedders := make(map[string]provider.Embedder, len(cfg.Profiles()))
	for name, prof := range cfg.Profiles() {
		if injected, ok := dcfg.embedders[name]; ok {
			embedders[name] = injected
			continue
		}
		switch prof.Provider() {
		case "openai":
			embedders[name] = provider.NewOpenAIEmbedder(provider.EmbedderConfig{
				BaseURL:       os.Getenv("OPENAI_BASE_URL"),
				APIKey:        os.Getenv("OPENAI_API_KEY"),
				Model:         prof.Model(),
				Dimension:     prof.Dimension(),
				QueryPrefix:   prof.QueryPrefix(),
				PassagePrefix: prof.PassagePrefix(),
				BatchSize:     cfg.EmbedBatchSize(),
			})
		default:
			hugot := provider.NewHugotEmbedder(provider.HugotConfig{
				CacheDir:      modelDir,
				Dimension:     prof.Dimension(),
				QueryPrefix:   prof.QueryPrefix(),
				PassagePrefix: prof.PassagePrefix(),
			})
			if !hugot.Available() {
				// Not fatal: the daemon must keep scheduling; embedding
				// batches for this profile fail until a model is installed.
				logger.Warn("no local embedding model found, embedding will fail for this profile",
					slog.String("profile", name),
					slog.String("model_dir", modelDir),
				)
			}
			embedders[name] = hugot
		}
	}
	return embedders
}

// completionConfig maps the configured local endpoint onto the
// OpenAI-protocol completion client.
func completionConfig(ep config.Endpoint) provider.CompletionConfig {
	return provider.CompletionConfig{
		BaseURL:       ep.BaseURL(),
		APIKey:        ep.APIKey(),
		Model:         ep.Model(),
		Timeout:       ep.Timeout(),
		MaxRetries:    ep.MaxRetries(),
		InitialDelay:  ep.InitialDelay(),
		BackoffFactor: ep.BackoffFactor(),
	}
}

// gatewayConfig maps the configured gateway endpoint onto the messages-API
// completion client.
func gatewayConfig(ep config.Endpoint) provider.GatewayConfig {
	return provider.GatewayConfig{
		Endpoint:      ep.BaseURL(),
		APIKey:        ep.APIKey(),
		Model:         ep.Model(),
		Timeout:       ep.Timeout(),
		MaxRetries:    ep.MaxRetries(),
		InitialDelay:  ep.InitialDelay(),
		BackoffFactor: ep.BackoffFactor(),
	}
}
