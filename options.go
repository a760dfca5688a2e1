package ragd

import (
	"io"
	"log/slog"

	"github.com/llmc-dev/ragd/domain/fleet"
	"github.com/llmc-dev/ragd/domain/index"
	"github.com/llmc-dev/ragd/infrastructure/provider"
)

// daemonConfig holds construction-time overrides for New. Fields left nil
// fall back to the production wiring derived from the AppConfig.
type daemonConfig struct {
	logger    *slog.Logger
	version   string
	registry  fleet.Registry
	states    fleet.StateStore
	control   fleet.ControlSurface
	opener    index.StoreOpener
	runner    fleet.JobRunner
	local     provider.TextGenerator
	gateway   provider.TextGenerator
	embedders map[string]provider.Embedder
	closers   []io.Closer
}

func newDaemonConfig() *daemonConfig {
	return &daemonConfig{
		version:   "dev",
		embedders: make(map[string]provider.Embedder),
	}
}

// Option configures the Daemon.
type Option func(*daemonConfig)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *daemonConfig) {
		c.logger = l
	}
}

// WithVersion sets the build version reported by the status API and the MCP
// surface. Defaults to "dev".
func WithVersion(v string) Option {
	return func(c *daemonConfig) {
		if v != "" {
			c.version = v
		}
	}
}

// WithRegistry replaces the YAML file registry.
func WithRegistry(r fleet.Registry) Option {
	return func(c *daemonConfig) {
		c.registry = r
	}
}

// WithStateStore replaces the per-repo run state store.
func WithStateStore(s fleet.StateStore) Option {
	return func(c *daemonConfig) {
		c.states = s
	}
}

// WithControlSurface replaces the flag-file control surface.
func WithControlSurface(s fleet.ControlSurface) Option {
	return func(c *daemonConfig) {
		c.control = s
	}
}

// WithStoreOpener replaces the per-repo index store opener.
func WithStoreOpener(o index.StoreOpener) Option {
	return func(c *daemonConfig) {
		c.opener = o
	}
}

// WithJobRunner forces a specific job runner, overriding the job_runner_cmd
// subprocess-versus-in-process choice.
func WithJobRunner(r fleet.JobRunner) Option {
	return func(c *daemonConfig) {
		c.runner = r
	}
}

// WithLocalCompletion replaces the local-tier completion backend.
func WithLocalCompletion(g provider.TextGenerator) Option {
	return func(c *daemonConfig) {
		c.local = g
	}
}

// WithGatewayCompletion replaces the gateway-tier completion backend.
func WithGatewayCompletion(g provider.TextGenerator) Option {
	return func(c *daemonConfig) {
		c.gateway = g
	}
}

// WithEmbedder installs an embedder for one profile name, replacing the
// provider the profile would otherwise select.
func WithEmbedder(profile string, e provider.Embedder) Option {
	return func(c *daemonConfig) {
		c.embedders[profile] = e
	}
}

// WithCloser registers a resource to be closed when the Daemon shuts down.
func WithCloser(closer io.Closer) Option {
	return func(c *daemonConfig) {
		c.closers = append(c.closers, closer)
	}
}
