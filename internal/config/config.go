// Package config provides daemon configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Default configuration values.
const (
	DefaultTickIntervalSeconds    = 60
	DefaultMaxConcurrentJobs      = 2
	DefaultMaxConsecutiveFailures = 5
	DefaultBaseBackoffSeconds     = 60
	DefaultMaxBackoffSeconds      = 3600
	DefaultLogLevel               = "INFO"
	DefaultCooldownSeconds        = 120
	DefaultSnippetMaxChars        = 800
	DefaultEnrichBatchSize        = 16
	DefaultEnrichMaxBatches       = 4
	DefaultEmbedBatchSize         = 64
	DefaultEmbedMaxBatches        = 8
	DefaultJobTimeBudgetSeconds   = 900
	DefaultMaxFailuresPerSpan     = 3
	DefaultLocalBaseURL           = "http://127.0.0.1:8080/v1"
	DefaultModel7B                = "qwen2.5-coder-7b-instruct"
	DefaultModel14B               = "qwen2.5-coder-14b-instruct"
	DefaultTimeout7B              = 90 * time.Second
	DefaultTimeout14B             = 180 * time.Second
	DefaultGatewayTimeout         = 180 * time.Second
	DefaultEndpointMaxRetries     = 3
	DefaultEndpointInitialDelay   = 2 * time.Second
	DefaultEndpointBackoffFactor  = 2.0
	DefaultEndpointMaxTokens      = 4000
	DefaultRouteName              = "docs"
	DefaultLogRotateBytes         = 16 << 20
)

// Router threshold defaults.
const (
	DefaultRouterContextLimit = 8192
	DefaultRouterHeadroom     = 1024
	DefaultRouterNodeLimit    = 800
	DefaultRouterDepthLimit   = 6
	DefaultRouterArrayLimit   = 5000
	DefaultRouterCSVLimit     = 60
	DefaultRouterNestingLimit = 3
	DefaultRouterLineLow      = 60
	DefaultRouterLineHigh     = 100
	DefaultRouterTier         = "7b"
)

// Registry file and state/control directory names under the llmc home.
const (
	RegistryFileName  = "repos.yml"
	StateDirName      = "rag-state"
	ControlDirName    = "rag-control"
	DaemonLogRelPath  = "logs/rag-daemon/rag-daemon.log"
	DaemonConfigName  = "rag-daemon.yml"
	WorkspaceRelPath  = ".llmc/rag"
)

// LogFormat represents the log output format.
type LogFormat string

// LogFormat values.
const (
	LogFormatPretty LogFormat = "pretty"
	LogFormatJSON   LogFormat = "json"
)

// Endpoint configures an LLM service endpoint.
type Endpoint struct {
	baseURL       string
	model         string
	apiKey        string
	timeout       time.Duration
	maxRetries    int
	initialDelay  time.Duration
	backoffFactor float64
	maxTokens     int
}

// NewEndpoint creates a new Endpoint with defaults.
func NewEndpoint() Endpoint {
	return Endpoint{
		timeout:       DefaultTimeout7B,
		maxRetries:    DefaultEndpointMaxRetries,
		initialDelay:  DefaultEndpointInitialDelay,
		backoffFactor: DefaultEndpointBackoffFactor,
		maxTokens:     DefaultEndpointMaxTokens,
	}
}

// BaseURL returns the base URL for the endpoint.
func (e Endpoint) BaseURL() string { return e.baseURL }

// Model returns the model identifier.
func (e Endpoint) Model() string { return e.model }

// APIKey returns the API key.
func (e Endpoint) APIKey() string { return e.apiKey }

// Timeout returns the request timeout.
func (e Endpoint) Timeout() time.Duration { return e.timeout }

// MaxRetries returns the maximum retry count.
func (e Endpoint) MaxRetries() int { return e.maxRetries }

// InitialDelay returns the initial retry delay.
func (e Endpoint) InitialDelay() time.Duration { return e.initialDelay }

// BackoffFactor returns the retry backoff multiplier.
func (e Endpoint) BackoffFactor() float64 { return e.backoffFactor }

// MaxTokens returns the maximum completion token cap.
func (e Endpoint) MaxTokens() int { return e.maxTokens }

// IsConfigured returns true if the endpoint has required configuration.
func (e Endpoint) IsConfigured() bool {
	return e.baseURL != ""
}

// EndpointOption is a functional option for Endpoint.
type EndpointOption func(*Endpoint)

// WithBaseURL sets the base URL.
func WithBaseURL(url string) EndpointOption {
	return func(e *Endpoint) { e.baseURL = url }
}

// WithModel sets the model.
func WithModel(model string) EndpointOption {
	return func(e *Endpoint) { e.model = model }
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) EndpointOption {
	return func(e *Endpoint) { e.apiKey = key }
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) EndpointOption {
	return func(e *Endpoint) { e.timeout = d }
}

// WithMaxRetries sets the maximum retry count.
func WithMaxRetries(n int) EndpointOption {
	return func(e *Endpoint) { e.maxRetries = n }
}

// WithInitialDelay sets the initial retry delay.
func WithInitialDelay(d time.Duration) EndpointOption {
	return func(e *Endpoint) { e.initialDelay = d }
}

// WithBackoffFactor sets the retry backoff multiplier.
func WithBackoffFactor(f float64) EndpointOption {
	return func(e *Endpoint) { e.backoffFactor = f }
}

// WithMaxTokens sets the maximum completion token cap.
func WithMaxTokens(n int) EndpointOption {
	return func(e *Endpoint) { e.maxTokens = n }
}

// NewEndpointWithOptions creates an Endpoint with functional options.
func NewEndpointWithOptions(opts ...EndpointOption) Endpoint {
	e := NewEndpoint()
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// TierModels maps local model tiers to concrete models and call timeouts.
// The nano tier has no local model; it delegates to the gateway endpoint.
type TierModels struct {
	model7b   string
	model14b  string
	timeout7b time.Duration
	timeout14 time.Duration
}

// NewTierModels creates TierModels with defaults.
func NewTierModels() TierModels {
	return TierModels{
		model7b:   DefaultModel7B,
		model14b:  DefaultModel14B,
		timeout7b: DefaultTimeout7B,
		timeout14: DefaultTimeout14B,
	}
}

// Model7B returns the model served for the 7b tier.
func (t TierModels) Model7B() string { return t.model7b }

// Model14B returns the model served for the 14b tier.
func (t TierModels) Model14B() string { return t.model14b }

// Timeout7B returns the per-call timeout for the 7b tier.
func (t TierModels) Timeout7B() time.Duration { return t.timeout7b }

// Timeout14B returns the per-call timeout for the 14b tier.
func (t TierModels) Timeout14B() time.Duration { return t.timeout14 }

// WithModel7B returns a copy with the 7b model set.
func (t TierModels) WithModel7B(model string) TierModels {
	t.model7b = model
	return t
}

// WithModel14B returns a copy with the 14b model set.
func (t TierModels) WithModel14B(model string) TierModels {
	t.model14b = model
	return t
}

// WithTimeout7B returns a copy with the 7b timeout set.
func (t TierModels) WithTimeout7B(d time.Duration) TierModels {
	t.timeout7b = d
	return t
}

// WithTimeout14B returns a copy with the 14b timeout set.
func (t TierModels) WithTimeout14B(d time.Duration) TierModels {
	t.timeout14 = d
	return t
}

// RouterConfig holds tier selection thresholds.
type RouterConfig struct {
	contextLimit int
	headroom     int
	nodeLimit    int
	depthLimit   int
	arrayLimit   int
	csvLimit     int
	nestingLimit int
	lineLow      int
	lineHigh     int
	defaultTier  string
	promoteOnce  bool
}

// NewRouterConfig creates a RouterConfig with defaults.
func NewRouterConfig() RouterConfig {
	return RouterConfig{
		contextLimit: DefaultRouterContextLimit,
		headroom:     DefaultRouterHeadroom,
		nodeLimit:    DefaultRouterNodeLimit,
		depthLimit:   DefaultRouterDepthLimit,
		arrayLimit:   DefaultRouterArrayLimit,
		csvLimit:     DefaultRouterCSVLimit,
		nestingLimit: DefaultRouterNestingLimit,
		lineLow:      DefaultRouterLineLow,
		lineHigh:     DefaultRouterLineHigh,
		defaultTier:  DefaultRouterTier,
		promoteOnce:  true,
	}
}

// ContextLimit returns the model context window in tokens.
func (r RouterConfig) ContextLimit() int { return r.contextLimit }

// Headroom returns the token headroom reserved inside the context window.
func (r RouterConfig) Headroom() int { return r.headroom }

// NodeLimit returns the JSON node count above which work routes to the gateway.
func (r RouterConfig) NodeLimit() int { return r.nodeLimit }

// DepthLimit returns the schema depth above which work routes to the gateway.
func (r RouterConfig) DepthLimit() int { return r.depthLimit }

// ArrayLimit returns the array element count above which work routes to the gateway.
func (r RouterConfig) ArrayLimit() int { return r.arrayLimit }

// CSVLimit returns the CSV column count above which work routes to the gateway.
func (r RouterConfig) CSVLimit() int { return r.csvLimit }

// NestingLimit returns the nesting depth above which work routes to the mid tier.
func (r RouterConfig) NestingLimit() int { return r.nestingLimit }

// LineLow returns the lower line-count threshold (7b → 14b).
func (r RouterConfig) LineLow() int { return r.lineLow }

// LineHigh returns the upper line-count threshold (→ 14b outright).
func (r RouterConfig) LineHigh() int { return r.lineHigh }

// DefaultTier returns the tier used when no rule fires.
func (r RouterConfig) DefaultTier() string { return r.defaultTier }

// PromoteOnce returns whether tiers may be visited at most once per task.
func (r RouterConfig) PromoteOnce() bool { return r.promoteOnce }

// RouterOption is a functional option for RouterConfig.
type RouterOption func(*RouterConfig)

// WithContextLimit sets the context window size.
func WithContextLimit(n int) RouterOption {
	return func(r *RouterConfig) { r.contextLimit = n }
}

// WithHeadroom sets the reserved token headroom.
func WithHeadroom(n int) RouterOption {
	return func(r *RouterConfig) { r.headroom = n }
}

// WithNodeLimit sets the JSON node limit.
func WithNodeLimit(n int) RouterOption {
	return func(r *RouterConfig) { r.nodeLimit = n }
}

// WithDepthLimit sets the schema depth limit.
func WithDepthLimit(n int) RouterOption {
	return func(r *RouterConfig) { r.depthLimit = n }
}

// WithArrayLimit sets the array element limit.
func WithArrayLimit(n int) RouterOption {
	return func(r *RouterConfig) { r.arrayLimit = n }
}

// WithCSVLimit sets the CSV column limit.
func WithCSVLimit(n int) RouterOption {
	return func(r *RouterConfig) { r.csvLimit = n }
}

// WithNestingLimit sets the nesting depth limit.
func WithNestingLimit(n int) RouterOption {
	return func(r *RouterConfig) { r.nestingLimit = n }
}

// WithLineThresholds sets the low and high line-count thresholds.
func WithLineThresholds(low, high int) RouterOption {
	return func(r *RouterConfig) {
		r.lineLow = low
		r.lineHigh = high
	}
}

// WithDefaultTier sets the fallback tier.
func WithDefaultTier(tier string) RouterOption {
	return func(r *RouterConfig) { r.defaultTier = tier }
}

// WithPromoteOnce sets the promote-once policy.
func WithPromoteOnce(v bool) RouterOption {
	return func(r *RouterConfig) { r.promoteOnce = v }
}

// NewRouterConfigWithOptions creates a RouterConfig with functional options.
func NewRouterConfigWithOptions(opts ...RouterOption) RouterConfig {
	r := NewRouterConfig()
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// Profile is a named concrete embedding backend configuration.
type Profile struct {
	provider      string
	model         string
	dimension     int
	queryPrefix   string
	passagePrefix string
	edges         bool
}

// NewProfile creates a Profile.
func NewProfile(provider, model string, dimension int) Profile {
	return Profile{
		provider:  provider,
		model:     model,
		dimension: dimension,
	}
}

// Provider returns the backend provider name (openai or local).
func (p Profile) Provider() string { return p.provider }

// Model returns the embedding model identifier.
func (p Profile) Model() string { return p.model }

// Dimension returns the fixed vector dimension.
func (p Profile) Dimension() int { return p.dimension }

// QueryPrefix returns the prefix prepended to query texts.
func (p Profile) QueryPrefix() string { return p.queryPrefix }

// PassagePrefix returns the prefix prepended to passage texts.
func (p Profile) PassagePrefix() string { return p.passagePrefix }

// WithPrefixes returns a copy with query and passage prefixes set.
func (p Profile) WithPrefixes(query, passage string) Profile {
	p.queryPrefix = query
	p.passagePrefix = passage
	return p
}

// Edges reports whether enrichments under this profile feed the tech-docs
// edge graph.
func (p Profile) Edges() bool { return p.edges }

// WithEdges returns a copy with the edge graph toggled.
func (p Profile) WithEdges(enabled bool) Profile {
	p.edges = enabled
	return p
}

// Route is a named partition of the embedding space.
type Route struct {
	table   string
	profile string
}

// NewRoute creates a Route.
func NewRoute(table, profile string) Route {
	return Route{table: table, profile: profile}
}

// Table returns the embedding table name for this route.
func (r Route) Table() string { return r.table }

// Profile returns the profile key for this route.
func (r Route) Profile() string { return r.profile }

// DefaultProfiles returns the built-in embedding profiles.
func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		"default-docs": NewProfile("local", "sentence-transformers/all-MiniLM-L6-v2", 384).WithEdges(true),
		"default-code": NewProfile("openai", "text-embedding-3-small", 1536),
	}
}

// DefaultRoutes returns the built-in embedding routes.
func DefaultRoutes() map[string]Route {
	return map[string]Route{
		"docs": NewRoute("embeddings", "default-docs"),
		"code": NewRoute("emb_code", "default-code"),
	}
}

// AppConfig holds the daemon configuration. Values are immutable once built;
// construct with NewAppConfigWithOptions or Load.
type AppConfig struct {
	homeRoot               string
	registryPath           string
	stateDir               string
	controlDir             string
	logPath                string
	reposRoot              string
	tickInterval           time.Duration
	maxConcurrentJobs      int
	maxConsecutiveFailures int
	baseBackoff            time.Duration
	maxBackoff             time.Duration
	jobRunnerCmd           string
	jobTimeBudget          time.Duration
	logLevel               string
	logFormat              LogFormat
	apiAddr                string
	cooldown               time.Duration
	snippetMaxChars        int
	enrichBatchSize        int
	enrichMaxBatches       int
	embedBatchSize         int
	embedMaxBatches        int
	maxFailuresPerSpan     int
	local                  Endpoint
	gateway                Endpoint
	tierModels             TierModels
	router                 RouterConfig
	profiles               map[string]Profile
	routes                 map[string]Route
	defaultRoute           string
}

// DefaultHomeRoot returns the default llmc home directory.
func DefaultHomeRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".llmc"
	}
	return filepath.Join(home, ".llmc")
}

// NewAppConfig creates a new AppConfig with defaults.
func NewAppConfig() AppConfig {
	return AppConfig{
		homeRoot:               DefaultHomeRoot(),
		tickInterval:           DefaultTickIntervalSeconds * time.Second,
		maxConcurrentJobs:      DefaultMaxConcurrentJobs,
		maxConsecutiveFailures: DefaultMaxConsecutiveFailures,
		baseBackoff:            DefaultBaseBackoffSeconds * time.Second,
		maxBackoff:             DefaultMaxBackoffSeconds * time.Second,
		jobTimeBudget:          DefaultJobTimeBudgetSeconds * time.Second,
		logLevel:               DefaultLogLevel,
		logFormat:              LogFormatPretty,
		cooldown:               DefaultCooldownSeconds * time.Second,
		snippetMaxChars:        DefaultSnippetMaxChars,
		enrichBatchSize:        DefaultEnrichBatchSize,
		enrichMaxBatches:       DefaultEnrichMaxBatches,
		embedBatchSize:         DefaultEmbedBatchSize,
		embedMaxBatches:        DefaultEmbedMaxBatches,
		maxFailuresPerSpan:     DefaultMaxFailuresPerSpan,
		local:                  NewEndpointWithOptions(WithBaseURL(DefaultLocalBaseURL)),
		gateway:                NewEndpointWithOptions(WithTimeout(DefaultGatewayTimeout)),
		tierModels:             NewTierModels(),
		router:                 NewRouterConfig(),
		profiles:               DefaultProfiles(),
		routes:                 DefaultRoutes(),
		defaultRoute:           DefaultRouteName,
	}
}

// HomeRoot returns the llmc home directory.
func (c AppConfig) HomeRoot() string { return c.homeRoot }

// RegistryPath returns the registry file path.
func (c AppConfig) RegistryPath() string {
	if c.registryPath != "" {
		return c.registryPath
	}
	return filepath.Join(c.homeRoot, RegistryFileName)
}

// StateDir returns the per-repo state directory.
func (c AppConfig) StateDir() string {
	if c.stateDir != "" {
		return c.stateDir
	}
	return filepath.Join(c.homeRoot, StateDirName)
}

// ControlDir returns the control surface directory.
func (c AppConfig) ControlDir() string {
	if c.controlDir != "" {
		return c.controlDir
	}
	return filepath.Join(c.homeRoot, ControlDirName)
}

// LogPath returns the daemon log file path.
func (c AppConfig) LogPath() string {
	if c.logPath != "" {
		return c.logPath
	}
	return filepath.Join(c.homeRoot, filepath.FromSlash(DaemonLogRelPath))
}

// ReposRoot returns the directory all registered repos must live under.
// Empty means only the sensitive system prefixes are rejected.
func (c AppConfig) ReposRoot() string { return c.reposRoot }

// TickInterval returns the scheduler tick interval.
func (c AppConfig) TickInterval() time.Duration { return c.tickInterval }

// MaxConcurrentJobs returns the worker pool size.
func (c AppConfig) MaxConcurrentJobs() int { return c.maxConcurrentJobs }

// MaxConsecutiveFailures returns the failure count that parks a repo.
func (c AppConfig) MaxConsecutiveFailures() int { return c.maxConsecutiveFailures }

// BaseBackoff returns the first failure backoff delay.
func (c AppConfig) BaseBackoff() time.Duration { return c.baseBackoff }

// MaxBackoff returns the backoff delay ceiling.
func (c AppConfig) MaxBackoff() time.Duration { return c.maxBackoff }

// JobRunnerCmd returns the external runner command, or empty for in-process.
func (c AppConfig) JobRunnerCmd() string { return c.jobRunnerCmd }

// JobTimeBudget returns the per-job wall-clock budget.
func (c AppConfig) JobTimeBudget() time.Duration { return c.jobTimeBudget }

// LogLevel returns the log level.
func (c AppConfig) LogLevel() string { return c.logLevel }

// LogFormat returns the log format.
func (c AppConfig) LogFormat() LogFormat { return c.logFormat }

// APIAddr returns the status API listen address, or empty when disabled.
func (c AppConfig) APIAddr() string { return c.apiAddr }

// Cooldown returns the file-modification cooldown for enrichment planning.
func (c AppConfig) Cooldown() time.Duration { return c.cooldown }

// SnippetMaxChars returns the prompt snippet truncation length.
func (c AppConfig) SnippetMaxChars() int { return c.snippetMaxChars }

// EnrichBatchSize returns the enrichment batch size.
func (c AppConfig) EnrichBatchSize() int { return c.enrichBatchSize }

// EnrichMaxBatches returns the enrichment batch cap per job.
func (c AppConfig) EnrichMaxBatches() int { return c.enrichMaxBatches }

// EmbedBatchSize returns the embedding batch size.
func (c AppConfig) EmbedBatchSize() int { return c.embedBatchSize }

// EmbedMaxBatches returns the embedding batch cap per job.
func (c AppConfig) EmbedMaxBatches() int { return c.embedMaxBatches }

// MaxFailuresPerSpan returns the per-span enrichment failure cap.
func (c AppConfig) MaxFailuresPerSpan() int { return c.maxFailuresPerSpan }

// Local returns the local model server endpoint.
func (c AppConfig) Local() Endpoint { return c.local }

// Gateway returns the remote gateway endpoint.
func (c AppConfig) Gateway() Endpoint { return c.gateway }

// TierModels returns the tier-to-model mapping.
func (c AppConfig) TierModels() TierModels { return c.tierModels }

// Router returns the tier router thresholds.
func (c AppConfig) Router() RouterConfig { return c.router }

// Profiles returns the embedding profiles keyed by name.
func (c AppConfig) Profiles() map[string]Profile {
	out := make(map[string]Profile, len(c.profiles))
	for k, v := range c.profiles {
		out[k] = v
	}
	return out
}

// Routes returns the embedding routes keyed by name.
func (c AppConfig) Routes() map[string]Route {
	out := make(map[string]Route, len(c.routes))
	for k, v := range c.routes {
		out[k] = v
	}
	return out
}

// DefaultRoute returns the fallback route name.
func (c AppConfig) DefaultRoute() string { return c.defaultRoute }

// ResolveRoute returns the route and profile for name. Unknown route or
// profile names fall back to the default route; fellBack reports that.
// An unresolvable default route returns an error.
func (c AppConfig) ResolveRoute(name string) (Route, Profile, bool, error) {
	fellBack := false
	route, ok := c.routes[name]
	if !ok {
		fellBack = true
		route, ok = c.routes[c.defaultRoute]
		if !ok {
			return Route{}, Profile{}, true, fmt.Errorf("default route %q is not configured", c.defaultRoute)
		}
	}
	profile, ok := c.profiles[route.Profile()]
	if !ok {
		fellBack = true
		fallback, okRoute := c.routes[c.defaultRoute]
		if !okRoute {
			return Route{}, Profile{}, true, fmt.Errorf("default route %q is not configured", c.defaultRoute)
		}
		route = fallback
		profile, ok = c.profiles[fallback.Profile()]
		if !ok {
			return Route{}, Profile{}, true, fmt.Errorf("default profile %q is not configured", fallback.Profile())
		}
	}
	return route, profile, fellBack, nil
}

// EnsureDirs creates the home, state, control, and log directories.
func (c AppConfig) EnsureDirs() error {
	dirs := []string{
		c.HomeRoot(),
		c.StateDir(),
		c.ControlDir(),
		filepath.Dir(c.LogPath()),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Validate checks hard constraints. Invalid values are configuration errors;
// they fail startup rather than being silently corrected.
func (c AppConfig) Validate() error {
	if c.tickInterval < time.Second {
		return fmt.Errorf("tick_interval_seconds must be >= 1, got %s", c.tickInterval)
	}
	if c.maxConcurrentJobs < 0 {
		return fmt.Errorf("max_concurrent_jobs must be >= 0, got %d", c.maxConcurrentJobs)
	}
	if c.maxConsecutiveFailures < 1 {
		return fmt.Errorf("max_consecutive_failures must be >= 1, got %d", c.maxConsecutiveFailures)
	}
	if c.baseBackoff <= 0 {
		return fmt.Errorf("base_backoff_seconds must be positive, got %s", c.baseBackoff)
	}
	if c.maxBackoff < c.baseBackoff {
		return fmt.Errorf("max_backoff_seconds must be >= base_backoff_seconds")
	}
	switch c.router.DefaultTier() {
	case "7b", "14b", "nano":
	default:
		return fmt.Errorf("router default tier must be one of 7b, 14b, nano; got %q", c.router.DefaultTier())
	}
	if _, _, _, err := c.ResolveRoute(c.defaultRoute); err != nil {
		return err
	}
	return nil
}

// AppConfigOption is a functional option for AppConfig.
type AppConfigOption func(*AppConfig)

// WithHomeRoot sets the llmc home directory.
func WithHomeRoot(dir string) AppConfigOption {
	return func(c *AppConfig) { c.homeRoot = dir }
}

// WithRegistryPath sets the registry file path.
func WithRegistryPath(path string) AppConfigOption {
	return func(c *AppConfig) { c.registryPath = path }
}

// WithStateDir sets the state directory.
func WithStateDir(dir string) AppConfigOption {
	return func(c *AppConfig) { c.stateDir = dir }
}

// WithControlDir sets the control surface directory.
func WithControlDir(dir string) AppConfigOption {
	return func(c *AppConfig) { c.controlDir = dir }
}

// WithLogPath sets the daemon log file path.
func WithLogPath(path string) AppConfigOption {
	return func(c *AppConfig) { c.logPath = path }
}

// WithReposRoot sets the containment root for registered repos.
func WithReposRoot(dir string) AppConfigOption {
	return func(c *AppConfig) { c.reposRoot = dir }
}

// WithTickInterval sets the scheduler tick interval.
func WithTickInterval(d time.Duration) AppConfigOption {
	return func(c *AppConfig) { c.tickInterval = d }
}

// WithMaxConcurrentJobs sets the worker pool size.
func WithMaxConcurrentJobs(n int) AppConfigOption {
	return func(c *AppConfig) { c.maxConcurrentJobs = n }
}

// WithMaxConsecutiveFailures sets the parking threshold.
func WithMaxConsecutiveFailures(n int) AppConfigOption {
	return func(c *AppConfig) { c.maxConsecutiveFailures = n }
}

// WithBaseBackoff sets the base backoff delay.
func WithBaseBackoff(d time.Duration) AppConfigOption {
	return func(c *AppConfig) { c.baseBackoff = d }
}

// WithMaxBackoff sets the backoff ceiling.
func WithMaxBackoff(d time.Duration) AppConfigOption {
	return func(c *AppConfig) { c.maxBackoff = d }
}

// WithJobRunnerCmd sets the external runner command.
func WithJobRunnerCmd(cmd string) AppConfigOption {
	return func(c *AppConfig) { c.jobRunnerCmd = cmd }
}

// WithJobTimeBudget sets the per-job wall-clock budget.
func WithJobTimeBudget(d time.Duration) AppConfigOption {
	return func(c *AppConfig) { c.jobTimeBudget = d }
}

// WithLogLevel sets the log level.
func WithLogLevel(level string) AppConfigOption {
	return func(c *AppConfig) { c.logLevel = level }
}

// WithLogFormat sets the log format.
func WithLogFormat(format LogFormat) AppConfigOption {
	return func(c *AppConfig) { c.logFormat = format }
}

// WithAPIAddr sets the status API listen address.
func WithAPIAddr(addr string) AppConfigOption {
	return func(c *AppConfig) { c.apiAddr = addr }
}

// WithCooldown sets the file-modification cooldown.
func WithCooldown(d time.Duration) AppConfigOption {
	return func(c *AppConfig) { c.cooldown = d }
}

// WithSnippetMaxChars sets the prompt snippet truncation length.
func WithSnippetMaxChars(n int) AppConfigOption {
	return func(c *AppConfig) {
		if n > 0 {
			c.snippetMaxChars = n
		}
	}
}

// WithEnrichBatch sets the enrichment batch size and per-job batch cap.
func WithEnrichBatch(size, maxBatches int) AppConfigOption {
	return func(c *AppConfig) {
		if size > 0 {
			c.enrichBatchSize = size
		}
		if maxBatches > 0 {
			c.enrichMaxBatches = maxBatches
		}
	}
}

// WithEmbedBatch sets the embedding batch size and per-job batch cap.
func WithEmbedBatch(size, maxBatches int) AppConfigOption {
	return func(c *AppConfig) {
		if size > 0 {
			c.embedBatchSize = size
		}
		if maxBatches > 0 {
			c.embedMaxBatches = maxBatches
		}
	}
}

// WithMaxFailuresPerSpan sets the per-span failure cap.
func WithMaxFailuresPerSpan(n int) AppConfigOption {
	return func(c *AppConfig) {
		if n > 0 {
			c.maxFailuresPerSpan = n
		}
	}
}

// WithLocalEndpoint sets the local model server endpoint.
func WithLocalEndpoint(e Endpoint) AppConfigOption {
	return func(c *AppConfig) { c.local = e }
}

// WithGatewayEndpoint sets the remote gateway endpoint.
func WithGatewayEndpoint(e Endpoint) AppConfigOption {
	return func(c *AppConfig) { c.gateway = e }
}

// WithTierModels sets the tier-to-model mapping.
func WithTierModels(t TierModels) AppConfigOption {
	return func(c *AppConfig) { c.tierModels = t }
}

// WithRouterConfig sets the router thresholds.
func WithRouterConfig(r RouterConfig) AppConfigOption {
	return func(c *AppConfig) { c.router = r }
}

// WithProfiles merges profiles over the defaults.
func WithProfiles(profiles map[string]Profile) AppConfigOption {
	return func(c *AppConfig) {
		merged := make(map[string]Profile, len(c.profiles)+len(profiles))
		for k, v := range c.profiles {
			merged[k] = v
		}
		for k, v := range profiles {
			merged[k] = v
		}
		c.profiles = merged
	}
}

// WithRoutes merges routes over the defaults.
func WithRoutes(routes map[string]Route) AppConfigOption {
	return func(c *AppConfig) {
		merged := make(map[string]Route, len(c.routes)+len(routes))
		for k, v := range c.routes {
			merged[k] = v
		}
		for k, v := range routes {
			merged[k] = v
		}
		c.routes = merged
	}
}

// WithDefaultRoute sets the fallback route name.
func WithDefaultRoute(name string) AppConfigOption {
	return func(c *AppConfig) { c.defaultRoute = name }
}

// NewAppConfigWithOptions creates an AppConfig with functional options.
func NewAppConfigWithOptions(opts ...AppConfigOption) AppConfig {
	c := NewAppConfig()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Apply returns a new AppConfig with the given options applied.
func (c AppConfig) Apply(opts ...AppConfigOption) AppConfig {
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// LogAttrs returns slog attributes for logging the configuration.
// The gateway API key is masked.
func (c AppConfig) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("home_root", c.homeRoot),
		slog.String("registry_path", c.RegistryPath()),
		slog.String("state_dir", c.StateDir()),
		slog.String("control_dir", c.ControlDir()),
		slog.String("log_path", c.LogPath()),
		slog.Duration("tick_interval", c.tickInterval),
		slog.Int("max_concurrent_jobs", c.maxConcurrentJobs),
		slog.Int("max_consecutive_failures", c.maxConsecutiveFailures),
		slog.Duration("base_backoff", c.baseBackoff),
		slog.Duration("max_backoff", c.maxBackoff),
		slog.String("job_runner_cmd", c.jobRunnerCmd),
		slog.String("local_base_url", c.local.BaseURL()),
		slog.String("gateway_base_url", c.gateway.BaseURL()),
		slog.String("gateway_api_key", maskSecret(c.gateway.APIKey())),
		slog.String("log_level", c.logLevel),
	}
}

// Snapshot renders the effective configuration as a flat map for the
// config subcommand. Secrets are masked.
func (c AppConfig) Snapshot() map[string]any {
	return map[string]any{
		"home_root":                c.homeRoot,
		"registry_path":            c.RegistryPath(),
		"state_store_path":         c.StateDir(),
		"control_dir":              c.ControlDir(),
		"log_path":                 c.LogPath(),
		"repos_root":               c.reposRoot,
		"tick_interval_seconds":    int(c.tickInterval / time.Second),
		"max_concurrent_jobs":      c.maxConcurrentJobs,
		"max_consecutive_failures": c.maxConsecutiveFailures,
		"base_backoff_seconds":     int(c.baseBackoff / time.Second),
		"max_backoff_seconds":      int(c.maxBackoff / time.Second),
		"job_runner_cmd":           c.jobRunnerCmd,
		"job_time_budget_seconds":  int(c.jobTimeBudget / time.Second),
		"log_level":                c.logLevel,
		"log_format":               string(c.logFormat),
		"api_addr":                 c.apiAddr,
		"cooldown_seconds":         int(c.cooldown / time.Second),
		"snippet_max_chars":        c.snippetMaxChars,
		"enrich_batch_size":        c.enrichBatchSize,
		"enrich_max_batches":       c.enrichMaxBatches,
		"embed_batch_size":         c.embedBatchSize,
		"embed_max_batches":        c.embedMaxBatches,
		"max_failures_per_span":    c.maxFailuresPerSpan,
		"local_base_url":           c.local.BaseURL(),
		"model_7b":                 c.tierModels.Model7B(),
		"model_14b":                c.tierModels.Model14B(),
		"gateway_base_url":         c.gateway.BaseURL(),
		"gateway_model":            c.gateway.Model(),
		"gateway_api_key":          maskSecret(c.gateway.APIKey()),
		"default_route":            c.defaultRoute,
		"routes":                   c.routeNames(),
		"router_context_limit":     c.router.ContextLimit(),
		"router_default_tier":      c.router.DefaultTier(),
		"router_promote_once":      c.router.PromoteOnce(),
	}
}

func (c AppConfig) routeNames() []string {
	names := make([]string, 0, len(c.routes))
	for name := range c.routes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

// ParseLogFormat parses a log format string, defaulting to pretty.
func ParseLogFormat(s string) LogFormat {
	if strings.EqualFold(s, string(LogFormatJSON)) {
		return LogFormatJSON
	}
	return LogFormatPretty
}
