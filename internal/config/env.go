package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvConfig holds all environment-based configuration. Zero values mean
// "not set"; only set values override the config file layer.
type EnvConfig struct {
	// Home is the llmc home directory.
	// Env: LLMC_HOME (default: ~/.llmc)
	Home string `envconfig:"LLMC_HOME"`

	// ConfigPath is the daemon config file location.
	// Env: RAGD_CONFIG (default: <home>/rag-daemon.yml)
	ConfigPath string `envconfig:"RAGD_CONFIG"`

	// TickIntervalSeconds is the scheduler tick interval.
	// Env: RAGD_TICK_INTERVAL_SECONDS
	TickIntervalSeconds int `envconfig:"RAGD_TICK_INTERVAL_SECONDS"`

	// MaxConcurrentJobs is the worker pool size.
	// Env: RAGD_MAX_CONCURRENT_JOBS ("0" disables job submission)
	MaxConcurrentJobs string `envconfig:"RAGD_MAX_CONCURRENT_JOBS"`

	// MaxConsecutiveFailures parks a repo once reached.
	// Env: RAGD_MAX_CONSECUTIVE_FAILURES
	MaxConsecutiveFailures int `envconfig:"RAGD_MAX_CONSECUTIVE_FAILURES"`

	// BaseBackoffSeconds is the first failure backoff delay.
	// Env: RAGD_BASE_BACKOFF_SECONDS
	BaseBackoffSeconds int `envconfig:"RAGD_BASE_BACKOFF_SECONDS"`

	// MaxBackoffSeconds is the backoff ceiling.
	// Env: RAGD_MAX_BACKOFF_SECONDS
	MaxBackoffSeconds int `envconfig:"RAGD_MAX_BACKOFF_SECONDS"`

	// RegistryPath overrides the registry file location.
	// Env: RAGD_REGISTRY_PATH
	RegistryPath string `envconfig:"RAGD_REGISTRY_PATH"`

	// StateStorePath overrides the state directory.
	// Env: RAGD_STATE_STORE_PATH
	StateStorePath string `envconfig:"RAGD_STATE_STORE_PATH"`

	// ControlDir overrides the control surface directory.
	// Env: RAGD_CONTROL_DIR
	ControlDir string `envconfig:"RAGD_CONTROL_DIR"`

	// LogPath overrides the daemon log file.
	// Env: RAGD_LOG_PATH
	LogPath string `envconfig:"RAGD_LOG_PATH"`

	// JobRunnerCmd is the external runner command. Empty runs jobs in-process.
	// Env: RAGD_JOB_RUNNER_CMD
	JobRunnerCmd string `envconfig:"RAGD_JOB_RUNNER_CMD"`

	// LogLevel is the log verbosity level.
	// Env: RAGD_LOG_LEVEL
	LogLevel string `envconfig:"RAGD_LOG_LEVEL"`

	// LogFormat is the log output format (pretty or json).
	// Env: RAGD_LOG_FORMAT
	LogFormat string `envconfig:"RAGD_LOG_FORMAT"`

	// APIAddr is the status API listen address. Empty disables the API.
	// Env: RAGD_API_ADDR
	APIAddr string `envconfig:"RAGD_API_ADDR"`

	// ReposRoot confines registered repo paths to a directory tree.
	// Env: RAGD_REPOS_ROOT
	ReposRoot string `envconfig:"RAGD_REPOS_ROOT"`

	// Model7B is the local model served for the 7b tier.
	// Env: RAGD_MODEL_7B
	Model7B string `envconfig:"RAGD_MODEL_7B"`

	// Model14B is the local model served for the 14b tier.
	// Env: RAGD_MODEL_14B
	Model14B string `envconfig:"RAGD_MODEL_14B"`

	// Local configures the local OpenAI-compatible model server.
	// Env: RAGD_LOCAL_*
	Local LocalEnv `envconfig:"RAGD_LOCAL"`

	// Gateway configures the remote gateway used by the nano tier.
	// Env: RAGD_GATEWAY_*
	Gateway GatewayEnv `envconfig:"RAGD_GATEWAY"`

	// Router configures tier selection thresholds.
	// Env: ROUTER_*
	Router RouterEnv `envconfig:"ROUTER"`
}

// LocalEnv holds environment configuration for the local model server.
// Field names resolve under the RAGD_LOCAL prefix.
type LocalEnv struct {
	// BaseURL is the OpenAI-compatible base URL.
	// Env: RAGD_LOCAL_BASE_URL
	BaseURL string `envconfig:"BASE_URL"`

	// APIKey is the API key, if the local server requires one.
	// Env: RAGD_LOCAL_API_KEY
	APIKey string `envconfig:"API_KEY"`
}

// GatewayEnv holds environment configuration for the remote gateway.
// Field names resolve under the RAGD_GATEWAY prefix.
type GatewayEnv struct {
	// BaseURL is the gateway base URL.
	// Env: RAGD_GATEWAY_BASE_URL
	BaseURL string `envconfig:"BASE_URL"`

	// APIKey authenticates against the gateway.
	// Env: RAGD_GATEWAY_API_KEY
	APIKey string `envconfig:"API_KEY"`

	// Model is the gateway model identifier.
	// Env: RAGD_GATEWAY_MODEL
	Model string `envconfig:"MODEL"`

	// TimeoutSeconds is the per-call gateway timeout.
	// Env: RAGD_GATEWAY_TIMEOUT_SECONDS
	TimeoutSeconds int `envconfig:"TIMEOUT_SECONDS"`
}

// RouterEnv holds the tier router threshold overrides.
// Field names resolve under the ROUTER prefix.
type RouterEnv struct {
	// ContextLimit is the model context window in tokens.
	// Env: ROUTER_CONTEXT_LIMIT
	ContextLimit int `envconfig:"CONTEXT_LIMIT"`

	// MaxTokensHeadroom is reserved inside the context window.
	// Env: ROUTER_MAX_TOKENS_HEADROOM
	MaxTokensHeadroom int `envconfig:"MAX_TOKENS_HEADROOM"`

	// NodeLimit routes to the gateway above this JSON node count.
	// Env: ROUTER_NODE_LIMIT
	NodeLimit int `envconfig:"NODE_LIMIT"`

	// DepthLimit routes to the gateway above this schema depth.
	// Env: ROUTER_DEPTH_LIMIT
	DepthLimit int `envconfig:"DEPTH_LIMIT"`

	// ArrayLimit routes to the gateway above this array element count.
	// Env: ROUTER_ARRAY_LIMIT
	ArrayLimit int `envconfig:"ARRAY_LIMIT"`

	// CSVLimit routes to the gateway above this CSV column count.
	// Env: ROUTER_CSV_LIMIT
	CSVLimit int `envconfig:"CSV_LIMIT"`

	// NestingLimit routes to the mid tier above this nesting depth.
	// Env: ROUTER_NESTING_LIMIT
	NestingLimit int `envconfig:"NESTING_LIMIT"`

	// LineThresholds is "low,high" line counts for tier selection.
	// Env: ROUTER_LINE_THRESHOLDS
	LineThresholds string `envconfig:"LINE_THRESHOLDS"`

	// DefaultTier is the tier used when no rule fires.
	// Env: ROUTER_DEFAULT_TIER
	DefaultTier string `envconfig:"DEFAULT_TIER"`

	// PromoteOnce caps tier visits to one per task ("true" or "false").
	// Env: ROUTER_PROMOTE_ONCE
	PromoteOnce string `envconfig:"PROMOTE_ONCE"`
}

// LoadFromEnv loads configuration overrides from environment variables.
func LoadFromEnv() (EnvConfig, error) {
	var cfg EnvConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return EnvConfig{}, err
	}
	return cfg, nil
}

// Options converts set environment values into AppConfig options. Unset
// variables yield no option, preserving lower-precedence layers.
func (e EnvConfig) Options() ([]AppConfigOption, error) {
	var opts []AppConfigOption

	if e.Home != "" {
		opts = append(opts, WithHomeRoot(e.Home))
	}
	if e.TickIntervalSeconds != 0 {
		opts = append(opts, WithTickInterval(time.Duration(e.TickIntervalSeconds)*time.Second))
	}
	if e.MaxConcurrentJobs != "" {
		n, err := strconv.Atoi(e.MaxConcurrentJobs)
		if err != nil {
			return nil, fmt.Errorf("RAGD_MAX_CONCURRENT_JOBS: %w", err)
		}
		opts = append(opts, WithMaxConcurrentJobs(n))
	}
	if e.MaxConsecutiveFailures != 0 {
		opts = append(opts, WithMaxConsecutiveFailures(e.MaxConsecutiveFailures))
	}
	if e.BaseBackoffSeconds != 0 {
		opts = append(opts, WithBaseBackoff(time.Duration(e.BaseBackoffSeconds)*time.Second))
	}
	if e.MaxBackoffSeconds != 0 {
		opts = append(opts, WithMaxBackoff(time.Duration(e.MaxBackoffSeconds)*time.Second))
	}
	if e.RegistryPath != "" {
		opts = append(opts, WithRegistryPath(e.RegistryPath))
	}
	if e.StateStorePath != "" {
		opts = append(opts, WithStateDir(e.StateStorePath))
	}
	if e.ControlDir != "" {
		opts = append(opts, WithControlDir(e.ControlDir))
	}
	if e.LogPath != "" {
		opts = append(opts, WithLogPath(e.LogPath))
	}
	if e.JobRunnerCmd != "" {
		opts = append(opts, WithJobRunnerCmd(e.JobRunnerCmd))
	}
	if e.LogLevel != "" {
		opts = append(opts, WithLogLevel(e.LogLevel))
	}
	if e.LogFormat != "" {
		opts = append(opts, WithLogFormat(ParseLogFormat(e.LogFormat)))
	}
	if e.APIAddr != "" {
		opts = append(opts, WithAPIAddr(e.APIAddr))
	}
	if e.ReposRoot != "" {
		opts = append(opts, WithReposRoot(e.ReposRoot))
	}
	if e.Model7B != "" || e.Model14B != "" {
		opts = append(opts, func(c *AppConfig) {
			t := c.tierModels
			if e.Model7B != "" {
				t = t.WithModel7B(e.Model7B)
			}
			if e.Model14B != "" {
				t = t.WithModel14B(e.Model14B)
			}
			c.tierModels = t
		})
	}

	opts = append(opts, e.Local.options()...)
	opts = append(opts, e.Gateway.options()...)

	routerOpts, err := e.Router.options()
	if err != nil {
		return nil, err
	}
	opts = append(opts, routerOpts...)

	return opts, nil
}

func (l LocalEnv) options() []AppConfigOption {
	if l.BaseURL == "" && l.APIKey == "" {
		return nil
	}
	return []AppConfigOption{func(c *AppConfig) {
		e := c.local
		if l.BaseURL != "" {
			WithBaseURL(l.BaseURL)(&e)
		}
		if l.APIKey != "" {
			WithAPIKey(l.APIKey)(&e)
		}
		c.local = e
	}}
}

func (g GatewayEnv) options() []AppConfigOption {
	if g.BaseURL == "" && g.APIKey == "" && g.Model == "" && g.TimeoutSeconds == 0 {
		return nil
	}
	return []AppConfigOption{func(c *AppConfig) {
		e := c.gateway
		if g.BaseURL != "" {
			WithBaseURL(g.BaseURL)(&e)
		}
		if g.APIKey != "" {
			WithAPIKey(g.APIKey)(&e)
		}
		if g.Model != "" {
			WithModel(g.Model)(&e)
		}
		if g.TimeoutSeconds != 0 {
			WithTimeout(time.Duration(g.TimeoutSeconds) * time.Second)(&e)
		}
		c.gateway = e
	}}
}

func (r RouterEnv) options() ([]AppConfigOption, error) {
	var routerOpts []RouterOption
	if r.ContextLimit != 0 {
		routerOpts = append(routerOpts, WithContextLimit(r.ContextLimit))
	}
	if r.MaxTokensHeadroom != 0 {
		routerOpts = append(routerOpts, WithHeadroom(r.MaxTokensHeadroom))
	}
	if r.NodeLimit != 0 {
		routerOpts = append(routerOpts, WithNodeLimit(r.NodeLimit))
	}
	if r.DepthLimit != 0 {
		routerOpts = append(routerOpts, WithDepthLimit(r.DepthLimit))
	}
	if r.ArrayLimit != 0 {
		routerOpts = append(routerOpts, WithArrayLimit(r.ArrayLimit))
	}
	if r.CSVLimit != 0 {
		routerOpts = append(routerOpts, WithCSVLimit(r.CSVLimit))
	}
	if r.NestingLimit != 0 {
		routerOpts = append(routerOpts, WithNestingLimit(r.NestingLimit))
	}
	if r.LineThresholds != "" {
		low, high, err := ParseLineThresholds(r.LineThresholds)
		if err != nil {
			return nil, err
		}
		routerOpts = append(routerOpts, WithLineThresholds(low, high))
	}
	if r.DefaultTier != "" {
		routerOpts = append(routerOpts, WithDefaultTier(r.DefaultTier))
	}
	if r.PromoteOnce != "" {
		v, err := strconv.ParseBool(r.PromoteOnce)
		if err != nil {
			return nil, fmt.Errorf("ROUTER_PROMOTE_ONCE: %w", err)
		}
		routerOpts = append(routerOpts, WithPromoteOnce(v))
	}
	if len(routerOpts) == 0 {
		return nil, nil
	}
	return []AppConfigOption{func(c *AppConfig) {
		router := c.router
		for _, opt := range routerOpts {
			opt(&router)
		}
		c.router = router
	}}, nil
}

// ParseLineThresholds parses a "low,high" pair.
func ParseLineThresholds(s string) (int, int, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("line thresholds must be \"low,high\", got %q", s)
	}
	low, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("line threshold low: %w", err)
	}
	high, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("line threshold high: %w", err)
	}
	if low <= 0 || high <= 0 || low > high {
		return 0, 0, fmt.Errorf("line thresholds must satisfy 0 < low <= high, got %d,%d", low, high)
	}
	return low, high, nil
}
