package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the daemon YAML config file schema. Zero values mean
// "not set"; only set keys override the built-in defaults.
type FileConfig struct {
	TickIntervalSeconds    int             `yaml:"tick_interval_seconds"`
	MaxConcurrentJobs      *int            `yaml:"max_concurrent_jobs"`
	MaxConsecutiveFailures int             `yaml:"max_consecutive_failures"`
	BaseBackoffSeconds     int             `yaml:"base_backoff_seconds"`
	MaxBackoffSeconds      int             `yaml:"max_backoff_seconds"`
	RegistryPath           string          `yaml:"registry_path"`
	StateStorePath         string          `yaml:"state_store_path"`
	ControlDir             string          `yaml:"control_dir"`
	LogPath                string          `yaml:"log_path"`
	JobRunnerCmd           string          `yaml:"job_runner_cmd"`
	JobTimeBudgetSeconds   int             `yaml:"job_time_budget_seconds"`
	LogLevel               string          `yaml:"log_level"`
	LogFormat              string          `yaml:"log_format"`
	APIAddr                string          `yaml:"api_addr"`
	ReposRoot              string          `yaml:"repos_root"`
	CooldownSeconds        int             `yaml:"cooldown_seconds"`
	SnippetMaxChars        int             `yaml:"snippet_max_chars"`
	EnrichBatchSize        int             `yaml:"enrich_batch_size"`
	EnrichMaxBatches       int             `yaml:"enrich_max_batches"`
	EmbedBatchSize         int             `yaml:"embed_batch_size"`
	EmbedMaxBatches        int             `yaml:"embed_max_batches"`
	MaxFailuresPerSpan     int             `yaml:"max_failures_per_span"`
	Local                  LocalFile       `yaml:"local"`
	Gateway                GatewayFile     `yaml:"gateway"`
	Router                 RouterFile      `yaml:"router"`
	Profiles               map[string]ProfileFile `yaml:"profiles"`
	Routes                 map[string]RouteFile   `yaml:"routes"`
	DefaultRoute           string          `yaml:"default_route"`
}

// LocalFile configures the local model server in the config file.
type LocalFile struct {
	BaseURL          string `yaml:"base_url"`
	APIKey           string `yaml:"api_key"`
	Model7B          string `yaml:"model_7b"`
	Model14B         string `yaml:"model_14b"`
	Timeout7BSeconds int    `yaml:"timeout_7b_seconds"`
	Timeout14Seconds int    `yaml:"timeout_14b_seconds"`
}

// GatewayFile configures the remote gateway in the config file.
type GatewayFile struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// RouterFile configures tier router thresholds in the config file.
type RouterFile struct {
	ContextLimit      int    `yaml:"context_limit"`
	MaxTokensHeadroom int    `yaml:"max_tokens_headroom"`
	NodeLimit         int    `yaml:"node_limit"`
	DepthLimit        int    `yaml:"depth_limit"`
	ArrayLimit        int    `yaml:"array_limit"`
	CSVLimit          int    `yaml:"csv_limit"`
	NestingLimit      int    `yaml:"nesting_limit"`
	LineThresholds    string `yaml:"line_thresholds"`
	DefaultTier       string `yaml:"default_tier"`
	PromoteOnce       *bool  `yaml:"promote_once"`
}

// ProfileFile is an embedding profile entry in the config file.
type ProfileFile struct {
	Provider      string `yaml:"provider"`
	Model         string `yaml:"model"`
	Dimension     int    `yaml:"dimension"`
	QueryPrefix   string `yaml:"query_prefix"`
	PassagePrefix string `yaml:"passage_prefix"`
	Edges         bool   `yaml:"edges"`
}

// RouteFile is an embedding route entry in the config file.
type RouteFile struct {
	Table   string `yaml:"table"`
	Profile string `yaml:"profile"`
}

// LoadFile reads and parses the daemon config file. A missing file yields a
// zero FileConfig and no error.
func LoadFile(path string) (FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Options converts set file values into AppConfig options.
func (f FileConfig) Options() ([]AppConfigOption, error) {
	var opts []AppConfigOption

	if f.TickIntervalSeconds != 0 {
		opts = append(opts, WithTickInterval(time.Duration(f.TickIntervalSeconds)*time.Second))
	}
	if f.MaxConcurrentJobs != nil {
		opts = append(opts, WithMaxConcurrentJobs(*f.MaxConcurrentJobs))
	}
	if f.MaxConsecutiveFailures != 0 {
		opts = append(opts, WithMaxConsecutiveFailures(f.MaxConsecutiveFailures))
	}
	if f.BaseBackoffSeconds != 0 {
		opts = append(opts, WithBaseBackoff(time.Duration(f.BaseBackoffSeconds)*time.Second))
	}
	if f.MaxBackoffSeconds != 0 {
		opts = append(opts, WithMaxBackoff(time.Duration(f.MaxBackoffSeconds)*time.Second))
	}
	if f.RegistryPath != "" {
		opts = append(opts, WithRegistryPath(f.RegistryPath))
	}
	if f.StateStorePath != "" {
		opts = append(opts, WithStateDir(f.StateStorePath))
	}
	if f.ControlDir != "" {
		opts = append(opts, WithControlDir(f.ControlDir))
	}
	if f.LogPath != "" {
		opts = append(opts, WithLogPath(f.LogPath))
	}
	if f.JobRunnerCmd != "" {
		opts = append(opts, WithJobRunnerCmd(f.JobRunnerCmd))
	}
	if f.JobTimeBudgetSeconds != 0 {
		opts = append(opts, WithJobTimeBudget(time.Duration(f.JobTimeBudgetSeconds)*time.Second))
	}
	if f.LogLevel != "" {
		opts = append(opts, WithLogLevel(f.LogLevel))
	}
	if f.LogFormat != "" {
		opts = append(opts, WithLogFormat(ParseLogFormat(f.LogFormat)))
	}
	if f.APIAddr != "" {
		opts = append(opts, WithAPIAddr(f.APIAddr))
	}
	if f.ReposRoot != "" {
		opts = append(opts, WithReposRoot(f.ReposRoot))
	}
	if f.CooldownSeconds != 0 {
		opts = append(opts, WithCooldown(time.Duration(f.CooldownSeconds)*time.Second))
	}
	if f.SnippetMaxChars != 0 {
		opts = append(opts, WithSnippetMaxChars(f.SnippetMaxChars))
	}
	if f.EnrichBatchSize != 0 || f.EnrichMaxBatches != 0 {
		opts = append(opts, WithEnrichBatch(f.EnrichBatchSize, f.EnrichMaxBatches))
	}
	if f.EmbedBatchSize != 0 || f.EmbedMaxBatches != 0 {
		opts = append(opts, WithEmbedBatch(f.EmbedBatchSize, f.EmbedMaxBatches))
	}
	if f.MaxFailuresPerSpan != 0 {
		opts = append(opts, WithMaxFailuresPerSpan(f.MaxFailuresPerSpan))
	}

	opts = append(opts, f.localOptions()...)
	opts = append(opts, f.gatewayOptions()...)

	routerOpts, err := f.Router.options()
	if err != nil {
		return nil, err
	}
	opts = append(opts, routerOpts...)

	if len(f.Profiles) > 0 {
		profiles := make(map[string]Profile, len(f.Profiles))
		for name, p := range f.Profiles {
			profiles[name] = NewProfile(p.Provider, p.Model, p.Dimension).
				WithPrefixes(p.QueryPrefix, p.PassagePrefix).
				WithEdges(p.Edges)
		}
		opts = append(opts, WithProfiles(profiles))
	}
	if len(f.Routes) > 0 {
		routes := make(map[string]Route, len(f.Routes))
		for name, r := range f.Routes {
			routes[name] = NewRoute(r.Table, r.Profile)
		}
		opts = append(opts, WithRoutes(routes))
	}
	if f.DefaultRoute != "" {
		opts = append(opts, WithDefaultRoute(f.DefaultRoute))
	}

	return opts, nil
}

func (f FileConfig) localOptions() []AppConfigOption {
	var opts []AppConfigOption
	l := f.Local
	if l.BaseURL != "" || l.APIKey != "" {
		opts = append(opts, func(c *AppConfig) {
			e := c.local
			if l.BaseURL != "" {
				WithBaseURL(l.BaseURL)(&e)
			}
			if l.APIKey != "" {
				WithAPIKey(l.APIKey)(&e)
			}
			c.local = e
		})
	}
	if l.Model7B != "" || l.Model14B != "" || l.Timeout7BSeconds != 0 || l.Timeout14Seconds != 0 {
		opts = append(opts, func(c *AppConfig) {
			t := c.tierModels
			if l.Model7B != "" {
				t = t.WithModel7B(l.Model7B)
			}
			if l.Model14B != "" {
				t = t.WithModel14B(l.Model14B)
			}
			if l.Timeout7BSeconds != 0 {
				t = t.WithTimeout7B(time.Duration(l.Timeout7BSeconds) * time.Second)
			}
			if l.Timeout14Seconds != 0 {
				t = t.WithTimeout14B(time.Duration(l.Timeout14Seconds) * time.Second)
			}
			c.tierModels = t
		})
	}
	return opts
}

func (f FileConfig) gatewayOptions() []AppConfigOption {
	g := f.Gateway
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

func (r RouterFile) options() ([]AppConfigOption, error) {
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
	if r.PromoteOnce != nil {
		routerOpts = append(routerOpts, WithPromoteOnce(*r.PromoteOnce))
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

// Load builds the effective AppConfig: defaults, then the config file, then
// environment variables. explicitPath wins over $RAGD_CONFIG which wins over
// <home>/rag-daemon.yml. The returned config is validated.
func Load(explicitPath string) (AppConfig, error) {
	if err := LoadDotEnv(""); err != nil {
		return AppConfig{}, fmt.Errorf("load .env: %w", err)
	}

	env, err := LoadFromEnv()
	if err != nil {
		return AppConfig{}, fmt.Errorf("load environment: %w", err)
	}

	home := env.Home
	if home == "" {
		home = DefaultHomeRoot()
	}

	path := explicitPath
	if path == "" {
		path = env.ConfigPath
	}
	if path == "" {
		path = filepath.Join(home, DaemonConfigName)
	}

	file, err := LoadFile(path)
	if err != nil {
		return AppConfig{}, err
	}
	fileOpts, err := file.Options()
	if err != nil {
		return AppConfig{}, err
	}
	envOpts, err := env.Options()
	if err != nil {
		return AppConfig{}, err
	}

	cfg := NewAppConfig().Apply(fileOpts...).Apply(envOpts...)
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}
