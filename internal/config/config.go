// Package config loads the genbench run configuration: backend target,
// strategy/profile selection, scheduling caps, and telemetry toggles
// (spec section 6, Configuration surface).
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BackendConfig mirrors internal/backend.Config's knobs as loaded config.
type BackendConfig struct {
	Target          string                    `mapstructure:"target"`
	Model           string                    `mapstructure:"model"`
	APIKey          string                    `mapstructure:"api_key"`
	Organization    string                    `mapstructure:"organization"`
	Project         string                    `mapstructure:"project"`
	HTTP2           bool                      `mapstructure:"http2"`
	FollowRedirects bool                      `mapstructure:"follow_redirects"`
	MaxOutputTokens int                       `mapstructure:"max_output_tokens"`
	UseChatEndpoint bool                      `mapstructure:"use_chat_endpoint"`
	ExtraQuery      map[string]map[string]any `mapstructure:"extra_query"`
	ExtraBody       map[string]map[string]any `mapstructure:"extra_body"`
}

// SchedulerConfig mirrors scheduler.RunOptions plus the sizing knobs from
// spec section 5.
type SchedulerConfig struct {
	MaxWorkerProcesses    int     `mapstructure:"max_worker_processes"`
	MaxConcurrency        int     `mapstructure:"max_concurrency"`
	DefaultAsyncLoopSleep float64 `mapstructure:"default_async_loop_sleep"`
	RequestTimeoutSeconds float64 `mapstructure:"request_timeout"`
	MaxNumber             int     `mapstructure:"max_number"`
	MaxDurationSeconds    float64 `mapstructure:"max_duration"`
}

// RequestSourceConfig selects and configures the Request Source (S3).
type RequestSourceConfig struct {
	Kind         string `mapstructure:"kind"` // "synthetic" or "file"
	Path         string `mapstructure:"path"`
	Count        int    `mapstructure:"count"`
	PromptTokens int    `mapstructure:"prompt_tokens"`
	OutputTokens int    `mapstructure:"output_tokens"`
	Chat         bool   `mapstructure:"chat"`
	Seed         int64  `mapstructure:"seed"`
}

// ProfileConfig selects the strategy or sweep profile to run.
type ProfileConfig struct {
	Strategy string  `mapstructure:"strategy"` // synchronous|concurrent|throughput|async_constant|async_poisson|sweep
	Streams  int     `mapstructure:"streams"`
	Rate     float64 `mapstructure:"rate"`
	Burst    int     `mapstructure:"initial_burst"`
	Size     int     `mapstructure:"sweep_size"`
}

// ObservabilityConfig captures logging, metrics, and tracing toggles,
// named and shaped the way the teacher's features.yaml does.
type ObservabilityConfig struct {
	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Tracing struct {
		Enabled      bool   `mapstructure:"enabled"`
		ServiceName  string `mapstructure:"service_name"`
		OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	} `mapstructure:"tracing"`
}

// Config is the full genbench run configuration.
type Config struct {
	Backend       BackendConfig       `mapstructure:"backend"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	RequestSource RequestSourceConfig `mapstructure:"request_source"`
	Profile       ProfileConfig       `mapstructure:"profile"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Report        struct {
		Format string `mapstructure:"format"` // console|json
		Path   string `mapstructure:"path"`
	} `mapstructure:"report"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.target", "http://localhost:8000")
	v.SetDefault("backend.http2", true)
	v.SetDefault("backend.follow_redirects", true)
	v.SetDefault("backend.use_chat_endpoint", true)

	v.SetDefault("scheduler.default_async_loop_sleep", 0.001)
	v.SetDefault("scheduler.max_worker_processes", 0)
	v.SetDefault("scheduler.max_concurrency", 0)

	v.SetDefault("request_source.kind", "synthetic")
	v.SetDefault("request_source.count", 100)
	v.SetDefault("request_source.prompt_tokens", 32)
	v.SetDefault("request_source.output_tokens", 64)

	v.SetDefault("profile.strategy", "synchronous")
	v.SetDefault("profile.sweep_size", 5)

	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.port", 9090)
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.service_name", "genbench")

	v.SetDefault("report.format", "console")
}

// Load reads config from path (if non-empty), then GENBENCH_-prefixed
// environment variables, layering over defaults. path may be empty to run
// on defaults and environment alone. The returned *viper.Viper can be
// passed to Watch to be notified of later edits to the config file.
func Load(path string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GENBENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, nil, fmt.Errorf("stat config %s: %w", path, err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, v, nil
}

// Watch installs an fsnotify-backed config reload: whenever the config
// file on disk changes, v is re-unmarshalled and onChange is called with
// the refreshed Config. The CLI uses this to copy reloaded
// extra_body/extra_query values into its own Config; a backend client that
// is already built keeps the values it was built with.
// Watch is a no-op if v was not backed by a config file.
func Watch(v *viper.Viper, onChange func(*Config)) {
	v.OnConfigChange(func(_ fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			return
		}
		onChange(&cfg)
	})
	v.WatchConfig()
}
