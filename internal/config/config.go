package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	SerpAPI    SerpAPIConfig    `yaml:"serpapi" mapstructure:"serpapi"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Runner     RunnerConfig     `yaml:"runner" mapstructure:"runner"`
	Dispatch   DispatchConfig   `yaml:"dispatch" mapstructure:"dispatch"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" mapstructure:"scheduler"`
	Stream     StreamConfig     `yaml:"stream" mapstructure:"stream"`
	KPI        KPIConfig        `yaml:"kpi" mapstructure:"kpi"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// SerpAPIConfig holds SerpAPI settings for the google_serp engine.
type SerpAPIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// AnthropicConfig holds Anthropic API settings for the claude engine.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// RunnerConfig configures isolated adapter execution.
type RunnerConfig struct {
	// DefaultTimeoutSecs bounds one adapter cycle when the engine config
	// carries no timeout_seconds override. Zero or negative runs in-process
	// without isolation.
	DefaultTimeoutSecs int `yaml:"default_timeout_secs" mapstructure:"default_timeout_secs"`
}

// DispatchConfig configures the run task dispatcher.
type DispatchConfig struct {
	Workers          int     `yaml:"workers" mapstructure:"workers"`
	HardTimeoutSecs  int     `yaml:"hard_timeout_secs" mapstructure:"hard_timeout_secs"`
	EngineRatePerSec float64 `yaml:"engine_rate_per_sec" mapstructure:"engine_rate_per_sec"`
	EngineRateBurst  int     `yaml:"engine_rate_burst" mapstructure:"engine_rate_burst"`
	QueueSize        int     `yaml:"queue_size" mapstructure:"queue_size"`
}

// SchedulerConfig configures the cron monitor scheduler.
type SchedulerConfig struct {
	TickSecs int `yaml:"tick_secs" mapstructure:"tick_secs"`
}

// StreamConfig configures the run event live stream.
type StreamConfig struct {
	PollIntervalMs int `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
}

// KPIConfig holds the zero-click risk score weights. The defaults preserve
// the historical formula; the exact constants are tunable.
type KPIConfig struct {
	LinkWeight    float64 `yaml:"link_weight" mapstructure:"link_weight"`
	MentionWeight float64 `yaml:"mention_weight" mapstructure:"mention_weight"`
}

// PricingConfig points at an optional per-(engine,model) pricing override file.
type PricingConfig struct {
	OverridesPath string `yaml:"overrides_path" mapstructure:"overrides_path"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ANSWERLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "answerlens.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("serpapi.base_url", "https://serpapi.com")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("runner.default_timeout_secs", 120)
	v.SetDefault("dispatch.workers", 4)
	v.SetDefault("dispatch.hard_timeout_secs", 600)
	v.SetDefault("dispatch.engine_rate_per_sec", 1)
	v.SetDefault("dispatch.engine_rate_burst", 2)
	v.SetDefault("dispatch.queue_size", 256)
	v.SetDefault("scheduler.tick_secs", 60)
	v.SetDefault("stream.poll_interval_ms", 1000)
	v.SetDefault("kpi.link_weight", 20)
	v.SetDefault("kpi.mention_weight", 10)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}
