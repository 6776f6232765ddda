package config

import (
	"log/slog"
	"time"

	"glosspipe/internal/providers"
	"glosspipe/internal/safety"
)

// Config holds glosspipe configuration.
// Loaded from config.yaml, overridable with GLOSSPIPE_ env vars.
type Config struct {
	StoragePath string `mapstructure:"storage_path" yaml:"storage_path"` // sqlite database path
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"` // debug, info, warn, error

	Providers ProvidersCfg `mapstructure:"providers" yaml:"providers"`
	Import    ImportCfg    `mapstructure:"import" yaml:"import"`
	Batch     BatchCfg     `mapstructure:"batch" yaml:"batch"`
	Safety    SafetyCfg    `mapstructure:"safety" yaml:"safety"`
	Progress  ProgressCfg  `mapstructure:"progress" yaml:"progress"`
}

// ProvidersCfg configures generation providers and published models.
type ProvidersCfg struct {
	OpenAI OpenAICfg  `mapstructure:"openai" yaml:"openai"`
	Models []ModelCfg `mapstructure:"models" yaml:"models"`
}

// OpenAICfg configures the OpenAI client.
type OpenAICfg struct {
	APIKey         string `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR} syntax
	RateLimit      int    `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per minute
	MaxRetries     int    `mapstructure:"max_retries" yaml:"max_retries"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
}

// ModelCfg publishes one model selector with its pricing.
type ModelCfg struct {
	Selector          string  `mapstructure:"selector" yaml:"selector"`
	Provider          string  `mapstructure:"provider" yaml:"provider"`
	Model             string  `mapstructure:"model" yaml:"model"`
	InputCostPer1M    float64 `mapstructure:"input_cost_per_1m" yaml:"input_cost_per_1m"`
	OutputCostPer1M   float64 `mapstructure:"output_cost_per_1m" yaml:"output_cost_per_1m"`
	RequestsPerMinute int     `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// ImportCfg tunes the ingestion path.
type ImportCfg struct {
	ChunkSize     int `mapstructure:"chunk_size" yaml:"chunk_size"`
	MemCheckEvery int `mapstructure:"mem_check_every" yaml:"mem_check_every"` // rows between memory samples
	MemCeilingMB  int `mapstructure:"mem_ceiling_mb" yaml:"mem_ceiling_mb"`
}

// BatchCfg sets defaults for generation operations.
type BatchCfg struct {
	ChunkSize            int     `mapstructure:"chunk_size" yaml:"chunk_size"`
	MaxConcurrentBatches int     `mapstructure:"max_concurrent_batches" yaml:"max_concurrent_batches"`
	Temperature          float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens            int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	DefaultModel         string  `mapstructure:"default_model" yaml:"default_model"`
	FallbackModel        string  `mapstructure:"fallback_model" yaml:"fallback_model"`
}

// SafetyCfg tunes the operation-start gates.
type SafetyCfg struct {
	WindowMinutes       int     `mapstructure:"window_minutes" yaml:"window_minutes"`
	MaxStartsPerWindow  int     `mapstructure:"max_starts_per_window" yaml:"max_starts_per_window"`
	MaxOperationCostUSD float64 `mapstructure:"max_operation_cost_usd" yaml:"max_operation_cost_usd"`
}

// ProgressCfg tunes operation monitoring.
type ProgressCfg struct {
	IntervalSeconds int   `mapstructure:"interval_seconds" yaml:"interval_seconds"`
	Milestones      []int `mapstructure:"milestones" yaml:"milestones"`
}

// ToRegistryConfig converts provider config for providers.Registry,
// resolving ${ENV_VAR} references in API keys.
func (c *Config) ToRegistryConfig() providers.RegistryConfig {
	cfg := providers.RegistryConfig{}

	if c.Providers.OpenAI.Enabled {
		cfg.OpenAI = providers.OpenAIConfig{
			APIKey:     ResolveEnvVars(c.Providers.OpenAI.APIKey),
			RateLimit:  c.Providers.OpenAI.RateLimit,
			MaxRetries: c.Providers.OpenAI.MaxRetries,
			Timeout:    time.Duration(c.Providers.OpenAI.TimeoutSeconds) * time.Second,
		}
	}

	for _, m := range c.Providers.Models {
		cfg.Models = append(cfg.Models, providers.ModelSpec{
			Selector:          m.Selector,
			Provider:          m.Provider,
			Model:             m.Model,
			InputCostPer1M:    m.InputCostPer1M,
			OutputCostPer1M:   m.OutputCostPer1M,
			RequestsPerMinute: m.RequestsPerMinute,
		})
	}
	return cfg
}

// ToSafetyConfig converts the safety section for safety.NewService.
func (c *Config) ToSafetyConfig() safety.Config {
	return safety.Config{
		Window:              time.Duration(c.Safety.WindowMinutes) * time.Minute,
		MaxStartsPerWindow:  c.Safety.MaxStartsPerWindow,
		MaxOperationCostUSD: c.Safety.MaxOperationCostUSD,
	}
}

// Level parses the configured log level, defaulting to info.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
