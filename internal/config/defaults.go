package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		StoragePath: "glosspipe.db",
		LogFile:     "glosspipe.log",
		LogLevel:    "info",
		Providers: ProvidersCfg{
			OpenAI: OpenAICfg{
				APIKey:         "${OPENAI_API_KEY}",
				RateLimit:      150,
				MaxRetries:     3,
				TimeoutSeconds: 120,
				Enabled:        true,
			},
			Models: []ModelCfg{
				{
					Selector:          "gpt-4o-mini",
					Provider:          "openai",
					Model:             "gpt-4o-mini",
					InputCostPer1M:    0.15,
					OutputCostPer1M:   0.60,
					RequestsPerMinute: 150,
				},
				{
					Selector:          "gpt-4o",
					Provider:          "openai",
					Model:             "gpt-4o",
					InputCostPer1M:    2.50,
					OutputCostPer1M:   10.00,
					RequestsPerMinute: 60,
				},
			},
		},
		Import: ImportCfg{
			ChunkSize:     100,
			MemCheckEvery: 5000,
			MemCeilingMB:  512,
		},
		Batch: BatchCfg{
			ChunkSize:            100,
			MaxConcurrentBatches: 3,
			Temperature:          0.7,
			MaxTokens:            1024,
			DefaultModel:         "gpt-4o-mini",
			FallbackModel:        "gpt-4o",
		},
		Safety: SafetyCfg{
			WindowMinutes:       60,
			MaxStartsPerWindow:  10,
			MaxOperationCostUSD: 100,
		},
		Progress: ProgressCfg{
			IntervalSeconds: 5,
			Milestones:      []int{25, 50, 75, 100},
		},
	}
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# glosspipe configuration
# API keys use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell: export OPENAI_API_KEY=xxx

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
