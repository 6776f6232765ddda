package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"glosspipe/internal/batch"
	"glosspipe/internal/config"
	"glosspipe/internal/costs"
	"glosspipe/internal/importer"
	"glosspipe/internal/progress"
	"glosspipe/internal/providers"
	"glosspipe/internal/safety"
	"glosspipe/internal/store"
	"glosspipe/internal/svcctx"
	"glosspipe/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "glosspipe",
	Short: "AI/ML glossary ingestion and governed content generation",
	Long: `Glosspipe ingests large glossary spreadsheets into a local term store
and enriches terms with generated section content under cost and
safety governance.

The pipeline includes:
  - Structure-aware CSV ingestion with resumable checkpoints
  - A 42-section content schema with per-section parse strategies
  - Batch generation operations with pause/resume/cancel control
  - Cost estimation, budget enforcement, and an emergency stop`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.glosspipe/config.yaml)",
	)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initConfigCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(estimateCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(budgetCmd)
	rootCmd.AddCommand(safetyCmd)
	rootCmd.AddCommand(progressCmd)
}

// loadServices builds the service bundle for one command invocation.
// The returned cleanup closes the store and log file.
func loadServices() (*svcctx.Services, func(), error) {
	cm, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	cfg := cm.Get()

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.Level())

	st, err := store.Open(cfg.StoragePath)
	if err != nil {
		closeLog()
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	registry := providers.NewRegistryFromConfig(cfg.ToRegistryConfig(), logger)
	cm.OnChange(func(c *config.Config) {
		registry.Reload(c.ToRegistryConfig())
	})
	cm.WatchConfig()

	sf := safety.NewService(cfg.ToSafetyConfig(), logger)
	estimator := costs.NewEstimator(st, registry, logger)
	enforcer := costs.NewEnforcer(st, estimator, logger)

	svcs := &svcctx.Services{
		Config:    cm,
		Store:     st,
		Registry:  registry,
		Safety:    sf,
		Estimator: estimator,
		Enforcer:  enforcer,
		Importer:  importer.New(st, logger),
		Batches:   batch.NewManager(st, registry, sf, enforcer, logger),
		Tracker:   progress.NewTracker(st, logger),
		Logger:    logger,
	}
	cleanup := func() {
		st.Close()
		closeLog()
	}
	return svcs, cleanup, nil
}
