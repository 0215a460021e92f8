package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/forseti/pkg/cli"
	"mercator-hq/forseti/pkg/config"
	"mercator-hq/forseti/pkg/engine"
	"mercator-hq/forseti/pkg/rulebase"
	celcompiler "mercator-hq/forseti/pkg/rulebase/cel"
	"mercator-hq/forseti/pkg/telemetry/logging"
	"mercator-hq/forseti/pkg/telemetry/metrics"
)

var runFlags struct {
	rulesPath string
	logLevel  string
	dryRun    bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Forseti rule engine",
	Long: `Start the rule engine with the specified configuration.

The engine compiles the configured rule sources, serves evaluations, and
keeps watching the sources so edits go live without a restart.

Examples:
  # Start with default config
  forseti run

  # Start with custom config
  forseti run --config /etc/forseti/config.yaml

  # Override the rules directory
  forseti run --rules ./rules

  # Validate config and rules without serving
  forseti run --dry-run`,
	RunE: runEngine,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.rulesPath, "rules", "r", "", "override rules path")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config and rules without serving")
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError(cfgFile, err.Error())
	}

	// Apply flag overrides
	if runFlags.rulesPath != "" {
		cfg.Rules.Path = runFlags.rulesPath
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	logger, err := logging.NewLogger(cfg.Telemetry.Logging, os.Stdout)
	if err != nil {
		return cli.NewConfigError(cfgFile, err.Error())
	}
	slog.SetDefault(logger)

	repo, err := rulebase.NewFileRepository(&rulebase.FileRepositoryConfig{
		Path:        cfg.Rules.Path,
		Extensions:  cfg.Rules.Extensions,
		MaxFileSize: cfg.Rules.MaxFileSize,
		SkipHidden:  true,
	})
	if err != nil {
		return cli.NewConfigError(cfgFile, err.Error())
	}

	var collector *metrics.Collector
	if cfg.Telemetry.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Telemetry.Metrics, nil)
	}

	eng, err := engine.New(cfg, celcompiler.NewCompiler(), repo, logger, collector)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer eng.Close()

	ctx := cli.SetupSignalHandler()

	if err := eng.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}

	status := eng.Status()
	fmt.Printf("✓ Rule base compiled (%d rules, version %d)\n", status.RuleCount, status.RuleBaseVersion)
	fmt.Printf("✓ Session pool ready (max %d)\n", status.Pool.MaxSize)

	if runFlags.dryRun {
		fmt.Println("✓ Configuration and rules valid")
		return nil
	}

	var metricsSrv *http.Server
	errChan := make(chan error, 1)
	if collector != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		metricsSrv = &http.Server{
			Addr:              cfg.Telemetry.Metrics.ListenAddress,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics endpoint listening", "address", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- fmt.Errorf("metrics server: %w", err)
			}
		}()
		fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", cfg.Telemetry.Metrics.ListenAddress)
	}

	fmt.Println("\nPress Ctrl+C to stop")

	select {
	case err := <-errChan:
		return cli.NewCommandError("run", err)
	case <-ctx.Done():
		fmt.Println("\nReceived shutdown signal, stopping gracefully...")

		if metricsSrv != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				logger.Error("metrics server shutdown failed", "error", err)
			}
		}

		fmt.Println("✓ Engine stopped")
		return nil
	}
}
