package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/finbert-ci/collector/pkg/config"
	"github.com/finbert-ci/collector/pkg/dedup"
	"github.com/finbert-ci/collector/pkg/metrics"
	"github.com/finbert-ci/collector/pkg/pipeline"
	"github.com/finbert-ci/collector/pkg/reddit"
	"github.com/finbert-ci/collector/pkg/reporting"
	"github.com/finbert-ci/collector/pkg/sentiment"
	"github.com/finbert-ci/collector/pkg/sink"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Args:  cobra.NoArgs,
	Short: "Execute one collection pass",
	Long:  `Loads configuration from file and environment, then runs one pipeline pass.`,
	RunE:  runCollection,
}

func runCollection(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	// Initialize logger
	logLevel := reporting.LogLevel(cfg.Log.Level)
	if verbose {
		logLevel = reporting.LogLevelDebug
	}

	logger := reporting.NewLogger(reporting.LoggerConfig{
		Level:  logLevel,
		Format: reporting.LogFormat(cfg.Log.Format),
		Output: os.Stdout,
	})

	logger.Info("collector starting", "version", version, "commit", commit)

	// Metrics registry always exists; only the scrape endpoint is optional.
	registry := metrics.NewRegistry()
	registry.SetBuildInfo(version, commit, buildDate)

	if cfg.Metrics.Enabled {
		server := metrics.NewServer(cfg.Metrics.Port, registry, logger)
		if err := server.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown failed", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open the seen-store
	store, err := dedup.Open(cfg.Dedup.DBPath, cfg.Dedup.Capacity, cfg.Dedup.FalsePositiveRate, logger)
	if err != nil {
		registry.SetPipelineStatus(metrics.StatusFailed)
		return err
	}
	defer store.Close()

	// Construct the classifier
	analyzer, err := buildAnalyzer(ctx, cfg, registry, logger)
	if err != nil {
		registry.SetPipelineStatus(metrics.StatusFailed)
		return err
	}
	defer analyzer.Close()

	// Open the output sink
	out, err := sink.Open(cfg.Pipeline.OutputPath)
	if err != nil {
		registry.SetPipelineStatus(metrics.StatusFailed)
		return err
	}
	defer out.Close()

	// Authenticate against the source
	source, err := reddit.New(ctx, reddit.Config{
		ClientID:           cfg.Reddit.ClientID,
		ClientSecret:       cfg.Reddit.ClientSecret,
		UserAgent:          cfg.Reddit.UserAgent,
		MinRequestInterval: cfg.Reddit.MinRequestInterval,
		RequestTimeout:     cfg.Reddit.RequestTimeout,
	}, logger)
	if err != nil {
		registry.SetPipelineStatus(metrics.StatusFailed)
		return fmt.Errorf("source client: %w", err)
	}
	defer source.Close()

	// Execute the run
	orch := pipeline.New(cfg, source, store, analyzer, out, registry, logger)
	report, runErr := orch.Execute(ctx)

	// Persist the run report regardless of outcome
	if cfg.Reporting.OutputDir != "" {
		storage, err := reporting.NewStorage(cfg.Reporting.OutputDir, cfg.Reporting.KeepLastN, logger)
		if err != nil {
			logger.Warn("report storage unavailable", "error", err)
		} else if _, err := storage.SaveReport(report); err != nil {
			logger.Warn("failed to save run report", "error", err)
		}
	}

	if runErr != nil {
		return fmt.Errorf("collection run failed: %w", runErr)
	}

	logger.Info("collection run completed",
		"processed", report.Processed,
		"deduplicated", report.Deduplicated)
	return nil
}

// buildAnalyzer constructs the configured classifier: the FinBERT-backed
// engine, or the neutral stub when sentiment is disabled.
func buildAnalyzer(ctx context.Context, cfg *config.Config, registry *metrics.Registry, logger *reporting.Logger) (sentiment.Analyzer, error) {
	if !cfg.Sentiment.Enabled {
		logger.Info("sentiment disabled, every record will be neutral")
		return sentiment.NewNeutral(), nil
	}

	start := time.Now()
	model, err := sentiment.NewFinBERT(ctx, sentiment.FinBERTConfig{
		Endpoint: cfg.Sentiment.Endpoint,
		ModelID:  cfg.Sentiment.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	registry.ObserveModelLoad(time.Since(start))

	logger.Info("classifier ready",
		"model", cfg.Sentiment.Model,
		"load_duration", time.Since(start).Round(time.Millisecond).String())

	return sentiment.NewEngine(model, sentiment.EngineConfig{
		BatchSize:    cfg.Sentiment.BatchSize,
		MaxTextChars: cfg.Sentiment.MaxTextChars,
	}, logger, registry), nil
}
