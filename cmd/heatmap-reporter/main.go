package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/debjordan/ModuleHeatmap/pkg/analytics"
	"github.com/debjordan/ModuleHeatmap/pkg/config"
	"github.com/debjordan/ModuleHeatmap/pkg/observability"
	"github.com/debjordan/ModuleHeatmap/pkg/report"
	"github.com/debjordan/ModuleHeatmap/pkg/storage/sqlstore"
)

var version = "dev"

var (
	configFile = flag.String("config", "", "Path to a YAML config file (overrides "+config.EnvConfigFile+")")
	schedule   = flag.String("schedule", "", "Cron schedule for the unused-module sweep (default: from config)")
	cutoffDays = flag.Int("days", 0, "Days without access before a module counts as unused (default: from config)")
	runOnce    = flag.Bool("run-once", false, "Run the sweep once and exit")
)

func main() {
	flag.Parse()

	if *configFile != "" {
		os.Setenv(config.EnvConfigFile, *configFile)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *schedule != "" {
		cfg.Reporter.Schedule = *schedule
	}
	if *cutoffDays > 0 {
		cfg.Reporter.CutoffDays = *cutoffDays
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).
		WithField("service", "heatmap-reporter").
		WithField("version", version)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Unused module reporter failed")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx := context.Background()

	// Nothing scrapes the reporter; sweep metrics go to a private registry.
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	store, err := sqlstore.Open(ctx, cfg.Storage, metrics)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	sinks := []analytics.ReportSink{report.NewLogSink(logger)}
	if cfg.Reporter.S3.Enabled() {
		client, err := report.NewS3Client(ctx, cfg.Reporter.S3)
		if err != nil {
			return err
		}
		s3Sink, err := report.NewS3Sink(client, cfg.Reporter.S3.Bucket, cfg.Reporter.S3.Prefix)
		if err != nil {
			return err
		}
		sinks = append(sinks, s3Sink)
		logger.WithField("bucket", cfg.Reporter.S3.Bucket).Info("Publishing reports to S3")
	}

	service := analytics.NewService(store, store, logger, metrics)
	sweeper := analytics.NewSweeper(service, store, sinks, logger, metrics)
	days := cfg.Reporter.CutoffDays

	if *runOnce {
		logger.Infof("Running unused module sweep with a %d day cutoff", days)
		result, err := sweeper.Run(ctx, days)
		if err != nil {
			return fmt.Errorf("sweep failed: %w", err)
		}
		logger.WithField("unused", result.TotalUnused()).Info("Sweep completed successfully")
		return nil
	}

	c := cron.New()
	_, err = c.AddFunc(cfg.Reporter.Schedule, func() {
		defer observability.RecoverPanic(logger, "unused module sweep")

		logger.Info("Starting scheduled unused module sweep")
		if _, err := sweeper.Run(ctx, days); err != nil {
			logger.WithError(err).Error("Scheduled sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	c.Start()
	logger.WithFields(map[string]interface{}{
		"schedule":    cfg.Reporter.Schedule,
		"cutoff_days": days,
	}).Info("Unused module reporter started")

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down gracefully...")

	// Let a running sweep finish
	stopCtx := c.Stop()
	<-stopCtx.Done()

	logger.Info("Reporter stopped")
	return nil
}
