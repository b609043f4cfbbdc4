// Package main provides the entry point for the timing engine daemon.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yourusername/apex-timing/internal/api"
	"github.com/yourusername/apex-timing/internal/classification"
	"github.com/yourusername/apex-timing/internal/config"
	"github.com/yourusername/apex-timing/internal/database"
	"github.com/yourusername/apex-timing/internal/health"
	"github.com/yourusername/apex-timing/internal/ingest"
	"github.com/yourusername/apex-timing/internal/live"
	applogger "github.com/yourusername/apex-timing/internal/logger"
	"github.com/yourusername/apex-timing/internal/metrics"
	"github.com/yourusername/apex-timing/internal/notify"
	"github.com/yourusername/apex-timing/internal/racecontrol"
	"github.com/yourusername/apex-timing/internal/repository"
	"github.com/yourusername/apex-timing/internal/scheduler"
	"github.com/yourusername/apex-timing/internal/tracing"
)

// Build information - set via ldflags
var (
	Version = "dev"
)

var configFile string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "./config/config.yaml", "Path to configuration file")
}

var rootCmd = &cobra.Command{
	Use:   "timingd",
	Short: "Motorsport timing and results engine",
	Long:  `Ingests timing readings from track-side collectors, maintains the append-mostly reading log and serves computed classifications, live projections and race-control commands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	webhookToken := os.Getenv("NOTIFY_WEBHOOK_TOKEN")
	if os.Getenv("AWS_SECRETS_ENABLED") == "true" {
		region := os.Getenv("AWS_REGION")
		secretName := os.Getenv("AWS_SECRET_NAME")
		if region == "" || secretName == "" {
			return fmt.Errorf("AWS_REGION and AWS_SECRET_NAME must be set when AWS_SECRETS_ENABLED is true")
		}
		token, err := config.LoadSecretsFromAWS(cfg, region, secretName)
		if err != nil {
			return fmt.Errorf("failed to load secrets: %w", err)
		}
		if token != "" {
			webhookToken = token
		}
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	appLog := applogger.NewLogger(cfg.App.LogLevel, cfg.App.Environment)
	appLog.WithFields(logrus.Fields{
		"environment": cfg.App.Environment,
		"log_level":   cfg.App.LogLevel,
		"version":     Version,
	}).Info("Apex Timing engine starting")

	metrics.InitRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.Initialize(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()
	appLog.Info("Database connection established, schema applied")

	repos, err := repository.NewRepositories(db)
	if err != nil {
		return fmt.Errorf("failed to initialize repositories: %w", err)
	}

	audit := applogger.NewAuditLogger(appLog)
	resultCache := classification.NewCache(cfg.Cache.TTL)
	engine := classification.NewEngine(repos, resultCache, appLog)

	hub := live.NewHub(appLog)
	sinks := []ingest.Notifier{hub, notify.NewEngineRefresher(engine, appLog)}
	if cfg.Notify.Enabled {
		sinks = append(sinks, notify.NewWebhookNotifier(cfg.Notify, webhookToken, appLog))
		appLog.WithField("webhook_url", cfg.Notify.WebhookURL).Info("Webhook notifications enabled")
	}
	notifier := notify.NewFanout(sinks...)

	pipeline := ingest.NewPipeline(repos, cfg.Ingestion, engine, notifier, audit, appLog)
	control := racecontrol.NewMachine(repos.Stage, engine, audit, appLog)

	healthServer := health.NewServer(health.Config{
		ServiceName: cfg.App.Name,
		Version:     Version,
		Port:        cfg.Health.Port,
		Logger:      appLog,
		DB:          db,
		Cache:       resultCache,
	})
	if err := healthServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start health server: %w", err)
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.NewScheduler(engine, resultCache, repos.Stage, appLog)
		if err := sched.ScheduleLiveRefresh(cfg.Scheduler.LiveRefreshSeconds); err != nil {
			return fmt.Errorf("failed to schedule live refresh: %w", err)
		}
		sweep := cfg.Cache.SweepInterval
		if sweep <= 0 {
			sweep = time.Hour
		}
		if err := sched.ScheduleCacheSweep(sweep); err != nil {
			return fmt.Errorf("failed to schedule cache sweep: %w", err)
		}
		if err := sched.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	server := api.NewServer(cfg.Server, pipeline, engine, control, hub, repos.Registration, cfg.Metrics.Enabled, appLog)
	if cfg.Tracing.Enabled {
		if err := tracing.Initialize(cfg.Tracing, appLog); err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		server.Use(tracing.Middleware(cfg.Tracing))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		appLog.WithField("signal", sig).Info("Shutdown signal received")
		cancel()
	}()

	healthServer.SetReady(true)
	err = server.Start(ctx)

	if sched != nil {
		if stopErr := sched.Stop(); stopErr != nil {
			appLog.WithError(stopErr).Error("Error stopping scheduler")
		}
	}
	appLog.Info("Apex Timing engine shut down")
	return err
}
