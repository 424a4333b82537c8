// Package main implements the replier worker.
// This background process keeps one IMAP session per hub, classifies
// inbound mail as replies, bounces or unsubscribe requests, records
// recipient state transitions and republishes structured events on the bus.
//
// Environment Variables:
//
//	DOMAIN           - Public domain matched against inbound In-Reply-To (required)
//	DATABASE_URL     - PostgreSQL connection string (required)
//	ZMQ_EMAILER_SUB  - ZeroMQ endpoint the emailer subscribes on (required)
//	ZMQ_REPLIER_PUB  - ZeroMQ endpoint to publish reply/unsubscribe events (required)
//	MONITOR_BACKOFF  - Sleep between IMAP reconnection attempts (default: 5s)
//	HUB_SECRET_KEY   - AES-256 master key for encrypted hub credentials (optional)
//	SENTRY_DSN       - Sentry error reporting (optional)
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"

	"github.com/pushkindt/pushkind-hedwig/internal/bus"
	"github.com/pushkindt/pushkind-hedwig/internal/config"
	"github.com/pushkindt/pushkind-hedwig/internal/replier"
	"github.com/pushkindt/pushkind-hedwig/internal/storage"
	"github.com/pushkindt/pushkind-hedwig/pkg/logger"
)

func main() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	logg := logger.Setup(cfg.Env, "replier")

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Environment: cfg.Env,
		}); err != nil {
			logg.Error("sentry_init_failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
			logg.Info("sentry_initialized")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logg.Info("shutdown signal received")
		cancel()
	}()

	store, err := storage.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	pub, err := bus.NewPublisher(ctx, cfg.ReplierPubEndpoint)
	if err != nil {
		log.Fatalf("Failed to open event publisher: %v", err)
	}
	defer pub.Close()

	monitor := replier.NewMonitor(store, pub, replier.DialHub, cfg.Domain, cfg.MonitorBackoff, logg)

	logg.Info("replier started",
		"pub_endpoint", cfg.ReplierPubEndpoint,
		"domain", cfg.Domain,
		"backoff", cfg.MonitorBackoff,
	)

	if err := monitor.Run(ctx); err != nil {
		sentry.CaptureException(err)
		logg.Error("replier terminated", "error", err)
		os.Exit(1)
	}

	logg.Info("replier stopped")
}
