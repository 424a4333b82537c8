// Package main implements the emailer worker.
// This background process subscribes to the delivery-job bus, renders and
// builds per-recipient MIME messages and submits them over implicit-TLS
// SMTP with each hub's credentials.
//
// Environment Variables:
//
//	DOMAIN           - Public domain for Message-IDs and the tracking pixel (required)
//	DATABASE_URL     - PostgreSQL connection string (required)
//	ZMQ_EMAILER_SUB  - ZeroMQ endpoint to subscribe for jobs (required)
//	ZMQ_REPLIER_PUB  - ZeroMQ endpoint the replier publishes on (required)
//	SEND_RATE        - Max SMTP submissions per hub per second (default: 10)
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
	"github.com/pushkindt/pushkind-hedwig/internal/emailer"
	"github.com/pushkindt/pushkind-hedwig/internal/mailer"
	"github.com/pushkindt/pushkind-hedwig/internal/storage"
	"github.com/pushkindt/pushkind-hedwig/pkg/logger"
)

func main() {
	// In production these files don't exist and the real environment wins.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	logg := logger.Setup(cfg.Env, "emailer")

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

	sub, err := bus.NewSubscriber(ctx, cfg.EmailerSubEndpoint)
	if err != nil {
		log.Fatalf("Failed to open job subscription: %v", err)
	}
	defer sub.Close()

	svc := emailer.New(store, &mailer.SMTPMailer{}, sub, cfg.Domain, cfg.SendRate, logg)

	logg.Info("emailer started",
		"sub_endpoint", cfg.EmailerSubEndpoint,
		"domain", cfg.Domain,
		"send_rate", cfg.SendRate,
	)

	if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
		// A broken bus is fatal; the external supervisor restarts us.
		sentry.CaptureException(err)
		logg.Error("emailer terminated", "error", err)
		os.Exit(1)
	}

	logg.Info("emailer stopped")
}
