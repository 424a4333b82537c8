// Package main implements the tracker service: the HTTP surface behind the
// tracking pixel and the unsubscribe links embedded in outbound mail. It
// shares the database with the workers but neither worker depends on it.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/pushkindt/pushkind-hedwig/internal/config"
	"github.com/pushkindt/pushkind-hedwig/internal/storage"
	"github.com/pushkindt/pushkind-hedwig/pkg/logger"
)

// pixel is a 1x1 transparent GIF.
var pixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

func main() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	logg := logger.Setup(cfg.Env, "tracker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/track/{recipientID}", func(w http.ResponseWriter, req *http.Request) {
		// The pixel is always served; a bad id must not break mail
		// clients rendering the message.
		if id, err := strconv.ParseInt(chi.URLParam(req, "recipientID"), 10, 32); err == nil {
			if err := store.MarkOpened(req.Context(), int32(id)); err != nil && !errors.Is(err, storage.ErrNotFound) {
				logg.Error("mark opened failed", "recipient_id", id, "error", err)
			}
		}
		w.Header().Set("Content-Type", "image/gif")
		w.Header().Set("Cache-Control", "no-store")
		w.Write(pixel)
	})

	r.Get("/unsubscribe", func(w http.ResponseWriter, req *http.Request) {
		hubID, err := strconv.ParseInt(req.URL.Query().Get("hub"), 10, 32)
		address := req.URL.Query().Get("email")
		if err != nil || address == "" {
			http.Error(w, "missing hub or email", http.StatusBadRequest)
			return
		}

		reason := "link"
		if err := store.AddUnsubscribe(req.Context(), int32(hubID), address, &reason); err != nil {
			logg.Error("unsubscribe failed", "hub_id", hubID, "error", err)
			http.Error(w, "try again later", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("You have been unsubscribed.\n"))
	})

	srv := &http.Server{
		Addr:              cfg.TrackerAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logg.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
		cancel()
	}()

	logg.Info("tracker started", "addr", cfg.TrackerAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Tracker server failed: %v", err)
	}
	logg.Info("tracker stopped")
}
