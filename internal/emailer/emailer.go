// Package emailer consumes delivery jobs from the bus, renders and builds
// per-recipient messages and submits them over SMTP.
package emailer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/pushkindt/pushkind-hedwig/internal/bus"
	"github.com/pushkindt/pushkind-hedwig/internal/mailer"
	"github.com/pushkindt/pushkind-hedwig/internal/models"
	"github.com/pushkindt/pushkind-hedwig/internal/render"
	"github.com/pushkindt/pushkind-hedwig/internal/storage"
)

// Store is the persistence surface the sender needs.
type Store interface {
	storage.HubReader
	storage.EmailReader
	storage.EmailWriter
}

// Service is the sender worker: one supervisor loop reading the bus, one
// detached goroutine per received job.
type Service struct {
	store  Store
	mailer mailer.Mailer
	sub    bus.Subscriber
	domain string
	rate   float64
	logger *slog.Logger

	mu       sync.Mutex
	limiters map[int32]*rate.Limiter
}

// New wires a sender. sendRate caps SMTP submissions per hub in
// messages/second; zero or negative disables throttling.
func New(store Store, m mailer.Mailer, sub bus.Subscriber, domain string, sendRate float64, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		mailer:   m,
		sub:      sub,
		domain:   domain,
		rate:     sendRate,
		logger:   logger,
		limiters: make(map[int32]*rate.Limiter),
	}
}

// Run receives jobs until the bus breaks. Malformed payloads are logged
// and skipped; a transport-level receive error is fatal and returned so an
// external supervisor restarts the worker.
func (s *Service) Run(ctx context.Context) error {
	for {
		payload, err := s.sub.Recv()
		if err != nil {
			return fmt.Errorf("bus receive: %w", err)
		}

		var job bus.Job
		if err := json.Unmarshal(payload, &job); err != nil {
			s.logger.Error("malformed job payload skipped", "error", err)
			continue
		}

		// Jobs are fire-and-forget; completion order is unconstrained
		// and the supervisor never joins them.
		go s.process(ctx, uuid.NewString(), job)
	}
}

func (s *Service) process(ctx context.Context, jobID string, job bus.Job) {
	logger := s.logger.With("job_id", jobID)

	var (
		email *models.Email
		hubID int32
		err   error
	)
	switch {
	case job.Retry != nil:
		hubID = job.Retry.HubID
		logger = logger.With("hub_id", hubID, "email_id", job.Retry.EmailID)
		email, err = s.store.GetEmail(ctx, hubID, job.Retry.EmailID)
	case job.New != nil:
		hubID = job.New.Payload.HubID
		logger = logger.With("hub_id", hubID)
		email, err = s.store.CreateEmail(ctx, job.New.Payload)
		if err == nil {
			logger = logger.With("email_id", email.ID)
		}
	default:
		logger.Error("job names no variant, skipped")
		return
	}
	if err != nil {
		logger.Error("job abandoned", "error", err)
		return
	}

	hub, err := s.store.GetHub(ctx, hubID)
	if err != nil {
		logger.Error("job abandoned: hub lookup failed", "error", err)
		return
	}

	recipients, err := s.store.ListRecipients(ctx, hubID, email.ID)
	if err != nil {
		logger.Error("job abandoned: recipient lookup failed", "error", err)
		return
	}

	limiter := s.limiter(hub.ID)
	sent := 0
	for i := range recipients {
		r := &recipients[i]
		// Already-delivered recipients are skipped, which is what
		// makes RetryEmail safe to re-publish.
		if r.IsSent {
			continue
		}
		rlog := logger.With("recipient_id", r.ID)

		html := render.Body(hub, email, r)
		msg, err := mailer.Build(hub, email, r, html, s.domain)
		if err != nil {
			rlog.Error("message build failed", "error", err)
			continue
		}

		if err := limiter.Wait(ctx); err != nil {
			rlog.Warn("job cancelled while throttled", "error", err)
			return
		}

		if err := s.mailer.Send(ctx, hub, msg); err != nil {
			rlog.Error("smtp send failed", "error", err)
			continue
		}

		if err := s.store.MarkSent(ctx, r.ID); err != nil {
			// The send flag is what keeps a retry from double
			// sending; without it the job cannot continue safely.
			rlog.Error("job abandoned: mark sent failed", "error", err)
			return
		}
		sent++
	}

	logger.Info("job finished", "recipients", len(recipients), "sent", sent)
}

func (s *Service) limiter(hubID int32) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.limiters[hubID]; ok {
		return l
	}

	limit := rate.Inf
	if s.rate > 0 {
		limit = rate.Limit(s.rate)
	}
	l := rate.NewLimiter(limit, 1)
	s.limiters[hubID] = l
	return l
}
