package replier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/pushkindt/pushkind-hedwig/internal/bus"
	"github.com/pushkindt/pushkind-hedwig/internal/models"
	"github.com/pushkindt/pushkind-hedwig/internal/storage"
)

// Store is the persistence surface the monitor needs.
type Store interface {
	storage.HubReader
	storage.HubWriter
	storage.EmailWriter
}

// Monitor watches every hub's inbox and converts inbound mail into
// recipient state transitions and bus events.
type Monitor struct {
	store   Store
	pub     bus.Publisher
	dial    DialFunc
	domain  string
	backoff time.Duration
	logger  *slog.Logger
}

// NewMonitor wires a monitor. backoff is the sleep between reconnection
// attempts of a hub task; it must be non-zero to avoid tight spinning.
func NewMonitor(store Store, pub bus.Publisher, dial DialFunc, domain string, backoff time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{
		store:   store,
		pub:     pub,
		dial:    dial,
		domain:  domain,
		backoff: backoff,
		logger:  logger,
	}
}

// Run starts one task per hub and blocks until ctx is cancelled. The hub
// set is read once here and stays frozen for the process lifetime; each
// task re-reads its own hub's row on reconnect to pick up config edits.
func (m *Monitor) Run(ctx context.Context) error {
	hubs, err := m.store.ListHubs(ctx)
	if err != nil {
		return fmt.Errorf("list hubs: %w", err)
	}
	if len(hubs) == 0 {
		m.logger.Warn("no hubs configured, nothing to monitor")
		<-ctx.Done()
		return nil
	}

	var wg sync.WaitGroup
	for _, hub := range hubs {
		wg.Add(1)
		go func(hubID int32) {
			defer wg.Done()
			m.watchHub(ctx, hubID)
		}(hub.ID)
	}
	wg.Wait()
	return nil
}

// watchHub is the restart loop: dial, run the session until it breaks,
// sleep, repeat. Configuration edits are picked up on reconnect because the
// hub row is re-fetched each round.
func (m *Monitor) watchHub(ctx context.Context, hubID int32) {
	logger := m.logger.With("hub_id", hubID)

	for ctx.Err() == nil {
		if err := m.runSession(ctx, hubID, logger); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("imap session failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.backoff):
		}
	}
}

func (m *Monitor) runSession(ctx context.Context, hubID int32, logger *slog.Logger) error {
	hub, err := m.store.GetHub(ctx, hubID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Error(fmt.Sprintf("Hub#%d not found", hubID))
			return nil
		}
		return fmt.Errorf("fetch hub: %w", err)
	}

	session, err := m.dial(hub)
	if err != nil {
		return err
	}
	defer session.Close()
	logger.Info("imap session established")

	cursor := hub.LastProcessedUID
	for {
		cursor, err = m.drain(ctx, hub, session, cursor, logger)
		if err != nil {
			return err
		}
		if err := session.Idle(ctx); err != nil {
			return err
		}
	}
}

// drain processes every candidate UID above the cursor in order. The
// cursor advances only after a UID's side effects have been attempted;
// fetch, state-write and cursor-write failures abort the session so the
// restart loop retries the same UID.
func (m *Monitor) drain(ctx context.Context, hub *models.Hub, session Session, cursor int32, logger *slog.Logger) (int32, error) {
	uids, err := session.Search(uint32(cursor) + 1)
	if err != nil {
		return cursor, fmt.Errorf("uid search: %w", err)
	}

	for _, uid := range uids {
		// Candidates that don't fit int32 or sit at or below the
		// cursor are silently ignored.
		if uid > math.MaxInt32 || int32(uid) <= cursor {
			continue
		}

		raw, err := session.Fetch(uid)
		if err != nil {
			return cursor, fmt.Errorf("uid fetch %d: %w", uid, err)
		}

		if err := m.apply(ctx, hub, raw, logger.With("uid", uid)); err != nil {
			return cursor, err
		}

		if err := m.store.AdvanceUID(ctx, hub.ID, int32(uid)); err != nil {
			return cursor, fmt.Errorf("advance cursor to %d: %w", uid, err)
		}
		cursor = int32(uid)
	}
	return cursor, nil
}

// apply writes the classified result and publishes the matching event.
// Publishing is best-effort: a failed publish is logged and the UID still
// counts as processed. A repository failure is returned so the session
// restarts and the UID is retried.
func (m *Monitor) apply(ctx context.Context, hub *models.Hub, raw []byte, logger *slog.Logger) error {
	c, err := Parse(raw, m.domain)
	if err != nil {
		logger.Warn("unparseable message ignored", "error", err)
		return nil
	}

	switch {
	case c.Reply != nil:
		reply := c.Reply
		logger = logger.With("recipient_id", reply.RecipientID)

		// An empty reply still marks the recipient as reached, but
		// must not clear a previously stored reply text.
		var text *string
		if reply.Text != "" {
			text = &reply.Text
		}

		if err := m.store.ApplyReply(ctx, reply.RecipientID, text); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				logger.Warn("reply for unknown recipient ignored")
				return nil
			}
			return fmt.Errorf("apply reply: %w", err)
		}

		event := bus.ReplyMessage{
			HubID:   hub.ID,
			Email:   reply.Address,
			Message: reply.Text,
			Subject: reply.Subject,
		}
		if err := m.pub.Publish(event); err != nil {
			logger.Error("publish reply event failed", "error", err)
		}
		logger.Info("reply recorded", "from", reply.Address)

	case c.Unsubscribe != nil:
		unsub := c.Unsubscribe
		if err := m.store.AddUnsubscribe(ctx, hub.ID, unsub.Address, unsub.Reason); err != nil {
			return fmt.Errorf("add unsubscribe: %w", err)
		}

		event := bus.UnsubscribeMessage{
			HubID:  hub.ID,
			Email:  unsub.Address,
			Reason: unsub.Reason,
		}
		if err := m.pub.Publish(event); err != nil {
			logger.Error("publish unsubscribe event failed", "error", err)
		}
		logger.Info("unsubscribe recorded", "from", unsub.Address)

	default:
		logger.Debug("message ignored")
	}
	return nil
}
