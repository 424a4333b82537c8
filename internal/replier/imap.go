package replier

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/pushkindt/pushkind-hedwig/internal/models"
	"github.com/pushkindt/pushkind-hedwig/internal/secrets"
)

// Session is one authenticated IMAP connection with INBOX selected. The
// monitor drives it; implementations are not safe for concurrent use and
// each hub task owns exactly one.
type Session interface {
	// Search returns candidate UIDs from fromUID upwards, ascending.
	Search(fromUID uint32) ([]uint32, error)
	// Fetch returns the raw RFC-822 bytes of one message without
	// touching its flags (BODY.PEEK).
	Fetch(uid uint32) ([]byte, error)
	// Idle blocks until new mail arrives, ctx is cancelled, or the
	// connection breaks. A nil return means "re-scan the mailbox".
	Idle(ctx context.Context) error
	Close() error
}

// DialFunc opens a Session for a hub. The monitor re-dials through this on
// every restart, so tests can substitute scripted sessions.
type DialFunc func(hub *models.Hub) (Session, error)

type imapSession struct {
	client *client.Client
}

// DialHub connects to the hub's IMAP endpoint over implicit TLS with a
// verified certificate, logs in and selects INBOX.
func DialHub(hub *models.Hub) (Session, error) {
	password, err := secrets.Reveal(hub.IMAPPassword)
	if err != nil {
		return nil, fmt.Errorf("hub %d imap credentials: %w", hub.ID, err)
	}

	addr := fmt.Sprintf("%s:%d", hub.IMAPHost, hub.IMAPPort)
	c, err := client.DialTLS(addr, &tls.Config{
		ServerName: hub.IMAPHost,
		MinVersion: tls.VersionTLS12,
	})
	if err != nil {
		return nil, fmt.Errorf("imap connect %s: %w", addr, err)
	}

	if err := c.Login(hub.IMAPLogin, password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("imap login: %w", err)
	}

	if _, err := c.Select("INBOX", false); err != nil {
		c.Logout()
		return nil, fmt.Errorf("imap select INBOX: %w", err)
	}

	return &imapSession{client: c}, nil
}

func (s *imapSession) Search(fromUID uint32) ([]uint32, error) {
	seq := new(imap.SeqSet)
	seq.AddRange(fromUID, 0) // fromUID:*

	criteria := imap.NewSearchCriteria()
	criteria.Uid = seq

	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, err
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (s *imapSession) Fetch(uid uint32) ([]byte, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	// PEEK keeps the \Seen flag untouched.
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.client.UidFetch(seqSet, items, messages)
	}()

	var raw []byte
	var readErr error
	for msg := range messages {
		if raw != nil || readErr != nil {
			continue
		}
		if r := msg.GetBody(section); r != nil {
			raw, readErr = io.ReadAll(r)
		}
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	if readErr != nil {
		return nil, fmt.Errorf("read body of uid %d: %w", uid, readErr)
	}
	if raw == nil {
		return nil, fmt.Errorf("uid %d: server returned no body", uid)
	}
	return raw, nil
}

func (s *imapSession) Idle(ctx context.Context) error {
	updates := make(chan client.Update, 8)
	s.client.Updates = updates
	defer func() { s.client.Updates = nil }()

	stop := make(chan struct{})
	stopped := false
	stopIdle := func() {
		if !stopped {
			close(stop)
			stopped = true
		}
	}

	done := make(chan error, 1)
	go func() {
		// The client falls back to NOOP polling on servers without
		// IDLE and restarts the command before the server timeout.
		done <- s.client.Idle(stop, &client.IdleOptions{
			LogoutTimeout: 25 * time.Minute,
		})
	}()

	for {
		select {
		case update := <-updates:
			if _, ok := update.(*client.MailboxUpdate); ok {
				stopIdle()
			}
		case <-ctx.Done():
			stopIdle()
			<-done
			return ctx.Err()
		case err := <-done:
			return err
		}
	}
}

func (s *imapSession) Close() error {
	return s.client.Logout()
}
