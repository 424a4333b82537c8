package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"github.com/pushkindt/pushkind-hedwig/internal/models"
	"github.com/pushkindt/pushkind-hedwig/internal/secrets"
)

// SMTPMailer submits messages over implicit TLS (port 465 convention) with
// the hub's credentials. Certificates are verified; TLS < 1.2 is refused.
// The decrypted password lives only on the stack of a Send call.
type SMTPMailer struct {
	// DialTimeout bounds the TCP+TLS handshake. Zero means 10s.
	DialTimeout time.Duration
}

func (m *SMTPMailer) Send(ctx context.Context, hub *models.Hub, msg *Message) error {
	password, err := secrets.Reveal(hub.SMTPPassword)
	if err != nil {
		return fmt.Errorf("hub %d smtp credentials: %w", hub.ID, err)
	}

	timeout := m.DialTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}

	addr := fmt.Sprintf("%s:%d", hub.SMTPHost, hub.SMTPPort)
	tlsConfig := &tls.Config{
		ServerName: hub.SMTPHost,
		MinVersion: tls.VersionTLS12,
	}

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("smtp connect %s: %w", addr, err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, hub.SMTPHost)
	if err != nil {
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Quit()

	auth := smtp.PlainAuth("", hub.SMTPLogin, password, hub.SMTPHost)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}

	if err := client.Mail(msg.From); err != nil {
		return fmt.Errorf("smtp MAIL: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return fmt.Errorf("smtp RCPT: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg.Raw); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp finalize: %w", err)
	}

	return nil
}
