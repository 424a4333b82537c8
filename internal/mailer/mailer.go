// Package mailer builds outbound MIME messages and submits them over
// implicit-TLS SMTP using per-hub credentials.
package mailer

import (
	"context"

	"github.com/pushkindt/pushkind-hedwig/internal/models"
)

// Mailer is the single-operation submission contract. Implementations must
// be safe for concurrent use; one call transmits one envelope to one
// recipient and never retries.
type Mailer interface {
	Send(ctx context.Context, hub *models.Hub, msg *Message) error
}

// Message is a built MIME message together with its SMTP envelope.
type Message struct {
	From string
	To   string
	Raw  []byte
}
