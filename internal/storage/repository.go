// Package storage implements the persistence surface over PostgreSQL.
// The workers depend only on the capability interfaces below, so tests
// substitute in-memory fakes without a database.
package storage

import (
	"context"
	"errors"

	"github.com/pushkindt/pushkind-hedwig/internal/models"
)

// ErrNotFound is returned when a scoped lookup matches no row.
var ErrNotFound = errors.New("not found")

// HubReader reads hub configuration. The hub set is created externally;
// workers only read it.
type HubReader interface {
	GetHub(ctx context.Context, hubID int32) (*models.Hub, error)
	ListHubs(ctx context.Context) ([]models.Hub, error)
}

// HubWriter advances the per-hub inbound cursor. AdvanceUID is monotonic:
// a uid at or below the stored cursor is a silent no-op.
type HubWriter interface {
	AdvanceUID(ctx context.Context, hubID, uid int32) error
}

// EmailReader reads emails and their recipients. Every read is hub-scoped;
// a query never returns rows belonging to another hub.
type EmailReader interface {
	GetEmail(ctx context.Context, hubID, emailID int32) (*models.Email, error)
	ListRecipients(ctx context.Context, hubID, emailID int32) ([]models.Recipient, error)
}

// EmailWriter mutates emails, recipients and the unsubscribe set. Every
// recipient mutation recomputes the parent email's aggregate counters in
// the same transaction.
type EmailWriter interface {
	// CreateEmail inserts an email row together with its recipients.
	CreateEmail(ctx context.Context, payload models.NewEmailPayload) (*models.Email, error)
	// MarkSent flags one recipient as delivered.
	MarkSent(ctx context.Context, recipientID int32) error
	// ApplyReply records an inbound reply: is_sent and opened are set
	// unconditionally; a nil text keeps any previously stored reply,
	// a non-nil text overwrites it (last writer wins).
	ApplyReply(ctx context.Context, recipientID int32, text *string) error
	// MarkOpened records a tracking-pixel hit.
	MarkOpened(ctx context.Context, recipientID int32) error
	// AddUnsubscribe inserts a suppression row; inserting an existing
	// (hub, address) pair is a no-op, never an error.
	AddUnsubscribe(ctx context.Context, hubID int32, address string, reason *string) error
}
