// Package models defines the domain records shared by the hedwig workers.
package models

import "time"

// Hub is one customer account: SMTP and IMAP endpoints, the outer body
// template, and the inbound cursor. The hub set is frozen at startup; the
// workers write nothing back except LastProcessedUID.
type Hub struct {
	ID int32

	SMTPHost     string
	SMTPPort     int
	SMTPLogin    string
	SMTPPassword string
	Sender       string

	IMAPHost     string
	IMAPPort     int
	IMAPLogin    string
	IMAPPassword string

	// Template is the outer body template rendered around every message.
	// May be empty, in which case the per-recipient body is used as-is.
	Template string

	// LastProcessedUID is the highest IMAP UID the replier has committed
	// state for. Monotonically non-decreasing.
	LastProcessedUID int32

	UnsubscribeURL string
}

// Email is one delivery job's payload: a subject, a pre-render body
// template, an optional attachment, and aggregate counters maintained by
// the storage layer.
type Email struct {
	ID    int32
	HubID int32

	Subject string
	// Body is the per-recipient template, rendered against each
	// recipient's Fields before the hub template wraps it.
	Body string

	Attachment     []byte
	AttachmentName string
	AttachmentMime string

	NumSent    int
	NumOpened  int
	NumReplied int
}

// HasAttachment reports whether the email carries an attachment part.
func (e *Email) HasAttachment() bool {
	return len(e.Attachment) > 0
}

// Recipient is one addressee of an email. ID is stable for the life of the
// row and doubles as the correlation token embedded in outbound Message-IDs.
type Recipient struct {
	ID      int32
	EmailID int32

	Address string
	Name    string
	// Fields holds the per-recipient template variables.
	Fields map[string]string

	IsSent    bool
	Opened    bool
	Reply     *string
	UpdatedAt time.Time
}

// Unsubscribe is one (hub, address) suppression entry. Insertion is
// idempotent; rows are never updated or deleted.
type Unsubscribe struct {
	HubID     int32
	Address   string
	Reason    *string
	CreatedAt time.Time
}

// NewRecipient is the recipient shape carried inside a NewEmail job.
type NewRecipient struct {
	Address string            `json:"address"`
	Name    string            `json:"name"`
	Fields  map[string]string `json:"fields"`
}

// NewEmailPayload is the body of a NewEmail job: everything needed to
// insert an email row together with its recipients.
type NewEmailPayload struct {
	HubID          int32          `json:"hub_id"`
	Subject        string         `json:"subject"`
	Body           string         `json:"body"`
	Attachment     []byte         `json:"attachment,omitempty"`
	AttachmentName string         `json:"attachment_name,omitempty"`
	AttachmentMime string         `json:"attachment_mime,omitempty"`
	Recipients     []NewRecipient `json:"recipients"`
}
