package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pushkindt/pushkind-hedwig/internal/models"
)

func (s *Store) GetEmail(ctx context.Context, hubID, emailID int32) (*models.Email, error) {
	var e models.Email
	err := s.pool.QueryRow(ctx, `
		SELECT id, hub_id, subject, body,
		       attachment, attachment_name, attachment_mime,
		       num_sent, num_opened, num_replied
		FROM emails
		WHERE id = $2 AND hub_id = $1
	`, hubID, emailID).Scan(
		&e.ID, &e.HubID, &e.Subject, &e.Body,
		&e.Attachment, &e.AttachmentName, &e.AttachmentMime,
		&e.NumSent, &e.NumOpened, &e.NumReplied,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get email %d: %w", emailID, err)
	}
	return &e, nil
}

// ListRecipients returns the recipients of an email. The join keeps the
// read hub-scoped: an email id under a different hub yields no rows.
func (s *Store) ListRecipients(ctx context.Context, hubID, emailID int32) ([]models.Recipient, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.email_id, r.address, r.name, r.fields,
		       r.is_sent, r.opened, r.reply, r.updated_at
		FROM recipients r
		JOIN emails e ON e.id = r.email_id
		WHERE r.email_id = $2 AND e.hub_id = $1
		ORDER BY r.id
	`, hubID, emailID)
	if err != nil {
		return nil, fmt.Errorf("list recipients of email %d: %w", emailID, err)
	}
	defer rows.Close()

	var recipients []models.Recipient
	for rows.Next() {
		var r models.Recipient
		if err := rows.Scan(
			&r.ID, &r.EmailID, &r.Address, &r.Name, &r.Fields,
			&r.IsSent, &r.Opened, &r.Reply, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		recipients = append(recipients, r)
	}
	return recipients, rows.Err()
}

// CreateEmail inserts the email row and all its recipients in one
// transaction. Recipients are never added to an email afterwards.
func (s *Store) CreateEmail(ctx context.Context, payload models.NewEmailPayload) (*models.Email, error) {
	e := models.Email{
		HubID:          payload.HubID,
		Subject:        payload.Subject,
		Body:           payload.Body,
		Attachment:     payload.Attachment,
		AttachmentName: payload.AttachmentName,
		AttachmentMime: payload.AttachmentMime,
	}

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO emails (hub_id, subject, body, attachment, attachment_name, attachment_mime)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, e.HubID, e.Subject, e.Body, e.Attachment, e.AttachmentName, e.AttachmentMime).Scan(&e.ID)
		if err != nil {
			return fmt.Errorf("insert email: %w", err)
		}

		for _, r := range payload.Recipients {
			fields := r.Fields
			if fields == nil {
				fields = map[string]string{}
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO recipients (email_id, address, name, fields)
				VALUES ($1, $2, $3, $4)
			`, e.ID, r.Address, r.Name, fields)
			if err != nil {
				return fmt.Errorf("insert recipient %s: %w", r.Address, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) MarkSent(ctx context.Context, recipientID int32) error {
	return s.mutateRecipient(ctx, recipientID, `
		UPDATE recipients SET is_sent = true, updated_at = now()
		WHERE id = $1 RETURNING email_id`)
}

func (s *Store) MarkOpened(ctx context.Context, recipientID int32) error {
	return s.mutateRecipient(ctx, recipientID, `
		UPDATE recipients SET opened = true, updated_at = now()
		WHERE id = $1 RETURNING email_id`)
}

// ApplyReply records an inbound reply. COALESCE keeps a previously stored
// reply when the new text is nil; a non-nil text overwrites.
func (s *Store) ApplyReply(ctx context.Context, recipientID int32, text *string) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var emailID int32
		err := tx.QueryRow(ctx, `
			UPDATE recipients
			SET is_sent = true, opened = true, reply = COALESCE($2, reply), updated_at = now()
			WHERE id = $1
			RETURNING email_id
		`, recipientID, text).Scan(&emailID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("apply reply for recipient %d: %w", recipientID, err)
		}
		return recomputeCounters(ctx, tx, emailID)
	})
}

func (s *Store) mutateRecipient(ctx context.Context, recipientID int32, query string) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var emailID int32
		err := tx.QueryRow(ctx, query, recipientID).Scan(&emailID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("update recipient %d: %w", recipientID, err)
		}
		return recomputeCounters(ctx, tx, emailID)
	})
}
