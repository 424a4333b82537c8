package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pushkindt/pushkind-hedwig/internal/models"
)

const hubColumns = `
	id, smtp_host, smtp_port, smtp_login, smtp_password, sender,
	imap_host, imap_port, imap_login, imap_password,
	template, last_processed_uid, unsubscribe_url`

func scanHub(row pgx.Row) (*models.Hub, error) {
	var h models.Hub
	err := row.Scan(
		&h.ID, &h.SMTPHost, &h.SMTPPort, &h.SMTPLogin, &h.SMTPPassword, &h.Sender,
		&h.IMAPHost, &h.IMAPPort, &h.IMAPLogin, &h.IMAPPassword,
		&h.Template, &h.LastProcessedUID, &h.UnsubscribeURL,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan hub: %w", err)
	}
	return &h, nil
}

func (s *Store) GetHub(ctx context.Context, hubID int32) (*models.Hub, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+hubColumns+` FROM hubs WHERE id = $1`, hubID)
	return scanHub(row)
}

func (s *Store) ListHubs(ctx context.Context) ([]models.Hub, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+hubColumns+` FROM hubs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list hubs: %w", err)
	}
	defer rows.Close()

	var hubs []models.Hub
	for rows.Next() {
		h, err := scanHub(rows)
		if err != nil {
			return nil, err
		}
		hubs = append(hubs, *h)
	}
	return hubs, rows.Err()
}

// AdvanceUID moves the inbound cursor forward. The WHERE clause enforces
// monotonicity: a uid at or below the stored value updates nothing.
func (s *Store) AdvanceUID(ctx context.Context, hubID, uid int32) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE hubs SET last_processed_uid = $2
		WHERE id = $1 AND last_processed_uid < $2
	`, hubID, uid)
	if err != nil {
		return fmt.Errorf("advance uid for hub %d: %w", hubID, err)
	}
	return nil
}
