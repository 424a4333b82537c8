package storage

import (
	"context"
	"fmt"

	"github.com/pushkindt/pushkind-hedwig/internal/models"
)

// AddUnsubscribe appends a suppression row. ON CONFLICT DO NOTHING gives
// the insert-only, conflict-ignore semantics: re-unsubscribing the same
// address keeps the first row's reason.
func (s *Store) AddUnsubscribe(ctx context.Context, hubID int32, address string, reason *string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO unsubscribes (hub_id, address, reason)
		VALUES ($1, $2, $3)
		ON CONFLICT (hub_id, address) DO NOTHING
	`, hubID, address, reason)
	if err != nil {
		return fmt.Errorf("add unsubscribe for hub %d: %w", hubID, err)
	}
	return nil
}

// ListUnsubscribes returns a hub's suppression list. The workers never call
// this; it serves the services that decide who is still contactable.
func (s *Store) ListUnsubscribes(ctx context.Context, hubID int32) ([]models.Unsubscribe, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT hub_id, address, reason, created_at
		FROM unsubscribes
		WHERE hub_id = $1
		ORDER BY created_at
	`, hubID)
	if err != nil {
		return nil, fmt.Errorf("list unsubscribes for hub %d: %w", hubID, err)
	}
	defer rows.Close()

	var unsubs []models.Unsubscribe
	for rows.Next() {
		var u models.Unsubscribe
		if err := rows.Scan(&u.HubID, &u.Address, &u.Reason, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan unsubscribe: %w", err)
		}
		unsubs = append(unsubs, u)
	}
	return unsubs, rows.Err()
}
