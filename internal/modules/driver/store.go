package driver

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"dispatch/internal/infra"
	"dispatch/internal/types"
)

type Store struct {
	db infra.DBTX
}

func NewStore(db infra.DBTX) *Store {
	return &Store{db: db}
}

// WithTx returns a store bound to the given transaction.
func (s *Store) WithTx(tx pgx.Tx) *Store {
	return &Store{db: tx}
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Driver, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, fleet_id, hub_id, available, status, created_at
		FROM drivers
		WHERE id = $1`, string(id),
	)

	var d Driver
	var fleetID, hubID *string
	err := row.Scan(&d.ID, &d.Name, &fleetID, &hubID, &d.Available, &d.Status, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if fleetID != nil {
		v := types.ID(*fleetID)
		d.FleetID = &v
	}
	if hubID != nil {
		v := types.ID(*hubID)
		d.HubID = &v
	}
	return &d, nil
}

// SetAvailability flips the availability flag. It reports false when the
// driver does not exist.
func (s *Store) SetAvailability(ctx context.Context, id types.ID, available bool) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE drivers SET available = $1 WHERE id = $2`,
		available, string(id),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
