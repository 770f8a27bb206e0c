package provider

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"dispatch/internal/infra"
	"dispatch/internal/types"
)

var ErrMappingNotFound = errors.New("provider mapping not found")

type MappingState string

const (
	// MappingPending marks trips awaiting manual/deferred dispatch.
	MappingPending MappingState = "PENDING"
	// MappingPrebooked marks trips with a live external booking.
	MappingPrebooked MappingState = "PREBOOKED"
)

// Mapping links a trip to its external partner booking. One row per trip for
// its lifetime; reassignment supersedes the provider/booking id in place.
type Mapping struct {
	TripID     types.ID
	Provider   Type
	ExternalID *string
	State      MappingState
	LastStatus *string // partner's own vocabulary, free-form
	RawPayload []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type MappingStore struct {
	db infra.DBTX
}

func NewMappingStore(db infra.DBTX) *MappingStore {
	return &MappingStore{db: db}
}

func (s *MappingStore) WithTx(tx pgx.Tx) *MappingStore {
	return &MappingStore{db: tx}
}

func (s *MappingStore) Create(ctx context.Context, m *Mapping) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO provider_mappings (
			trip_id, provider, external_booking_id, state, last_status, raw_payload, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`,
		string(m.TripID), string(m.Provider), m.ExternalID, string(m.State), m.LastStatus, m.RawPayload,
	)
	return err
}

func (s *MappingStore) GetByTrip(ctx context.Context, tripID types.ID) (*Mapping, error) {
	return s.get(ctx, `WHERE trip_id = $1`, string(tripID))
}

func (s *MappingStore) GetByExternalID(ctx context.Context, provider Type, externalID string) (*Mapping, error) {
	return s.get(ctx, `WHERE provider = $1 AND external_booking_id = $2`, string(provider), externalID)
}

func (s *MappingStore) get(ctx context.Context, where string, args ...any) (*Mapping, error) {
	row := s.db.QueryRow(ctx, `
		SELECT trip_id, provider, external_booking_id, state, last_status, raw_payload, created_at, updated_at
		FROM provider_mappings `+where, args...)

	var m Mapping
	err := row.Scan(&m.TripID, &m.Provider, &m.ExternalID, &m.State, &m.LastStatus, &m.RawPayload, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMappingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// SetBooking records a successful prebook, superseding any previous provider
// or booking id on the same row.
func (s *MappingStore) SetBooking(ctx context.Context, tripID types.ID, provider Type, externalID string, payload []byte) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE provider_mappings
		SET provider = $1,
		    external_booking_id = $2,
		    state = $3,
		    raw_payload = $4,
		    updated_at = NOW()
		WHERE trip_id = $5`,
		string(provider), externalID, string(MappingPrebooked), payload, string(tripID),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMappingNotFound
	}
	return nil
}

// SetPartnerStatus stores the partner's latest reported status and payload.
func (s *MappingStore) SetPartnerStatus(ctx context.Context, tripID types.ID, status string, payload []byte) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE provider_mappings
		SET last_status = $1,
		    raw_payload = COALESCE($2, raw_payload),
		    updated_at = NOW()
		WHERE trip_id = $3`,
		status, payload, string(tripID),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMappingNotFound
	}
	return nil
}
