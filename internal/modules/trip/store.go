package trip

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

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

func (s *Store) WithTx(tx pgx.Tx) *Store {
	return &Store{db: tx}
}

func (s *Store) Create(ctx context.Context, t *Trip) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO trips (
			id, trip_type, status, status_version,
			origin_city, destination_city,
			pickup_lat, pickup_lng, drop_lat, drop_lng,
			pickup_at, booked_at, prebooked,
			distance_km, billable_km, rate_per_km, vehicle_class,
			fare, currency, fare_breakdown,
			provider, created_by, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6,
			$7, $8, $9, $10,
			$11, $12, $13,
			$14, $15, $16, $17,
			$18, $19, $20,
			$21, $22, $23
		)`,
		string(t.ID), string(t.Type), string(t.Status), t.StatusVersion,
		t.OriginCity, t.DestinationCity,
		t.Pickup.Lat, t.Pickup.Lng, t.Drop.Lat, t.Drop.Lng,
		t.PickupAt, t.BookedAt, t.Prebooked,
		t.DistanceKm, t.BillableKm, t.RatePerKm, string(t.VehicleClass),
		t.Fare.Amount, t.Fare.Currency, t.FareBreakdown,
		t.Provider, string(t.CreatedBy), t.CreatedAt,
	)
	return err
}

const tripColumns = `
	id, trip_type, status, status_version,
	origin_city, destination_city,
	pickup_lat, pickup_lng, drop_lat, drop_lng,
	pickup_at, booked_at, prebooked,
	distance_km, billable_km, rate_per_km, vehicle_class,
	fare, currency, fare_breakdown,
	provider, created_by, cancel_reason,
	created_at, started_at, arrived_at, onboarded_at, completed_at, cancelled_at, no_show_at`

func (s *Store) Get(ctx context.Context, id types.ID) (*Trip, error) {
	row := s.db.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, string(id))
	t, err := scanTrip(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func scanTrip(row pgx.Row) (*Trip, error) {
	var t Trip
	var provider, cancelReason sql.NullString
	var startedAt, arrivedAt, onboardedAt, completedAt, cancelledAt, noShowAt sql.NullTime

	err := row.Scan(
		&t.ID, &t.Type, &t.Status, &t.StatusVersion,
		&t.OriginCity, &t.DestinationCity,
		&t.Pickup.Lat, &t.Pickup.Lng, &t.Drop.Lat, &t.Drop.Lng,
		&t.PickupAt, &t.BookedAt, &t.Prebooked,
		&t.DistanceKm, &t.BillableKm, &t.RatePerKm, &t.VehicleClass,
		&t.Fare.Amount, &t.Fare.Currency, &t.FareBreakdown,
		&provider, &t.CreatedBy, &cancelReason,
		&t.CreatedAt, &startedAt, &arrivedAt, &onboardedAt, &completedAt, &cancelledAt, &noShowAt,
	)
	if err != nil {
		return nil, err
	}
	if provider.Valid {
		t.Provider = &provider.String
	}
	if cancelReason.Valid {
		t.CancelReason = &cancelReason.String
	}
	t.StartedAt = toTimePtr(startedAt)
	t.ArrivedAt = toTimePtr(arrivedAt)
	t.OnboardedAt = toTimePtr(onboardedAt)
	t.CompletedAt = toTimePtr(completedAt)
	t.CancelledAt = toTimePtr(cancelledAt)
	t.NoShowAt = toTimePtr(noShowAt)
	return &t, nil
}

// UpdateStatus performs the optimistic transition from -> to, stamping the
// per-state timestamp column. A false return means another writer got there
// first (or the trip moved on) and the caller should report a conflict.
func (s *Store) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, cancelReason *string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE trips
		SET status = $1,
		    status_version = status_version + 1,
		    cancel_reason = COALESCE($2, cancel_reason),
		    started_at = CASE WHEN $1 = 'STARTED' THEN NOW() ELSE started_at END,
		    completed_at = CASE WHEN $1 = 'COMPLETED' THEN NOW() ELSE completed_at END,
		    cancelled_at = CASE WHEN $1 = 'CANCELLED' THEN NOW() ELSE cancelled_at END,
		    no_show_at = CASE WHEN $1 = 'NO_SHOW' THEN NOW() ELSE no_show_at END
		WHERE id = $3 AND status = $4 AND status_version = $5`,
		string(to), cancelReason, string(id), string(from), version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) SetProvider(ctx context.Context, id types.ID, provider string) error {
	tag, err := s.db.Exec(ctx, `UPDATE trips SET provider = $1 WHERE id = $2`, provider, string(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Reschedule moves the pickup time of a trip that has not begun. STARTED and
// terminal trips cannot be rescheduled.
func (s *Store) Reschedule(ctx context.Context, id types.ID, pickupAt time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE trips SET pickup_at = $1
		WHERE id = $2 AND status IN ('CREATED', 'DRIVER_ASSIGNED')`,
		pickupAt, string(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

func (s *Store) RecordArrival(ctx context.Context, id types.ID) error {
	return s.stamp(ctx, id, "arrived_at")
}

func (s *Store) RecordOnboard(ctx context.Context, id types.ID) error {
	return s.stamp(ctx, id, "onboarded_at")
}

func (s *Store) stamp(ctx context.Context, id types.ID, column string) error {
	tag, err := s.db.Exec(ctx, fmt.Sprintf(`
		UPDATE trips SET %s = COALESCE(%s, NOW()) WHERE id = $1 AND status = 'STARTED'`,
		column, column), string(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO trip_state_events (
			trip_id, from_status, to_status, actor_type, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.TripID), string(e.FromStatus), string(e.ToStatus),
		e.ActorType, toStringPtr(e.ActorID), e.CreatedAt,
	)
	return err
}

// ListItem is one row of the admin listing: a trip joined with its open
// assignment and provider mapping.
type ListItem struct {
	Trip              Trip
	DriverID          *types.ID
	AssignmentStatus  *string
	ExternalBookingID *string
	PartnerStatus     *string
}

func (s *Store) List(ctx context.Context, status *Status, page, limit int) ([]ListItem, int, error) {
	where := ``
	args := []any{}
	if status != nil {
		where = `WHERE t.status = $1`
		args = append(args, string(*status))
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM trips t `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	args = append(args, limit, offset)
	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT t.id, t.trip_type, t.status, t.status_version,
		       t.origin_city, t.destination_city,
		       t.pickup_lat, t.pickup_lng, t.drop_lat, t.drop_lng,
		       t.pickup_at, t.booked_at, t.prebooked,
		       t.distance_km, t.billable_km, t.rate_per_km, t.vehicle_class,
		       t.fare, t.currency, t.fare_breakdown,
		       t.provider, t.created_by, t.cancel_reason,
		       t.created_at, t.started_at, t.arrived_at, t.onboarded_at, t.completed_at, t.cancelled_at, t.no_show_at,
		       a.driver_id, a.status,
		       m.external_booking_id, m.last_status
		FROM trips t
		LEFT JOIN assignments a ON a.trip_id = t.id AND a.status IN ('ASSIGNED', 'ACTIVE')
		LEFT JOIN provider_mappings m ON m.trip_id = t.id
		%s
		ORDER BY t.created_at DESC
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []ListItem
	for rows.Next() {
		var item ListItem
		t := &item.Trip
		var provider, cancelReason, driverID, assignStatus, extID, partnerStatus sql.NullString
		var startedAt, arrivedAt, onboardedAt, completedAt, cancelledAt, noShowAt sql.NullTime

		err := rows.Scan(
			&t.ID, &t.Type, &t.Status, &t.StatusVersion,
			&t.OriginCity, &t.DestinationCity,
			&t.Pickup.Lat, &t.Pickup.Lng, &t.Drop.Lat, &t.Drop.Lng,
			&t.PickupAt, &t.BookedAt, &t.Prebooked,
			&t.DistanceKm, &t.BillableKm, &t.RatePerKm, &t.VehicleClass,
			&t.Fare.Amount, &t.Fare.Currency, &t.FareBreakdown,
			&provider, &t.CreatedBy, &cancelReason,
			&t.CreatedAt, &startedAt, &arrivedAt, &onboardedAt, &completedAt, &cancelledAt, &noShowAt,
			&driverID, &assignStatus, &extID, &partnerStatus,
		)
		if err != nil {
			return nil, 0, err
		}
		if provider.Valid {
			t.Provider = &provider.String
		}
		if cancelReason.Valid {
			t.CancelReason = &cancelReason.String
		}
		t.StartedAt = toTimePtr(startedAt)
		t.ArrivedAt = toTimePtr(arrivedAt)
		t.OnboardedAt = toTimePtr(onboardedAt)
		t.CompletedAt = toTimePtr(completedAt)
		t.CancelledAt = toTimePtr(cancelledAt)
		t.NoShowAt = toTimePtr(noShowAt)
		if driverID.Valid {
			d := types.ID(driverID.String)
			item.DriverID = &d
		}
		if assignStatus.Valid {
			item.AssignmentStatus = &assignStatus.String
		}
		if extID.Valid {
			item.ExternalBookingID = &extID.String
		}
		if partnerStatus.Valid {
			item.PartnerStatus = &partnerStatus.String
		}
		out = append(out, item)
	}
	return out, total, rows.Err()
}

// OpenBooking is one sync-worker target: a live trip with an external booking.
type OpenBooking struct {
	TripID        types.ID
	Status        Status
	StatusVersion int
	Provider      string
	ExternalID    string
	LastStatus    *string
}

func (s *Store) OpenWithBooking(ctx context.Context) ([]OpenBooking, error) {
	rows, err := s.db.Query(ctx, `
		SELECT t.id, t.status, t.status_version, m.provider, m.external_booking_id, m.last_status
		FROM trips t
		JOIN provider_mappings m ON m.trip_id = t.id
		WHERE t.status IN ('DRIVER_ASSIGNED', 'STARTED')
		  AND m.external_booking_id IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OpenBooking
	for rows.Next() {
		var b OpenBooking
		var lastStatus sql.NullString
		if err := rows.Scan(&b.TripID, &b.Status, &b.StatusVersion, &b.Provider, &b.ExternalID, &lastStatus); err != nil {
			return nil, err
		}
		if lastStatus.Valid {
			b.LastStatus = &lastStatus.String
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
