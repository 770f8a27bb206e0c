package assignment

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

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

// Create inserts an open assignment. The partial unique indexes turn a racing
// second claim into a 23505, which is mapped to the matching conflict error.
func (s *Store) Create(ctx context.Context, a *Assignment) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO assignments (
			id, trip_id, driver_id, status, booking_attempted, booking_failure, assigned_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(a.ID), string(a.TripID), string(a.DriverID),
		string(a.Status), a.BookingAttempted, a.BookingFailure, a.AssignedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case "uniq_assignments_open_trip":
			return ErrTripAlreadyAssigned
		case "uniq_assignments_open_driver":
			return ErrDriverBusy
		}
	}
	return err
}

const assignmentColumns = `
	id, trip_id, driver_id, status, booking_attempted, booking_failure, assigned_at, unassigned_at`

// OpenByTrip returns the open assignment for a trip, or ErrNotAssigned.
func (s *Store) OpenByTrip(ctx context.Context, tripID types.ID) (*Assignment, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+assignmentColumns+`
		FROM assignments
		WHERE trip_id = $1 AND status IN ('ASSIGNED', 'ACTIVE')`, string(tripID))
	return scanAssignment(row)
}

// OpenByDriver returns the driver's open assignment, or ErrNotAssigned.
func (s *Store) OpenByDriver(ctx context.Context, driverID types.ID) (*Assignment, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+assignmentColumns+`
		FROM assignments
		WHERE driver_id = $1 AND status IN ('ASSIGNED', 'ACTIVE')`, string(driverID))
	return scanAssignment(row)
}

func scanAssignment(row pgx.Row) (*Assignment, error) {
	var a Assignment
	var failure sql.NullString
	var unassignedAt sql.NullTime
	err := row.Scan(&a.ID, &a.TripID, &a.DriverID, &a.Status, &a.BookingAttempted, &failure, &a.AssignedAt, &unassignedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotAssigned
	}
	if err != nil {
		return nil, err
	}
	if failure.Valid {
		a.BookingFailure = &failure.String
	}
	if unassignedAt.Valid {
		t := unassignedAt.Time
		a.UnassignedAt = &t
	}
	return &a, nil
}

// Close moves an open assignment to a closed status and stamps unassigned_at.
func (s *Store) Close(ctx context.Context, id types.ID, to Status) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE assignments
		SET status = $1, unassigned_at = NOW()
		WHERE id = $2 AND status IN ('ASSIGNED', 'ACTIVE')`,
		string(to), string(id),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetBookingResult records the outcome of the post-assign partner booking.
func (s *Store) SetBookingResult(ctx context.Context, id types.ID, failure *string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE assignments
		SET booking_attempted = TRUE, booking_failure = $1
		WHERE id = $2`,
		failure, string(id),
	)
	return err
}
