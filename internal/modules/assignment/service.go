package assignment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dispatch/internal/modules/driver"
	"dispatch/internal/modules/provider"
	"dispatch/internal/modules/trip"
	"dispatch/internal/types"
)

const bookingTimeout = 30 * time.Second

// Service performs assign/unassign/reassign. Every state change runs in one
// transaction against the store; partner booking happens after commit and is
// compensated locally when it fails.
type Service struct {
	pool     *pgxpool.Pool
	store    *Store
	trips    *trip.Store
	drivers  *driver.Store
	mirror   *driver.Mirror
	registry *provider.Registry
	mappings *provider.MappingStore
}

func NewService(
	pool *pgxpool.Pool,
	store *Store,
	trips *trip.Store,
	drivers *driver.Store,
	mirror *driver.Mirror,
	registry *provider.Registry,
	mappings *provider.MappingStore,
) *Service {
	return &Service{
		pool:     pool,
		store:    store,
		trips:    trips,
		drivers:  drivers,
		mirror:   mirror,
		registry: registry,
		mappings: mappings,
	}
}

// Assign claims a driver for a trip. Exclusivity is decided inside the
// transaction by the store's unique indexes: when two assigns race, exactly
// one commits and the other returns a conflict error.
func (s *Service) Assign(ctx context.Context, tripID, driverID types.ID) (*Assignment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	t, err := s.trips.WithTx(tx).Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if t.Status.Terminal() {
		return nil, fmt.Errorf("%w: trip is %s", ErrTripClosed, t.Status)
	}
	if t.Status != trip.StatusCreated {
		return nil, ErrTripAlreadyAssigned
	}

	d, err := s.drivers.WithTx(tx).Get(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if !d.Active() {
		return nil, fmt.Errorf("%w: driver %s is %s", ErrDriverNotActive, driverID, d.Status)
	}

	a := &Assignment{
		ID:         types.ID(uuid.NewString()),
		TripID:     tripID,
		DriverID:   driverID,
		Status:     StatusAssigned,
		AssignedAt: time.Now(),
	}
	if err := s.store.WithTx(tx).Create(ctx, a); err != nil {
		return nil, err
	}
	if _, err := s.drivers.WithTx(tx).SetAvailability(ctx, driverID, false); err != nil {
		return nil, err
	}
	ok, err := s.trips.WithTx(tx).UpdateStatus(ctx, tripID, t.Status, trip.StatusDriverAssigned, t.StatusVersion, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, trip.ErrConflict
	}
	s.appendEvent(ctx, tx, tripID, t.Status, trip.StatusDriverAssigned, &driverID)

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.mirror.SetAvailable(ctx, driverID, false)

	attempted, err := s.bookPartner(a, t)
	a.BookingAttempted = attempted
	if err != nil {
		s.compensateBookingFailure(a, t, err)
		// the assignment stays as the record of the attempt; the caller
		// still gets it back with the failure attached
		failure := err.Error()
		a.BookingFailure = &failure
	}
	return a, nil
}

// bookPartner runs after the assign transaction committed. It prebooks only
// when the trip's mapping has no booking yet.
func (s *Service) bookPartner(a *Assignment, t *trip.Trip) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), bookingTimeout)
	defer cancel()

	m, err := s.mappings.GetByTrip(ctx, a.TripID)
	if errors.Is(err, provider.ErrMappingNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if m.State == provider.MappingPrebooked {
		return false, nil
	}

	adapter, err := s.registry.Get(m.Provider)
	if err != nil {
		return true, err
	}
	booking, err := adapter.Prebook(ctx, provider.PrebookInput{
		TripID:          t.ID,
		TripType:        string(t.Type),
		OriginCity:      t.OriginCity,
		DestinationCity: t.DestinationCity,
		Pickup:          &t.Pickup,
		Drop:            &t.Drop,
		PickupAt:        t.PickupAt,
		DistanceKm:      t.DistanceKm,
		VehicleClass:    string(t.VehicleClass),
	})
	if err != nil {
		return true, err
	}
	if err := s.mappings.SetBooking(ctx, t.ID, m.Provider, booking.ExternalID, booking.RawPayload); err != nil {
		return true, err
	}
	return true, s.store.SetBookingResult(ctx, a.ID, nil)
}

// compensateBookingFailure rolls the world back to dispatchable after a
// failed partner booking: the assignment closes with the failure recorded,
// the driver is freed, and the trip returns to CREATED.
func (s *Service) compensateBookingFailure(a *Assignment, t *trip.Trip, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), bookingTimeout)
	defer cancel()

	log.Printf("[assignment] booking for trip=%s driver=%s failed: %v", a.TripID, a.DriverID, cause)

	failure := cause.Error()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		log.Printf("[assignment] compensate trip=%s: %v", a.TripID, err)
		return
	}
	defer tx.Rollback(ctx)

	if err := s.store.WithTx(tx).SetBookingResult(ctx, a.ID, &failure); err != nil {
		log.Printf("[assignment] compensate trip=%s: record failure: %v", a.TripID, err)
		return
	}
	if _, err := s.store.WithTx(tx).Close(ctx, a.ID, StatusUnassigned); err != nil {
		log.Printf("[assignment] compensate trip=%s: close assignment: %v", a.TripID, err)
		return
	}
	if _, err := s.drivers.WithTx(tx).SetAvailability(ctx, a.DriverID, true); err != nil {
		log.Printf("[assignment] compensate trip=%s: free driver: %v", a.TripID, err)
		return
	}
	ok, err := s.trips.WithTx(tx).UpdateStatus(ctx, a.TripID, trip.StatusDriverAssigned, trip.StatusCreated, t.StatusVersion+1, nil)
	if err != nil || !ok {
		log.Printf("[assignment] compensate trip=%s: revert status: ok=%v err=%v", a.TripID, ok, err)
		return
	}
	s.appendEvent(ctx, tx, a.TripID, trip.StatusDriverAssigned, trip.StatusCreated, &a.DriverID)
	if err := tx.Commit(ctx); err != nil {
		log.Printf("[assignment] compensate trip=%s: commit: %v", a.TripID, err)
		return
	}
	s.mirror.SetAvailable(ctx, a.DriverID, true)
}

// Unassign detaches the trip's driver and returns the trip to CREATED.
// Detach-in-flight from STARTED is permitted.
func (s *Service) Unassign(ctx context.Context, tripID types.ID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	t, err := s.trips.WithTx(tx).Get(ctx, tripID)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return fmt.Errorf("%w: trip is %s", ErrTripClosed, t.Status)
	}

	var released *types.ID
	a, err := s.store.WithTx(tx).OpenByTrip(ctx, tripID)
	switch {
	case err == nil:
		if _, err := s.store.WithTx(tx).Close(ctx, a.ID, StatusUnassigned); err != nil {
			return err
		}
		if _, err := s.drivers.WithTx(tx).SetAvailability(ctx, a.DriverID, true); err != nil {
			return err
		}
		released = &a.DriverID
	case errors.Is(err, ErrNotAssigned):
		// consistency repair: a DRIVER_ASSIGNED trip with no open
		// assignment still gets its status reverted
		if t.Status == trip.StatusCreated {
			return ErrNotAssigned
		}
	default:
		return err
	}

	if t.Status != trip.StatusCreated {
		ok, err := s.trips.WithTx(tx).UpdateStatus(ctx, tripID, t.Status, trip.StatusCreated, t.StatusVersion, nil)
		if err != nil {
			return err
		}
		if !ok {
			return trip.ErrConflict
		}
		s.appendEvent(ctx, tx, tripID, t.Status, trip.StatusCreated, released)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	if released != nil {
		s.mirror.SetAvailable(ctx, *released, true)
	}
	return nil
}

// Reassign detaches the current driver and claims the new one. The unassign
// commits first; a failed assign therefore leaves the trip CREATED and
// unassigned rather than half-bound to either driver.
func (s *Service) Reassign(ctx context.Context, tripID, newDriverID types.ID) (*Assignment, error) {
	if err := s.Unassign(ctx, tripID); err != nil && !errors.Is(err, ErrNotAssigned) {
		return nil, err
	}
	return s.Assign(ctx, tripID, newDriverID)
}

// OpenDriver reports the driver holding the trip, if any.
func (s *Service) OpenDriver(ctx context.Context, tripID types.ID) (types.ID, bool, error) {
	a, err := s.store.OpenByTrip(ctx, tripID)
	if errors.Is(err, ErrNotAssigned) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return a.DriverID, true, nil
}

// Release closes the trip's open assignment with the given outcome and frees
// the driver. Lifecycle calls this when a trip reaches a terminal state; a
// trip with no open assignment is not an error.
func (s *Service) Release(ctx context.Context, tripID types.ID, outcome string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	a, err := s.store.WithTx(tx).OpenByTrip(ctx, tripID)
	if errors.Is(err, ErrNotAssigned) {
		return nil
	}
	if err != nil {
		return err
	}

	to := Status(outcome)
	if !to.closed() {
		return fmt.Errorf("illegal release outcome %q", outcome)
	}
	if _, err := s.store.WithTx(tx).Close(ctx, a.ID, to); err != nil {
		return err
	}
	if _, err := s.drivers.WithTx(tx).SetAvailability(ctx, a.DriverID, true); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.mirror.SetAvailable(ctx, a.DriverID, true)
	return nil
}

// Get returns the trip's open assignment.
func (s *Service) Get(ctx context.Context, tripID types.ID) (*Assignment, error) {
	return s.store.OpenByTrip(ctx, tripID)
}

func (s *Service) appendEvent(ctx context.Context, tx pgx.Tx, tripID types.ID, from, to trip.Status, actorID *types.ID) {
	err := s.trips.WithTx(tx).AppendEvent(ctx, &trip.Event{
		TripID:     tripID,
		FromStatus: from,
		ToStatus:   to,
		ActorType:  "admin",
		ActorID:    actorID,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		log.Printf("[assignment] append event trip=%s %s->%s: %v", tripID, from, to, err)
	}
}
