package trip

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"dispatch/internal/config"
	"dispatch/internal/modules/provider"
	"dispatch/internal/types"
)

const partnerCancelTimeout = 30 * time.Second

// Assignments is the slice of the assignment service the lifecycle needs:
// who holds the trip, and closing the claim when the trip ends.
type Assignments interface {
	// OpenDriver returns the driver of the open assignment, if any.
	OpenDriver(ctx context.Context, tripID types.ID) (types.ID, bool, error)
	// Release closes the open assignment with the given terminal status and
	// restores the driver's availability. No open assignment is not an error.
	Release(ctx context.Context, tripID types.ID, outcome string) error
}

// Lifecycle moves trips through start/arrive/onboard/no-show/complete/cancel
// with time-window and geofence guards.
type Lifecycle struct {
	store       *Store
	assignments Assignments
	registry    *provider.Registry
	mappings    *provider.MappingStore
	cfg         config.LifecycleConfig
	now         func() time.Time
}

func NewLifecycle(store *Store, assignments Assignments, registry *provider.Registry, mappings *provider.MappingStore, cfg config.LifecycleConfig) *Lifecycle {
	return &Lifecycle{
		store:       store,
		assignments: assignments,
		registry:    registry,
		mappings:    mappings,
		cfg:         cfg,
		now:         time.Now,
	}
}

type StartCommand struct {
	TripID   types.ID
	DriverID types.ID
}

func (l *Lifecycle) Start(ctx context.Context, cmd StartCommand) error {
	t, err := l.store.Get(ctx, cmd.TripID)
	if err != nil {
		return err
	}
	if !CanTransition(t.Status, StatusStarted) {
		return ErrInvalidState
	}
	if err := l.requireAssignedDriver(ctx, t.ID, cmd.DriverID); err != nil {
		return err
	}
	if opens := t.PickupAt.Add(-l.cfg.StartWindow); l.now().Before(opens) {
		return &WindowError{Op: "start", Wait: opens.Sub(l.now())}
	}

	ok, err := l.store.UpdateStatus(ctx, t.ID, t.Status, StatusStarted, t.StatusVersion, nil)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	l.appendEvent(ctx, t.ID, t.Status, StatusStarted, "driver", &cmd.DriverID)
	return nil
}

type ArriveCommand struct {
	TripID   types.ID
	DriverID types.ID
	Location *types.Point
}

func (l *Lifecycle) Arrive(ctx context.Context, cmd ArriveCommand) error {
	t, err := l.store.Get(ctx, cmd.TripID)
	if err != nil {
		return err
	}
	if t.Status != StatusStarted {
		return ErrInvalidState
	}
	if err := l.requireAssignedDriver(ctx, t.ID, cmd.DriverID); err != nil {
		return err
	}
	if opens := t.PickupAt.Add(-l.cfg.ArriveWindow); l.now().Before(opens) {
		return &WindowError{Op: "arrive", Wait: opens.Sub(l.now())}
	}
	if t.Pickup.Lat != 0 || t.Pickup.Lng != 0 {
		if cmd.Location == nil {
			return fmt.Errorf("%w: current location is required to arrive", ErrBadRequest)
		}
		if d := distanceM(*cmd.Location, t.Pickup); d > l.cfg.GeofenceRadiusM {
			return fmt.Errorf("%w: %.0fm from pickup, limit %.0fm", ErrOutsideGeofence, d, l.cfg.GeofenceRadiusM)
		}
	}
	return l.store.RecordArrival(ctx, t.ID)
}

type OnboardCommand struct {
	TripID   types.ID
	DriverID types.ID
}

func (l *Lifecycle) Onboard(ctx context.Context, cmd OnboardCommand) error {
	t, err := l.store.Get(ctx, cmd.TripID)
	if err != nil {
		return err
	}
	if t.Status != StatusStarted {
		return ErrInvalidState
	}
	if err := l.requireAssignedDriver(ctx, t.ID, cmd.DriverID); err != nil {
		return err
	}
	return l.store.RecordOnboard(ctx, t.ID)
}

type NoShowCommand struct {
	TripID   types.ID
	DriverID types.ID
}

func (l *Lifecycle) NoShow(ctx context.Context, cmd NoShowCommand) error {
	t, err := l.store.Get(ctx, cmd.TripID)
	if err != nil {
		return err
	}
	if t.Status != StatusStarted {
		return ErrInvalidState
	}
	if err := l.requireAssignedDriver(ctx, t.ID, cmd.DriverID); err != nil {
		return err
	}
	if eligible := t.PickupAt.Add(l.cfg.NoShowAfter); l.now().Before(eligible) {
		return &WindowError{Op: "no-show", Wait: eligible.Sub(l.now())}
	}

	ok, err := l.store.UpdateStatus(ctx, t.ID, t.Status, StatusNoShow, t.StatusVersion, nil)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	if err := l.assignments.Release(ctx, t.ID, "CANCELLED"); err != nil {
		log.Printf("[lifecycle] release trip=%s after no-show: %v", t.ID, err)
	}
	l.appendEvent(ctx, t.ID, t.Status, StatusNoShow, "driver", &cmd.DriverID)
	return nil
}

type CompleteCommand struct {
	TripID   types.ID
	DriverID types.ID
}

func (l *Lifecycle) Complete(ctx context.Context, cmd CompleteCommand) error {
	t, err := l.store.Get(ctx, cmd.TripID)
	if err != nil {
		return err
	}
	if t.Status != StatusStarted {
		return ErrInvalidState
	}
	if err := l.requireAssignedDriver(ctx, t.ID, cmd.DriverID); err != nil {
		return err
	}

	ok, err := l.store.UpdateStatus(ctx, t.ID, t.Status, StatusCompleted, t.StatusVersion, nil)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	if err := l.assignments.Release(ctx, t.ID, "COMPLETED"); err != nil {
		log.Printf("[lifecycle] release trip=%s after complete: %v", t.ID, err)
	}
	l.appendEvent(ctx, t.ID, t.Status, StatusCompleted, "driver", &cmd.DriverID)
	return nil
}

type CancelCommand struct {
	TripID    types.ID
	ActorType string
	ActorID   types.ID
	Reason    string
}

// Cancel moves any non-terminal trip to CANCELLED, releases the driver, and
// notifies the partner asynchronously. Partner failure never fails the cancel.
func (l *Lifecycle) Cancel(ctx context.Context, cmd CancelCommand) error {
	t, err := l.store.Get(ctx, cmd.TripID)
	if err != nil {
		return err
	}
	if !CanTransition(t.Status, StatusCancelled) {
		return ErrInvalidState
	}

	var reason *string
	if cmd.Reason != "" {
		reason = &cmd.Reason
	}
	ok, err := l.store.UpdateStatus(ctx, t.ID, t.Status, StatusCancelled, t.StatusVersion, reason)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	if err := l.assignments.Release(ctx, t.ID, "CANCELLED"); err != nil {
		log.Printf("[lifecycle] release trip=%s after cancel: %v", t.ID, err)
	}

	var actorID *types.ID
	if cmd.ActorID != "" {
		actorID = &cmd.ActorID
	}
	l.appendEvent(ctx, t.ID, t.Status, StatusCancelled, cmd.ActorType, actorID)

	go l.cancelPartnerBooking(t.ID)
	return nil
}

// cancelPartnerBooking runs after the local cancel has committed. It carries
// its own timeout and logs failures; nothing upstream waits on it.
func (l *Lifecycle) cancelPartnerBooking(tripID types.ID) {
	ctx, cancel := context.WithTimeout(context.Background(), partnerCancelTimeout)
	defer cancel()

	m, err := l.mappings.GetByTrip(ctx, tripID)
	if errors.Is(err, provider.ErrMappingNotFound) {
		return
	}
	if err != nil {
		log.Printf("[lifecycle] partner cancel trip=%s: %v", tripID, err)
		return
	}
	if m.State != provider.MappingPrebooked || m.ExternalID == nil {
		return
	}
	adapter, err := l.registry.Get(m.Provider)
	if err != nil {
		log.Printf("[lifecycle] partner cancel trip=%s: %v", tripID, err)
		return
	}
	if err := adapter.CancelBooking(ctx, *m.ExternalID); err != nil {
		log.Printf("[lifecycle] partner cancel trip=%s booking=%s: %v", tripID, *m.ExternalID, err)
		return
	}
	if err := l.mappings.SetPartnerStatus(ctx, tripID, "CANCELLED", nil); err != nil {
		log.Printf("[lifecycle] partner cancel trip=%s: record status: %v", tripID, err)
	}
}

func (l *Lifecycle) requireAssignedDriver(ctx context.Context, tripID, driverID types.ID) error {
	assigned, ok, err := l.assignments.OpenDriver(ctx, tripID)
	if err != nil {
		return err
	}
	if !ok || assigned != driverID {
		return ErrNotAssignedDriver
	}
	return nil
}

func (l *Lifecycle) appendEvent(ctx context.Context, tripID types.ID, from, to Status, actorType string, actorID *types.ID) {
	err := l.store.AppendEvent(ctx, &Event{
		TripID:     tripID,
		FromStatus: from,
		ToStatus:   to,
		ActorType:  actorType,
		ActorID:    actorID,
		CreatedAt:  l.now(),
	})
	if err != nil {
		log.Printf("[lifecycle] append event trip=%s %s->%s: %v", tripID, from, to, err)
	}
}

// distanceM is the haversine distance between two points in meters.
func distanceM(a, b types.Point) float64 {
	const earthRadiusM = 6371000.0
	lat1 := a.Lat * math.Pi / 180.0
	lat2 := b.Lat * math.Pi / 180.0
	dlat := (b.Lat - a.Lat) * math.Pi / 180.0
	dlng := (b.Lng - a.Lng) * math.Pi / 180.0
	h := math.Sin(dlat/2)*math.Sin(dlat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlng/2)*math.Sin(dlng/2)
	return 2 * earthRadiusM * math.Asin(math.Sqrt(h))
}
