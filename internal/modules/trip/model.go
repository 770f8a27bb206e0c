// Package trip holds the trip aggregate, its state machine, the orchestrator
// that creates and dispatches trips, and the lifecycle service that moves them
// through start/arrive/no-show/complete/cancel.
package trip

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"dispatch/internal/types"
)

type Type string

const (
	TypeAirport   Type = "AIRPORT"
	TypeRental    Type = "RENTAL"
	TypeInterCity Type = "INTER_CITY"
)

func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToUpper(s)); t {
	case TypeAirport, TypeRental, TypeInterCity:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown trip type %q", ErrBadRequest, s)
	}
}

type VehicleClass string

func (c VehicleClass) Electric() bool {
	return strings.EqualFold(string(c), "EV")
}

type Status string

const (
	StatusNone           Status = ""
	StatusCreated        Status = "CREATED"
	StatusDriverAssigned Status = "DRIVER_ASSIGNED"
	StatusStarted        Status = "STARTED"
	StatusCompleted      Status = "COMPLETED"
	StatusCancelled      Status = "CANCELLED"
	StatusNoShow         Status = "NO_SHOW"
)

// AllowedTransitions encodes the trip state flow. DRIVER_ASSIGNED -> CREATED
// is the unassignment back-edge; STARTED -> CREATED is detach-in-flight.
var AllowedTransitions = map[Status][]Status{
	StatusCreated:        {StatusDriverAssigned, StatusCancelled},
	StatusDriverAssigned: {StatusStarted, StatusCreated, StatusCancelled},
	StatusStarted:        {StatusCompleted, StatusCancelled, StatusNoShow, StatusCreated},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

type Trip struct {
	ID              types.ID
	Type            Type
	Status          Status
	StatusVersion   int
	OriginCity      string
	DestinationCity string
	Pickup          types.Point
	Drop            types.Point
	PickupAt        time.Time
	BookedAt        time.Time
	Prebooked       bool
	DistanceKm      float64
	BillableKm      int64
	RatePerKm       int64
	VehicleClass    VehicleClass
	Fare            types.Money
	FareBreakdown   []byte
	Provider        *string
	CreatedBy       types.ID
	CancelReason    *string
	CreatedAt       time.Time
	StartedAt       *time.Time
	ArrivedAt       *time.Time
	OnboardedAt     *time.Time
	CompletedAt     *time.Time
	CancelledAt     *time.Time
	NoShowAt        *time.Time
}

type Event struct {
	ID         int64
	TripID     types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  string
	ActorID    *types.ID
	CreatedAt  time.Time
}

var (
	ErrNotFound          = errors.New("trip not found")
	ErrConflict          = errors.New("trip state conflict")
	ErrInvalidState      = errors.New("invalid state transition")
	ErrBadRequest        = errors.New("bad request")
	ErrNotAssignedDriver = errors.New("caller is not the assigned driver")
	ErrOutsideGeofence   = errors.New("outside pickup geofence")
)

// DeniedError carries a constraint-engine deny reason suitable for display.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string { return "trip denied: " + e.Reason }

// WindowError reports a lifecycle action attempted outside its time window,
// with the wait remaining until the window opens.
type WindowError struct {
	Op   string
	Wait time.Duration
}

func (e *WindowError) Error() string {
	return fmt.Sprintf("%s window opens in %s", e.Op, e.Wait.Round(time.Second))
}
