// Package assignment binds drivers to trips under the exclusivity invariant:
// at most one open claim per trip and per driver, enforced by the store's
// unique indexes rather than application locks.
package assignment

import (
	"errors"
	"time"

	"dispatch/internal/types"
)

type Status string

const (
	StatusAssigned   Status = "ASSIGNED"
	StatusActive     Status = "ACTIVE"
	StatusUnassigned Status = "UNASSIGNED"
	StatusCancelled  Status = "CANCELLED"
	StatusCompleted  Status = "COMPLETED"
)

func (s Status) Open() bool {
	return s == StatusAssigned || s == StatusActive
}

func (s Status) closed() bool {
	return s == StatusUnassigned || s == StatusCancelled || s == StatusCompleted
}

type Assignment struct {
	ID               types.ID
	TripID           types.ID
	DriverID         types.ID
	Status           Status
	BookingAttempted bool
	BookingFailure   *string
	AssignedAt       time.Time
	UnassignedAt     *time.Time
}

var (
	ErrTripAlreadyAssigned = errors.New("trip already has an active assignment")
	ErrDriverBusy          = errors.New("driver already has active assignment")
	ErrDriverNotActive     = errors.New("driver is not active")
	ErrTripClosed          = errors.New("trip is closed")
	ErrNotAssigned         = errors.New("trip has no open assignment")
)
