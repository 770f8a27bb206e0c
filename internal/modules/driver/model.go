// Package driver exposes read access to fleet drivers and the availability
// flag the dispatch core flips as assignments open and close. Driver CRUD is
// owned by the fleet-management service.
package driver

import (
	"errors"
	"time"

	"dispatch/internal/types"
)

var ErrNotFound = errors.New("driver not found")

const StatusActive = "ACTIVE"

type Driver struct {
	ID        types.ID
	Name      string
	FleetID   *types.ID
	HubID     *types.ID
	Available bool
	Status    string
	CreatedAt time.Time
}

// Active reports whether the driver is operationally able to take trips.
func (d *Driver) Active() bool {
	return d.Status == StatusActive
}
