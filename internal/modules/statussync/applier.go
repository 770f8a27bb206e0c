package statussync

import (
	"context"
	"fmt"
	"log"
	"time"

	"dispatch/internal/modules/provider"
	"dispatch/internal/modules/trip"
	"dispatch/internal/types"
)

// Releaser closes a trip's open assignment and frees its driver.
type Releaser interface {
	Release(ctx context.Context, tripID types.ID, outcome string) error
}

// Applier folds one partner status report into local state. The sync worker
// and the partner webhook handlers share it so both paths behave identically.
type Applier struct {
	trips       *trip.Store
	mappings    *provider.MappingStore
	assignments Releaser
}

func NewApplier(trips *trip.Store, mappings *provider.MappingStore, assignments Releaser) *Applier {
	return &Applier{trips: trips, mappings: mappings, assignments: assignments}
}

// Apply translates and applies a partner status. It is idempotent: a repeat
// of the last seen status performs no writes.
func (a *Applier) Apply(ctx context.Context, tripID types.ID, prov provider.Type, partnerStatus string, payload []byte) error {
	target, ok := Translate(prov, partnerStatus)
	if !ok {
		return fmt.Errorf("provider %s reported unknown status %q", prov, partnerStatus)
	}

	m, err := a.mappings.GetByTrip(ctx, tripID)
	if err != nil {
		return err
	}
	t, err := a.trips.Get(ctx, tripID)
	if err != nil {
		return err
	}

	if m.LastStatus != nil && *m.LastStatus == partnerStatus && t.Status == target {
		return nil
	}

	if t.Status != target {
		if !trip.CanTransition(t.Status, target) {
			// a stale or out-of-order partner report; record it on the
			// mapping but leave the trip alone
			log.Printf("[statussync] trip=%s ignoring %s -> %s (partner %s said %q)",
				tripID, t.Status, target, prov, partnerStatus)
			return a.mappings.SetPartnerStatus(ctx, tripID, partnerStatus, payload)
		}
		ok, err := a.trips.UpdateStatus(ctx, tripID, t.Status, target, t.StatusVersion, nil)
		if err != nil {
			return err
		}
		if !ok {
			return trip.ErrConflict
		}
		if err := a.trips.AppendEvent(ctx, &trip.Event{
			TripID:     tripID,
			FromStatus: t.Status,
			ToStatus:   target,
			ActorType:  "provider",
			CreatedAt:  time.Now(),
		}); err != nil {
			log.Printf("[statussync] append event trip=%s: %v", tripID, err)
		}

		if target.Terminal() {
			outcome := "CANCELLED"
			if target == trip.StatusCompleted {
				outcome = "COMPLETED"
			}
			if err := a.assignments.Release(ctx, tripID, outcome); err != nil {
				log.Printf("[statussync] release trip=%s: %v", tripID, err)
			}
		}
	}

	return a.mappings.SetPartnerStatus(ctx, tripID, partnerStatus, payload)
}
