package statussync

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"dispatch/internal/config"
	"dispatch/internal/modules/provider"
	"dispatch/internal/modules/trip"
)

const cycleLockKey = "statussync:lock"

// Worker polls partner systems for every live trip with an external booking
// and folds the reported status back into trip state. Cycles are serialized
// across instances with a redis lock; a failing trip never aborts the cycle
// for the rest.
type Worker struct {
	applier  *Applier
	trips    *trip.Store
	registry *provider.Registry
	rdb      *redis.Client
	cfg      config.SyncConfig
}

func NewWorker(applier *Applier, trips *trip.Store, registry *provider.Registry, rdb *redis.Client, cfg config.SyncConfig) *Worker {
	return &Worker{applier: applier, trips: trips, registry: registry, rdb: rdb, cfg: cfg}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	log.Printf("[statussync] worker running, interval %s", w.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[statussync] worker stopped")
			return
		case <-ticker.C:
			if !w.acquireCycleLock(ctx) {
				continue
			}
			checked, updated := w.runCycle(ctx)
			if checked > 0 {
				log.Printf("[statussync] cycle done: %d checked, %d updated", checked, updated)
			}
		}
	}
}

// acquireCycleLock keeps cycles from overlapping across instances. Without
// redis the worker runs unlocked; a single instance serializes itself via
// the ticker anyway.
func (w *Worker) acquireCycleLock(ctx context.Context) bool {
	if w.rdb == nil {
		return true
	}
	ok, err := w.rdb.SetNX(ctx, cycleLockKey, "1", w.cfg.Interval).Result()
	if err != nil {
		log.Printf("[statussync] cycle lock: %v", err)
		return true
	}
	return ok
}

func (w *Worker) runCycle(ctx context.Context) (checked, updated int) {
	bookings, err := w.trips.OpenWithBooking(ctx)
	if err != nil {
		log.Printf("[statussync] list open bookings: %v", err)
		return 0, 0
	}

	for _, b := range bookings {
		checked++
		changed, err := w.syncOne(ctx, b)
		if err != nil {
			log.Printf("[statussync] trip=%s provider=%s: %v", b.TripID, b.Provider, err)
			continue
		}
		if changed {
			updated++
		}
	}
	return checked, updated
}

func (w *Worker) syncOne(ctx context.Context, b trip.OpenBooking) (bool, error) {
	adapter, err := w.registry.Get(provider.Type(b.Provider))
	if err != nil {
		return false, err
	}
	partnerStatus, err := adapter.GetRideStatus(ctx, b.ExternalID)
	if err != nil {
		return false, err
	}
	if b.LastStatus != nil && *b.LastStatus == partnerStatus {
		return false, nil
	}
	if err := w.applier.Apply(ctx, b.TripID, provider.Type(b.Provider), partnerStatus, nil); err != nil {
		return false, err
	}
	return true, nil
}
