// Concurrency tests for the exclusivity invariant (run with -race).
package assignment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"dispatch/internal/modules/trip"
	"dispatch/internal/types"
)

// Interleaved assigns on one trip: exactly one claim commits.
func TestConcurrentAssignSameTrip(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	tripID := mustInsertTrip(t, db, "t_race", trip.StatusCreated)

	const attempts = 8
	for i := 0; i < attempts; i++ {
		mustInsertDriver(t, db, fmt.Sprintf("d%d", i), "ACTIVE", true)
	}

	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		driverID := types.ID(fmt.Sprintf("d%d", i))
		wg.Add(1)
		go func(did types.ID) {
			defer wg.Done()
			<-start
			_, err := svc.Assign(ctx, tripID, did)
			errs <- err
		}(driverID)
	}
	close(start)
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrTripAlreadyAssigned) && !errors.Is(err, trip.ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 successful assign, got %d", success)
	}

	var open int
	row := db.QueryRow(ctx, `SELECT COUNT(*) FROM assignments WHERE trip_id = $1 AND status IN ('ASSIGNED','ACTIVE')`, string(tripID))
	if err := row.Scan(&open); err != nil {
		t.Fatalf("count: %v", err)
	}
	if open != 1 {
		t.Fatalf("expected 1 open assignment, got %d", open)
	}
}

// Interleaved assigns of one driver onto different trips: the driver ends up
// on exactly one of them.
func TestConcurrentAssignSameDriver(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	mustInsertDriver(t, db, "d_race", "ACTIVE", true)

	const attempts = 6
	tripIDs := make([]types.ID, attempts)
	for i := 0; i < attempts; i++ {
		tripIDs[i] = mustInsertTrip(t, db, fmt.Sprintf("t_race_%d", i), trip.StatusCreated)
	}

	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for _, tripID := range tripIDs {
		wg.Add(1)
		go func(tid types.ID) {
			defer wg.Done()
			_, err := svc.Assign(ctx, tid, "d_race")
			errs <- err
		}(tripID)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrDriverBusy) && !errors.Is(err, trip.ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 successful assign, got %d", success)
	}

	var open int
	row := db.QueryRow(ctx, `SELECT COUNT(*) FROM assignments WHERE driver_id = 'd_race' AND status IN ('ASSIGNED','ACTIVE')`)
	if err := row.Scan(&open); err != nil {
		t.Fatalf("count: %v", err)
	}
	if open != 1 {
		t.Fatalf("expected 1 open assignment for the driver, got %d", open)
	}
}

// Assign racing unassign must never corrupt the availability invariant:
// afterwards the driver is available iff no open assignment references them.
func TestConcurrentAssignVsUnassign(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	tripID := mustInsertTrip(t, db, "t_au", trip.StatusCreated)
	mustInsertDriver(t, db, "d1", "ACTIVE", true)

	if _, err := svc.Assign(ctx, tripID, "d1"); err != nil {
		t.Fatalf("seed assign: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = svc.Unassign(ctx, tripID)
	}()
	go func() {
		defer wg.Done()
		_ = svc.Unassign(ctx, tripID)
	}()
	wg.Wait()

	var open int
	if err := db.QueryRow(ctx, `SELECT COUNT(*) FROM assignments WHERE driver_id = 'd1' AND status IN ('ASSIGNED','ACTIVE')`).Scan(&open); err != nil {
		t.Fatalf("count: %v", err)
	}
	var available bool
	if err := db.QueryRow(ctx, `SELECT available FROM drivers WHERE id = 'd1'`).Scan(&available); err != nil {
		t.Fatalf("driver: %v", err)
	}
	if available != (open == 0) {
		t.Fatalf("availability invariant broken: open=%d available=%v", open, available)
	}
}
