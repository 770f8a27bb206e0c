// Entry point: loads config, wires the dispatch services, starts the HTTP
// server and the provider status sync worker.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dispatch/internal/config"
	httptransport "dispatch/internal/http"
	"dispatch/internal/infra"
	"dispatch/internal/modules/assignment"
	"dispatch/internal/modules/constraint"
	"dispatch/internal/modules/driver"
	"dispatch/internal/modules/pricing"
	"dispatch/internal/modules/provider"
	"dispatch/internal/modules/statussync"
	"dispatch/internal/modules/trip"
	"dispatch/internal/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DB.Migrate {
		if err := infra.RunMigrations(cfg.DB.DSN, cfg.DB.MigrationsPath); err != nil {
			log.Fatal(err)
		}
	}

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal(err)
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr)

	constraints := constraint.NewEngine(cfg.Constraint)
	pricer := pricing.NewEngine(cfg.Pricing)

	internalFleet := provider.NewInternal(func(q provider.FareQuery) (types.Money, error) {
		quote, err := pricer.CalculateFare(pricing.Input{
			DistanceKm:   q.DistanceKm,
			TripType:     q.TripType,
			PickupAt:     q.PickupAt,
			BookedAt:     time.Now(),
			VehicleClass: q.VehicleClass,
		})
		if err != nil {
			return types.Money{}, err
		}
		return quote.FinalFare, nil
	})
	registry := provider.NewRegistry(
		internalFleet,
		provider.NewPartnerA(cfg.Provider.PartnerA, cfg.Provider),
		provider.NewPartnerB(cfg.Provider.PartnerB, cfg.Provider),
	)
	policy := provider.NewAllocationPolicy(cfg.Allocation)
	mappings := provider.NewMappingStore(dbPool)

	tripStore := trip.NewStore(dbPool)
	tripSvc := trip.NewService(dbPool, tripStore, constraints, pricer, registry, policy, mappings, redisClient)

	driverStore := driver.NewStore(dbPool)
	driverMirror := driver.NewMirror(redisClient)
	assignmentSvc := assignment.NewService(dbPool, assignment.NewStore(dbPool), tripStore, driverStore, driverMirror, registry, mappings)

	lifecycle := trip.NewLifecycle(tripStore, assignmentSvc, registry, mappings, cfg.Lifecycle)

	applier := statussync.NewApplier(tripStore, mappings, assignmentSvc)
	if cfg.Sync.Enabled {
		worker := statussync.NewWorker(applier, tripStore, registry, redisClient, cfg.Sync)
		go worker.Run(ctx)
	}

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Trips:       tripSvc,
		Lifecycle:   lifecycle,
		Assignments: assignmentSvc,
		Applier:     applier,
		Mappings:    mappings,
		TripStore:   tripStore,
		Provider:    cfg.Provider,
		Env:         cfg.Env,
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: router}
	go func() {
		log.Printf("[main] listening on %s", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] shutdown: %v", err)
	}
}
