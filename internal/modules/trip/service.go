package trip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"dispatch/internal/modules/constraint"
	"dispatch/internal/modules/pricing"
	"dispatch/internal/modules/provider"
	"dispatch/internal/types"
)

const (
	trackingCacheTTL = 5 * time.Second
	prebookTimeout   = 30 * time.Second
)

// Service is the trip orchestrator: it validates, prices and persists new
// trips and hands them to a provider. It never assigns drivers; that is the
// assignment service's job.
type Service struct {
	pool        *pgxpool.Pool
	store       *Store
	constraints *constraint.Engine
	pricer      *pricing.Engine
	registry    *provider.Registry
	policy      *provider.AllocationPolicy
	mappings    *provider.MappingStore
	rdb         *redis.Client
}

func NewService(
	pool *pgxpool.Pool,
	store *Store,
	constraints *constraint.Engine,
	pricer *pricing.Engine,
	registry *provider.Registry,
	policy *provider.AllocationPolicy,
	mappings *provider.MappingStore,
	rdb *redis.Client,
) *Service {
	return &Service{
		pool:        pool,
		store:       store,
		constraints: constraints,
		pricer:      pricer,
		registry:    registry,
		policy:      policy,
		mappings:    mappings,
		rdb:         rdb,
	}
}

type CreateCommand struct {
	CreatedBy       types.ID
	TripType        string
	OriginCity      string
	DestinationCity string
	Pickup          types.Point
	Drop            types.Point
	PickupAt        time.Time
	BookedAt        time.Time
	Prebooked       bool
	DistanceKm      float64
	VehicleClass    string
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Trip, error) {
	tripType, err := ParseType(cmd.TripType)
	if err != nil {
		return nil, err
	}
	if cmd.OriginCity == "" {
		return nil, fmt.Errorf("%w: origin city is required", ErrBadRequest)
	}
	if cmd.PickupAt.IsZero() {
		return nil, fmt.Errorf("%w: pickup time is required", ErrBadRequest)
	}
	if cmd.DistanceKm <= 0 {
		return nil, fmt.Errorf("%w: distance must be positive", ErrBadRequest)
	}
	bookedAt := cmd.BookedAt
	if bookedAt.IsZero() {
		bookedAt = time.Now()
	}

	verdict, err := s.constraints.Validate(constraint.Input{
		TripType:     string(tripType),
		OriginCity:   cmd.OriginCity,
		PickupAt:     cmd.PickupAt,
		DistanceKm:   cmd.DistanceKm,
		VehicleClass: cmd.VehicleClass,
		IsPrebooked:  cmd.Prebooked,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if !verdict.Allowed {
		return nil, &DeniedError{Reason: verdict.Reason}
	}

	quote, err := s.pricer.CalculateFare(pricing.Input{
		DistanceKm:   cmd.DistanceKm,
		TripType:     string(tripType),
		PickupAt:     cmd.PickupAt,
		BookedAt:     bookedAt,
		VehicleClass: cmd.VehicleClass,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	breakdown, err := json.Marshal(quote.Breakdown)
	if err != nil {
		return nil, err
	}

	prov, immediate, err := s.policy.Choose(string(tripType))
	if err != nil {
		return nil, err
	}
	provName := string(prov)

	now := time.Now()
	t := &Trip{
		ID:              types.ID(uuid.NewString()),
		Type:            tripType,
		Status:          StatusCreated,
		StatusVersion:   0,
		OriginCity:      cmd.OriginCity,
		DestinationCity: cmd.DestinationCity,
		Pickup:          cmd.Pickup,
		Drop:            cmd.Drop,
		PickupAt:        cmd.PickupAt,
		BookedAt:        bookedAt,
		Prebooked:       cmd.Prebooked,
		DistanceKm:      cmd.DistanceKm,
		BillableKm:      quote.Breakdown.BillableKm,
		RatePerKm:       quote.Breakdown.RatePerKm,
		VehicleClass:    VehicleClass(cmd.VehicleClass),
		Fare:            quote.FinalFare,
		FareBreakdown:   breakdown,
		Provider:        &provName,
		CreatedBy:       cmd.CreatedBy,
		CreatedAt:       now,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := s.store.WithTx(tx).Create(ctx, t); err != nil {
		return nil, err
	}
	if err := s.mappings.WithTx(tx).Create(ctx, &provider.Mapping{
		TripID:   t.ID,
		Provider: prov,
		State:    provider.MappingPending,
	}); err != nil {
		return nil, err
	}
	if err := s.store.WithTx(tx).AppendEvent(ctx, &Event{
		TripID:     t.ID,
		FromStatus: StatusNone,
		ToStatus:   StatusCreated,
		ActorType:  "caller",
		ActorID:    &cmd.CreatedBy,
		CreatedAt:  now,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	if immediate {
		s.prebook(t, prov)
	}
	return t, nil
}

// prebook hands the trip to its partner after the local commit. Failure is
// recorded and logged only; the trip stays dispatchable with a PENDING
// mapping for the ops flow to pick up.
func (s *Service) prebook(t *Trip, prov provider.Type) {
	ctx, cancel := context.WithTimeout(context.Background(), prebookTimeout)
	defer cancel()

	adapter, err := s.registry.Get(prov)
	if err != nil {
		log.Printf("[trip] prebook trip=%s: %v", t.ID, err)
		return
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
		log.Printf("[trip] prebook trip=%s provider=%s failed: %v", t.ID, prov, err)
		return
	}
	if err := s.mappings.SetBooking(ctx, t.ID, prov, booking.ExternalID, booking.RawPayload); err != nil {
		log.Printf("[trip] record booking trip=%s booking=%s: %v", t.ID, booking.ExternalID, err)
	}
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Trip, error) {
	return s.store.Get(ctx, id)
}

type ListQuery struct {
	Status string
	Page   int
	Limit  int
}

func (s *Service) List(ctx context.Context, q ListQuery) ([]ListItem, int, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 20
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	var status *Status
	if q.Status != "" {
		st := Status(q.Status)
		status = &st
	}
	return s.store.List(ctx, status, q.Page, q.Limit)
}

// Tracking returns source/destination/live coordinates for a trip, from the
// bound provider where a booking exists and from the trip row otherwise.
// Responses are cached briefly so polling clients do not hammer partners.
func (s *Service) Tracking(ctx context.Context, id types.ID) (provider.TrackInfo, error) {
	if info, ok := s.cachedTracking(ctx, id); ok {
		return info, nil
	}

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return provider.TrackInfo{}, err
	}

	info := provider.TrackInfo{Source: t.Pickup, Destination: t.Drop}
	m, err := s.mappings.GetByTrip(ctx, id)
	if err == nil && m.State == provider.MappingPrebooked && m.ExternalID != nil {
		adapter, aerr := s.registry.Get(m.Provider)
		if aerr != nil {
			return provider.TrackInfo{}, aerr
		}
		live, terr := adapter.TrackRide(ctx, *m.ExternalID)
		if terr != nil {
			log.Printf("[trip] track trip=%s provider=%s: %v", id, m.Provider, terr)
		} else {
			info = live
		}
	} else if err != nil && !errors.Is(err, provider.ErrMappingNotFound) {
		return provider.TrackInfo{}, err
	}

	s.cacheTracking(ctx, id, info)
	return info, nil
}

func trackingKey(id types.ID) string { return "tracking:" + string(id) }

func (s *Service) cachedTracking(ctx context.Context, id types.ID) (provider.TrackInfo, bool) {
	if s.rdb == nil {
		return provider.TrackInfo{}, false
	}
	raw, err := s.rdb.Get(ctx, trackingKey(id)).Bytes()
	if err != nil {
		return provider.TrackInfo{}, false
	}
	var info provider.TrackInfo
	if json.Unmarshal(raw, &info) != nil {
		return provider.TrackInfo{}, false
	}
	return info, true
}

func (s *Service) cacheTracking(ctx context.Context, id types.ID, info provider.TrackInfo) {
	if s.rdb == nil {
		return
	}
	raw, err := json.Marshal(info)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, trackingKey(id), raw, trackingCacheTTL).Err(); err != nil {
		log.Printf("[trip] cache tracking trip=%s: %v", id, err)
	}
}
