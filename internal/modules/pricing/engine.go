// Package pricing computes trip fares. The engine is deterministic and does
// no I/O; price and billable distance are computed once at trip creation and
// never recomputed afterwards.
package pricing

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"dispatch/internal/config"
	"dispatch/internal/types"
)

var (
	ErrBadDistance         = errors.New("distance must be positive")
	ErrUnsupportedTripType = errors.New("no rate configured for trip type")
)

// advanceBookingLead is the pickup-minus-booking lead time that qualifies for
// the discount booking bucket.
const advanceBookingLead = 24 * time.Hour

type Input struct {
	DistanceKm   float64
	TripType     string
	PickupAt     time.Time
	BookedAt     time.Time
	VehicleClass string
}

// Breakdown exposes every factor of the fare for audit and display.
type Breakdown struct {
	BillableKm         int64   `json:"billable_km"`
	RatePerKm          int64   `json:"rate_per_km"`
	TripTypeMultiplier float64 `json:"trip_type_multiplier"`
	BookingMultiplier  float64 `json:"booking_multiplier"`
	VehicleMultiplier  float64 `json:"vehicle_multiplier"`
}

type Quote struct {
	BaseFare  types.Money `json:"base_fare"`
	FinalFare types.Money `json:"final_fare"`
	Breakdown Breakdown   `json:"breakdown"`
}

type Engine struct {
	cfg config.PricingConfig
}

func NewEngine(cfg config.PricingConfig) *Engine {
	return &Engine{cfg: cfg}
}

// CalculateFare prices a trip: billable km (ceil, floored at the configured
// minimum) times the per-km rate, then the trip-type, booking-bucket and
// vehicle-class multipliers in sequence.
func (e *Engine) CalculateFare(in Input) (Quote, error) {
	if in.DistanceKm <= 0 {
		return Quote{}, ErrBadDistance
	}
	tripMult, ok := e.cfg.TripTypeMultipliers[in.TripType]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %q", ErrUnsupportedTripType, in.TripType)
	}

	billable := int64(math.Ceil(in.DistanceKm))
	if billable < e.cfg.MinBillableKm {
		billable = e.cfg.MinBillableKm
	}
	base := billable * e.cfg.RatePerKm

	bookingMult := e.cfg.StandardBucket
	if in.PickupAt.Sub(in.BookedAt) >= advanceBookingLead {
		bookingMult = e.cfg.DiscountBucket
	}

	vehicleMult := e.cfg.NonEVMultiplier
	if strings.EqualFold(in.VehicleClass, "EV") {
		vehicleMult = e.cfg.EVMultiplier
	}

	final := int64(math.Round(float64(base) * tripMult * bookingMult * vehicleMult))

	return Quote{
		BaseFare:  types.Money{Amount: base, Currency: e.cfg.Currency},
		FinalFare: types.Money{Amount: final, Currency: e.cfg.Currency},
		Breakdown: Breakdown{
			BillableKm:         billable,
			RatePerKm:          e.cfg.RatePerKm,
			TripTypeMultiplier: tripMult,
			BookingMultiplier:  bookingMult,
			VehicleMultiplier:  vehicleMult,
		},
	}, nil
}
