// Package constraint decides whether a requested trip is legal. The engine is
// a pure rule evaluator: no I/O, deny reasons are suitable for direct display.
package constraint

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"dispatch/internal/config"
)

// ErrUnsupportedTripType is returned for trip types the engine has no rule
// for. Normal denials never produce an error, only a Result.
var ErrUnsupportedTripType = errors.New("unsupported trip type")

type Input struct {
	TripType     string
	OriginCity   string
	PickupAt     time.Time
	DistanceKm   float64
	VehicleClass string
	IsPrebooked  bool
}

type Result struct {
	Allowed bool
	Reason  string
}

type Engine struct {
	cfg config.ConstraintConfig
	now func() time.Time
}

func NewEngine(cfg config.ConstraintConfig) *Engine {
	return &Engine{cfg: cfg, now: time.Now}
}

func (e *Engine) Validate(in Input) (Result, error) {
	if !e.cityAllowed(in.OriginCity) {
		return deny(fmt.Sprintf("origin city %q is not serviceable; allowed cities: %s",
			in.OriginCity, strings.Join(e.cfg.AllowedCities, ", "))), nil
	}

	switch in.TripType {
	case "AIRPORT", "RENTAL":
		return e.validatePrebooked(in), nil
	case "INTER_CITY":
		return e.validateInterCity(in), nil
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedTripType, in.TripType)
	}
}

func (e *Engine) validatePrebooked(in Input) Result {
	if !in.IsPrebooked {
		return deny(fmt.Sprintf("%s trips must be pre-booked", in.TripType))
	}
	boundary := e.bookingBoundary()
	if in.PickupAt.Before(boundary) {
		return deny(fmt.Sprintf("%s trips must be booked for pickup on or after %s",
			in.TripType, boundary.Format("02 Jan 2006 15:04")))
	}
	return allow()
}

func (e *Engine) validateInterCity(in Input) Result {
	if isElectric(in.VehicleClass) && in.DistanceKm > e.cfg.EVMaxInterCityKm {
		return deny(fmt.Sprintf("inter-city trips over %.0f km are not available for electric vehicles",
			e.cfg.EVMaxInterCityKm))
	}
	return allow()
}

// bookingBoundary is 04:00 of the next calendar day, or now+1m in relaxed
// (non-production) mode.
func (e *Engine) bookingBoundary() time.Time {
	now := e.now()
	if e.cfg.RelaxedBookingWindow {
		return now.Add(time.Minute)
	}
	next := now.AddDate(0, 0, 1)
	return time.Date(next.Year(), next.Month(), next.Day(), 4, 0, 0, 0, now.Location())
}

func (e *Engine) cityAllowed(city string) bool {
	for _, c := range e.cfg.AllowedCities {
		if strings.EqualFold(c, city) {
			return true
		}
	}
	return false
}

func isElectric(class string) bool {
	return strings.EqualFold(class, "EV")
}

func allow() Result          { return Result{Allowed: true} }
func deny(reason string) Result { return Result{Allowed: false, Reason: reason} }
