// Package provider abstracts trip fulfillment sources behind one contract:
// the internal fleet and external partner APIs all look the same to the rest
// of the dispatch core. Adapters own partner authentication and never leak
// partner failures into local trip state.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"dispatch/internal/types"
)

type Type string

const (
	TypeInternal Type = "INTERNAL"
	TypePartnerA Type = "PARTNER_A"
	TypePartnerB Type = "PARTNER_B"
)

var (
	ErrNotRegistered = errors.New("provider not registered")
	// ErrAuthFailed means token refresh was exhausted; it is distinct from a
	// booking failure so callers can tell configuration trouble from partner
	// rejections.
	ErrAuthFailed    = errors.New("partner authentication failed")
	ErrBookingFailed = errors.New("partner booking failed")
	ErrNotSupported  = errors.New("operation not supported by provider")
)

type FareQuery struct {
	TripType        string
	OriginCity      string
	DestinationCity string
	Pickup          types.Point
	PickupAt        time.Time
	DistanceKm      float64
	VehicleClass    string
}

type FareOption struct {
	Provider     Type        `json:"provider"`
	VehicleClass string      `json:"vehicle_class"`
	Fare         types.Money `json:"fare"`
}

type PrebookInput struct {
	TripID          types.ID
	TripType        string
	OriginCity      string
	DestinationCity string
	Pickup          *types.Point
	Drop            *types.Point
	PickupAt        time.Time
	DistanceKm      float64
	VehicleClass    string
}

type Booking struct {
	Provider   Type
	ExternalID string
	RawPayload json.RawMessage
}

type TrackInfo struct {
	Source      types.Point  `json:"source"`
	Destination types.Point  `json:"destination"`
	Live        *types.Point `json:"live,omitempty"`
}

// Adapter is the uniform contract over one fulfillment source.
type Adapter interface {
	Type() Type
	SearchFare(ctx context.Context, q FareQuery) ([]FareOption, error)
	Prebook(ctx context.Context, in PrebookInput) (Booking, error)
	ConfirmPayment(ctx context.Context, externalID string) error
	CancelBooking(ctx context.Context, externalID string) error
	GetBookingDetails(ctx context.Context, externalID string) (json.RawMessage, error)
	TrackRide(ctx context.Context, externalID string) (TrackInfo, error)
	GetRideStatus(ctx context.Context, externalID string) (string, error)
}
