package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"dispatch/internal/types"
)

// FareFunc quotes a fare for the internal fleet without going over the wire.
type FareFunc func(q FareQuery) (types.Money, error)

// Internal fulfills trips with the company's own fleet. There is no partner
// API to call, so bookings live in process and their status follows whatever
// the webhook/sync paths report.
type Internal struct {
	fare FareFunc

	mu       sync.Mutex
	bookings map[string]*internalBooking
}

type internalBooking struct {
	Input  PrebookInput
	Status string
}

func NewInternal(fare FareFunc) *Internal {
	return &Internal{fare: fare, bookings: make(map[string]*internalBooking)}
}

func (p *Internal) Type() Type { return TypeInternal }

func (p *Internal) SearchFare(_ context.Context, q FareQuery) ([]FareOption, error) {
	if p.fare == nil {
		return nil, nil
	}
	fare, err := p.fare(q)
	if err != nil {
		return nil, err
	}
	return []FareOption{{Provider: TypeInternal, VehicleClass: q.VehicleClass, Fare: fare}}, nil
}

func (p *Internal) Prebook(_ context.Context, in PrebookInput) (Booking, error) {
	id := "INT-" + uuid.NewString()
	p.mu.Lock()
	p.bookings[id] = &internalBooking{Input: in, Status: "CONFIRMED"}
	p.mu.Unlock()

	raw, _ := json.Marshal(map[string]string{"booking_id": id, "status": "CONFIRMED"})
	return Booking{Provider: TypeInternal, ExternalID: id, RawPayload: raw}, nil
}

func (p *Internal) ConfirmPayment(context.Context, string) error { return nil }

func (p *Internal) CancelBooking(_ context.Context, externalID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.bookings[externalID]
	if !ok {
		return fmt.Errorf("%w: unknown internal booking %q", ErrBookingFailed, externalID)
	}
	b.Status = "CANCELLED"
	return nil
}

func (p *Internal) GetBookingDetails(_ context.Context, externalID string) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.bookings[externalID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown internal booking %q", ErrBookingFailed, externalID)
	}
	return json.Marshal(map[string]any{"booking_id": externalID, "status": b.Status})
}

func (p *Internal) TrackRide(_ context.Context, externalID string) (TrackInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.bookings[externalID]
	if !ok {
		return TrackInfo{}, fmt.Errorf("%w: unknown internal booking %q", ErrBookingFailed, externalID)
	}
	var info TrackInfo
	if b.Input.Pickup != nil {
		info.Source = *b.Input.Pickup
	}
	if b.Input.Drop != nil {
		info.Destination = *b.Input.Drop
	}
	return info, nil
}

func (p *Internal) GetRideStatus(_ context.Context, externalID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.bookings[externalID]
	if !ok {
		return "", fmt.Errorf("%w: unknown internal booking %q", ErrBookingFailed, externalID)
	}
	return b.Status, nil
}

// SetStatus lets inbound updates (ops tooling) move an internal booking.
func (p *Internal) SetStatus(externalID, status string) {
	p.mu.Lock()
	if b, ok := p.bookings[externalID]; ok {
		b.Status = status
	}
	p.mu.Unlock()
}
