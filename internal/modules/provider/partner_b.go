package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"dispatch/internal/config"
	"dispatch/internal/types"
)

// PartnerB wraps the Partner B supply API. Partner B uses a static API key
// and a block/confirm/release vocabulary instead of bookings.
type PartnerB struct {
	api *apiClient
	cfg config.PartnerConfig
}

func NewPartnerB(cfg config.PartnerConfig, pcfg config.ProviderConfig) *PartnerB {
	return &PartnerB{
		api: newAPIClient(cfg.BaseURL, pcfg.HTTPTimeout),
		cfg: cfg,
	}
}

func (b *PartnerB) Type() Type { return TypePartnerB }

func (b *PartnerB) headers() map[string]string {
	return map[string]string{"X-Api-Key": b.cfg.APIKey}
}

type partnerBTrip struct {
	BlockRef string `json:"blockRef"`
	State    string `json:"state"`
}

func (b *PartnerB) SearchFare(ctx context.Context, q FareQuery) ([]FareOption, error) {
	var resp struct {
		Quotes []struct {
			CabClass string `json:"cabClass"`
			Price    int64  `json:"price"`
			Currency string `json:"currency"`
		} `json:"quotes"`
	}
	status, raw, err := b.api.doJSON(ctx, http.MethodPost, "/api/v2/quote", b.headers(), map[string]any{
		"tripKind":   q.TripType,
		"fromCity":   q.OriginCity,
		"toCity":     q.DestinationCity,
		"pickupTime": q.PickupAt.Format(time.RFC3339),
		"distanceKm": q.DistanceKm,
		"cabClass":   q.VehicleClass,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, partnerBError(status, raw)
	}
	out := make([]FareOption, len(resp.Quotes))
	for i, qt := range resp.Quotes {
		out[i] = FareOption{
			Provider:     TypePartnerB,
			VehicleClass: qt.CabClass,
			Fare:         types.Money{Amount: qt.Price, Currency: qt.Currency},
		}
	}
	return out, nil
}

func (b *PartnerB) Prebook(ctx context.Context, in PrebookInput) (Booking, error) {
	body := map[string]any{
		"clientRef":  string(in.TripID),
		"tripKind":   in.TripType,
		"fromCity":   in.OriginCity,
		"toCity":     in.DestinationCity,
		"pickupTime": in.PickupAt.Format(time.RFC3339),
		"distanceKm": in.DistanceKm,
		"cabClass":   in.VehicleClass,
	}
	if in.Pickup != nil {
		body["pickup"] = map[string]float64{"lat": in.Pickup.Lat, "lng": in.Pickup.Lng}
	}
	if in.Drop != nil {
		body["drop"] = map[string]float64{"lat": in.Drop.Lat, "lng": in.Drop.Lng}
	}

	var resp partnerBTrip
	status, raw, err := b.api.doJSON(ctx, http.MethodPost, "/api/v2/block", b.headers(), body, &resp)
	if err != nil {
		return Booking{}, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return Booking{}, partnerBError(status, raw)
	}
	if resp.BlockRef == "" {
		return Booking{}, fmt.Errorf("%w: partner B returned no block reference", ErrBookingFailed)
	}
	return Booking{Provider: TypePartnerB, ExternalID: resp.BlockRef, RawPayload: raw}, nil
}

func (b *PartnerB) ConfirmPayment(ctx context.Context, externalID string) error {
	status, raw, err := b.api.doJSON(ctx, http.MethodPost, "/api/v2/confirm", b.headers(),
		map[string]string{"blockRef": externalID}, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return partnerBError(status, raw)
	}
	return nil
}

func (b *PartnerB) CancelBooking(ctx context.Context, externalID string) error {
	status, raw, err := b.api.doJSON(ctx, http.MethodPost, "/api/v2/release", b.headers(),
		map[string]string{"blockRef": externalID}, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return partnerBError(status, raw)
	}
	return nil
}

func (b *PartnerB) GetBookingDetails(ctx context.Context, externalID string) (json.RawMessage, error) {
	status, raw, err := b.api.doJSON(ctx, http.MethodGet, "/api/v2/trip/"+externalID, b.headers(), nil, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, partnerBError(status, raw)
	}
	return raw, nil
}

func (b *PartnerB) TrackRide(ctx context.Context, externalID string) (TrackInfo, error) {
	var resp struct {
		From *types.Point `json:"from"`
		To   *types.Point `json:"to"`
		Cab  *types.Point `json:"cab"`
	}
	status, raw, err := b.api.doJSON(ctx, http.MethodGet, "/api/v2/trip/"+externalID+"/position", b.headers(), nil, &resp)
	if err != nil {
		return TrackInfo{}, err
	}
	if status != http.StatusOK {
		return TrackInfo{}, partnerBError(status, raw)
	}
	info := TrackInfo{Live: resp.Cab}
	if resp.From != nil {
		info.Source = *resp.From
	}
	if resp.To != nil {
		info.Destination = *resp.To
	}
	return info, nil
}

func (b *PartnerB) GetRideStatus(ctx context.Context, externalID string) (string, error) {
	var resp partnerBTrip
	status, raw, err := b.api.doJSON(ctx, http.MethodGet, "/api/v2/trip/"+externalID+"/state", b.headers(), nil, &resp)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", partnerBError(status, raw)
	}
	return resp.State, nil
}

func partnerBError(status int, raw []byte) error {
	var envelope struct {
		Status       string `json:"status"`
		ErrorCode    string `json:"errorCode"`
		ErrorMessage string `json:"errorMessage"`
	}
	if json.Unmarshal(raw, &envelope) == nil && envelope.ErrorCode != "" {
		return fmt.Errorf("%w: partner B %s (%s)", ErrBookingFailed, envelope.ErrorCode, envelope.ErrorMessage)
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return fmt.Errorf("%w: partner B rejected API key (%d)", ErrAuthFailed, status)
	}
	return fmt.Errorf("%w: partner B returned %d", ErrBookingFailed, status)
}
