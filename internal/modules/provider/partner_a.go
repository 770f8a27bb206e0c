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

// PartnerA wraps the Partner A booking API: OAuth client-credentials auth
// with short-lived bearer tokens, REST-ish booking resources.
type PartnerA struct {
	api    *apiClient
	auth   *apiClient
	cfg    config.PartnerConfig
	tokens *tokenCache
}

func NewPartnerA(cfg config.PartnerConfig, pcfg config.ProviderConfig) *PartnerA {
	a := &PartnerA{
		api:  newAPIClient(cfg.BaseURL, pcfg.HTTPTimeout),
		auth: newAPIClient(cfg.AuthURL, pcfg.HTTPTimeout),
		cfg:  cfg,
	}
	a.tokens = newTokenCache(a.fetchToken, pcfg.AuthAttempts, pcfg.AuthBackoffBase)
	return a
}

func (a *PartnerA) Type() Type { return TypePartnerA }

func (a *PartnerA) fetchToken(ctx context.Context) (string, time.Time, error) {
	var resp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	status, _, err := a.auth.doJSON(ctx, http.MethodPost, "", nil, map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     a.cfg.ClientID,
		"client_secret": a.cfg.ClientSecret,
	}, &resp)
	if err != nil {
		return "", time.Time{}, err
	}
	if status != http.StatusOK || resp.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("token endpoint returned %d", status)
	}
	return resp.AccessToken, time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second), nil
}

// call performs an authenticated request, refreshing the token once if the
// partner rejects it early.
func (a *PartnerA) call(ctx context.Context, method, path string, in, out any) (int, []byte, error) {
	token, err := a.tokens.Token(ctx)
	if err != nil {
		return 0, nil, err
	}
	status, raw, err := a.api.doJSON(ctx, method, path, bearer(token), in, out)
	if err != nil || status != http.StatusUnauthorized {
		return status, raw, err
	}
	a.tokens.Invalidate()
	if token, err = a.tokens.Token(ctx); err != nil {
		return 0, nil, err
	}
	return a.api.doJSON(ctx, method, path, bearer(token), in, out)
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

type partnerABooking struct {
	BookingID string `json:"booking_id"`
	Status    string `json:"status"`
}

func (a *PartnerA) SearchFare(ctx context.Context, q FareQuery) ([]FareOption, error) {
	var resp struct {
		Fares []struct {
			VehicleClass string `json:"vehicle_class"`
			Amount       int64  `json:"amount"`
			Currency     string `json:"currency"`
		} `json:"fares"`
	}
	status, raw, err := a.call(ctx, http.MethodPost, "/v1/fares/search", map[string]any{
		"trip_type":     q.TripType,
		"origin":        q.OriginCity,
		"destination":   q.DestinationCity,
		"pickup_at":     q.PickupAt.Format(time.RFC3339),
		"distance_km":   q.DistanceKm,
		"vehicle_class": q.VehicleClass,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, partnerAError(status, raw)
	}
	out := make([]FareOption, len(resp.Fares))
	for i, f := range resp.Fares {
		out[i] = FareOption{
			Provider:     TypePartnerA,
			VehicleClass: f.VehicleClass,
			Fare:         types.Money{Amount: f.Amount, Currency: f.Currency},
		}
	}
	return out, nil
}

func (a *PartnerA) Prebook(ctx context.Context, in PrebookInput) (Booking, error) {
	body := map[string]any{
		"reference":     string(in.TripID),
		"trip_type":     in.TripType,
		"origin":        in.OriginCity,
		"destination":   in.DestinationCity,
		"pickup_at":     in.PickupAt.Format(time.RFC3339),
		"distance_km":   in.DistanceKm,
		"vehicle_class": in.VehicleClass,
	}
	if in.Pickup != nil {
		body["pickup_lat"], body["pickup_lng"] = in.Pickup.Lat, in.Pickup.Lng
	}
	if in.Drop != nil {
		body["drop_lat"], body["drop_lng"] = in.Drop.Lat, in.Drop.Lng
	}

	var resp partnerABooking
	status, raw, err := a.call(ctx, http.MethodPost, "/v1/bookings", body, &resp)
	if err != nil {
		return Booking{}, err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return Booking{}, partnerAError(status, raw)
	}
	if resp.BookingID == "" {
		return Booking{}, fmt.Errorf("%w: partner A returned no booking id", ErrBookingFailed)
	}
	return Booking{Provider: TypePartnerA, ExternalID: resp.BookingID, RawPayload: raw}, nil
}

func (a *PartnerA) ConfirmPayment(ctx context.Context, externalID string) error {
	status, raw, err := a.call(ctx, http.MethodPost, "/v1/bookings/"+externalID+"/payment-confirm", nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return partnerAError(status, raw)
	}
	return nil
}

func (a *PartnerA) CancelBooking(ctx context.Context, externalID string) error {
	status, raw, err := a.call(ctx, http.MethodDelete, "/v1/bookings/"+externalID, nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return partnerAError(status, raw)
	}
	return nil
}

func (a *PartnerA) GetBookingDetails(ctx context.Context, externalID string) (json.RawMessage, error) {
	status, raw, err := a.call(ctx, http.MethodGet, "/v1/bookings/"+externalID, nil, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, partnerAError(status, raw)
	}
	return raw, nil
}

func (a *PartnerA) TrackRide(ctx context.Context, externalID string) (TrackInfo, error) {
	var resp TrackInfo
	status, raw, err := a.call(ctx, http.MethodGet, "/v1/bookings/"+externalID+"/track", nil, &resp)
	if err != nil {
		return TrackInfo{}, err
	}
	if status != http.StatusOK {
		return TrackInfo{}, partnerAError(status, raw)
	}
	return resp, nil
}

func (a *PartnerA) GetRideStatus(ctx context.Context, externalID string) (string, error) {
	var resp partnerABooking
	status, raw, err := a.call(ctx, http.MethodGet, "/v1/bookings/"+externalID+"/status", nil, &resp)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", partnerAError(status, raw)
	}
	return resp.Status, nil
}

func partnerAError(status int, raw []byte) error {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Code != "" {
		return fmt.Errorf("%w: partner A %s (%s)", ErrBookingFailed, envelope.Error.Code, envelope.Error.Message)
	}
	return fmt.Errorf("%w: partner A returned %d", ErrBookingFailed, status)
}
