package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"dispatch/internal/http/handlers"
	"dispatch/internal/modules/provider"
	"dispatch/internal/modules/trip"
	"dispatch/internal/types"
)

type stubApplier struct {
	err     error
	tripID  types.ID
	prov    provider.Type
	status  string
	payload []byte
}

func (s *stubApplier) Apply(_ context.Context, tripID types.ID, prov provider.Type, partnerStatus string, payload []byte) error {
	s.tripID, s.prov, s.status, s.payload = tripID, prov, partnerStatus, payload
	return s.err
}

type stubMappings struct {
	mapping *provider.Mapping
	err     error
}

func (s *stubMappings) GetByExternalID(context.Context, provider.Type, string) (*provider.Mapping, error) {
	return s.mapping, s.err
}

type stubTripStore struct {
	trip          *trip.Trip
	rescheduleErr error
	rescheduled   time.Time
}

func (s *stubTripStore) Get(context.Context, types.ID) (*trip.Trip, error) {
	return s.trip, nil
}

func (s *stubTripStore) Reschedule(_ context.Context, _ types.ID, pickupAt time.Time) error {
	if s.rescheduleErr != nil {
		return s.rescheduleErr
	}
	s.rescheduled = pickupAt
	return nil
}

func buildPartnerRouter(applier *stubApplier, mappings *stubMappings, trips *stubTripStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := handlers.NewPartnerHandler(applier, mappings, trips)
	r.POST("/webhooks/partner-a/status", h.PartnerAStatus)
	r.POST("/webhooks/partner-a/bookings/:ref/cancel", h.PartnerACancel)
	r.POST("/webhooks/partner-a/bookings/:ref/reschedule", h.PartnerAReschedule)
	r.GET("/webhooks/partner-a/bookings/:ref/status", h.PartnerABookingStatus)
	r.POST("/webhooks/partner-b/status", h.PartnerBStatus)
	r.POST("/webhooks/partner-b/confirm", h.PartnerBConfirm)
	r.POST("/webhooks/partner-b/release", h.PartnerBRelease)
	r.GET("/webhooks/partner-b/trip/:ref/state", h.PartnerBTripState)
	return r
}

func TestPartnerAStatusCallback(t *testing.T) {
	applier := &stubApplier{}
	mappings := &stubMappings{mapping: &provider.Mapping{TripID: "t1", Provider: provider.TypePartnerA}}
	r := buildPartnerRouter(applier, mappings, &stubTripStore{})

	w := doJSON(r, http.MethodPost, "/webhooks/partner-a/status",
		map[string]any{"booking_id": "PA-77", "status": "ONGOING"}, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if applier.tripID != "t1" || applier.prov != provider.TypePartnerA || applier.status != "ONGOING" {
		t.Fatalf("applied trip=%s provider=%s status=%s", applier.tripID, applier.prov, applier.status)
	}
	var payload map[string]any
	if err := json.Unmarshal(applier.payload, &payload); err != nil {
		t.Fatalf("raw payload not passed through: %v", err)
	}
	if payload["booking_id"] != "PA-77" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestPartnerAUnknownBooking(t *testing.T) {
	r := buildPartnerRouter(&stubApplier{}, &stubMappings{err: provider.ErrMappingNotFound}, &stubTripStore{})

	w := doJSON(r, http.MethodPost, "/webhooks/partner-a/status",
		map[string]any{"booking_id": "PA-404", "status": "ONGOING"}, nil)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error.Code != "UNKNOWN_BOOKING" {
		t.Fatalf("error code = %q", resp.Error.Code)
	}
}

func TestPartnerAUnknownStatus(t *testing.T) {
	r := buildPartnerRouter(&stubApplier{}, &stubMappings{mapping: &provider.Mapping{TripID: "t1"}}, &stubTripStore{})

	w := doJSON(r, http.MethodPost, "/webhooks/partner-a/status",
		map[string]any{"booking_id": "PA-77", "status": "TELEPORTED"}, nil)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
}

func TestPartnerACancelOperation(t *testing.T) {
	applier := &stubApplier{}
	mappings := &stubMappings{mapping: &provider.Mapping{TripID: "t1", Provider: provider.TypePartnerA}}
	r := buildPartnerRouter(applier, mappings, &stubTripStore{})

	w := doJSON(r, http.MethodPost, "/webhooks/partner-a/bookings/PA-77/cancel", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if applier.status != "CANCELLED" {
		t.Fatalf("applied status = %q, want CANCELLED", applier.status)
	}
}

func TestPartnerAReschedule(t *testing.T) {
	trips := &stubTripStore{}
	mappings := &stubMappings{mapping: &provider.Mapping{TripID: "t1", Provider: provider.TypePartnerA}}
	r := buildPartnerRouter(&stubApplier{}, mappings, trips)

	pickup := time.Now().Add(4 * time.Hour).UTC().Truncate(time.Second)
	w := doJSON(r, http.MethodPost, "/webhooks/partner-a/bookings/PA-77/reschedule",
		map[string]any{"pickup_at": pickup.Format(time.RFC3339)}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !trips.rescheduled.Equal(pickup) {
		t.Fatalf("rescheduled to %s, want %s", trips.rescheduled, pickup)
	}
}

func TestPartnerARescheduleTooLate(t *testing.T) {
	trips := &stubTripStore{rescheduleErr: trip.ErrInvalidState}
	mappings := &stubMappings{mapping: &provider.Mapping{TripID: "t1"}}
	r := buildPartnerRouter(&stubApplier{}, mappings, trips)

	w := doJSON(r, http.MethodPost, "/webhooks/partner-a/bookings/PA-77/reschedule",
		map[string]any{"pickup_at": time.Now().Add(time.Hour).Format(time.RFC3339)}, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestPartnerABookingStatusQuery(t *testing.T) {
	trips := &stubTripStore{trip: &trip.Trip{ID: "t1", Status: trip.StatusStarted}}
	mappings := &stubMappings{mapping: &provider.Mapping{TripID: "t1", Provider: provider.TypePartnerA}}
	r := buildPartnerRouter(&stubApplier{}, mappings, trips)

	w := doJSON(r, http.MethodGet, "/webhooks/partner-a/bookings/PA-77/status", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		BookingID string `json:"booking_id"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ONGOING" {
		t.Fatalf("status = %q, want ONGOING", resp.Status)
	}
}

func TestPartnerBConfirmAndRelease(t *testing.T) {
	applier := &stubApplier{}
	mappings := &stubMappings{mapping: &provider.Mapping{TripID: "t2", Provider: provider.TypePartnerB}}
	r := buildPartnerRouter(applier, mappings, &stubTripStore{})

	w := doJSON(r, http.MethodPost, "/webhooks/partner-b/confirm", map[string]any{"blockRef": "BLK-42"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if applier.status != "CONFIRMED" {
		t.Fatalf("applied state = %q", applier.status)
	}

	w = doJSON(r, http.MethodPost, "/webhooks/partner-b/release", map[string]any{"blockRef": "BLK-42"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("release: expected 200, got %d", w.Code)
	}
	if applier.status != "VOID" {
		t.Fatalf("applied state = %q, want VOID", applier.status)
	}
}

func TestPartnerBTripState(t *testing.T) {
	trips := &stubTripStore{trip: &trip.Trip{ID: "t2", Status: trip.StatusCompleted}}
	mappings := &stubMappings{mapping: &provider.Mapping{TripID: "t2", Provider: provider.TypePartnerB}}
	r := buildPartnerRouter(&stubApplier{}, mappings, trips)

	w := doJSON(r, http.MethodGet, "/webhooks/partner-b/trip/BLK-42/state", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		BlockRef string `json:"blockRef"`
		State    string `json:"state"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.State != "DONE" {
		t.Fatalf("state = %q, want DONE", resp.State)
	}
}

func TestPartnerBErrorEnvelope(t *testing.T) {
	r := buildPartnerRouter(&stubApplier{}, &stubMappings{mapping: &provider.Mapping{TripID: "t2"}}, &stubTripStore{})

	w := doJSON(r, http.MethodPost, "/webhooks/partner-b/status",
		map[string]any{"blockRef": "", "state": "in_trip"}, nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var resp struct {
		Status    string `json:"status"`
		ErrorCode string `json:"errorCode"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "error" || resp.ErrorCode != "BAD_REQUEST" {
		t.Fatalf("envelope = %+v", resp)
	}
}
