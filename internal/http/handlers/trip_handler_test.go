package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"dispatch/internal/http/handlers"
	"dispatch/internal/http/middleware"
	"dispatch/internal/modules/provider"
	"dispatch/internal/modules/trip"
	"dispatch/internal/types"
)

type stubTrips struct {
	trip    *trip.Trip
	items   []trip.ListItem
	total   int
	err     error
	created trip.CreateCommand
}

func (s *stubTrips) Create(_ context.Context, cmd trip.CreateCommand) (*trip.Trip, error) {
	s.created = cmd
	return s.trip, s.err
}

func (s *stubTrips) Get(context.Context, types.ID) (*trip.Trip, error) {
	return s.trip, s.err
}

func (s *stubTrips) List(context.Context, trip.ListQuery) ([]trip.ListItem, int, error) {
	return s.items, s.total, s.err
}

func (s *stubTrips) Tracking(context.Context, types.ID) (provider.TrackInfo, error) {
	if s.err != nil {
		return provider.TrackInfo{}, s.err
	}
	return provider.TrackInfo{Source: s.trip.Pickup, Destination: s.trip.Drop}, nil
}

type stubLifecycle struct {
	err  error
	last string
}

func (s *stubLifecycle) Start(context.Context, trip.StartCommand) error {
	s.last = "start"
	return s.err
}
func (s *stubLifecycle) Arrive(context.Context, trip.ArriveCommand) error {
	s.last = "arrive"
	return s.err
}
func (s *stubLifecycle) Onboard(context.Context, trip.OnboardCommand) error {
	s.last = "onboard"
	return s.err
}
func (s *stubLifecycle) NoShow(context.Context, trip.NoShowCommand) error {
	s.last = "noshow"
	return s.err
}
func (s *stubLifecycle) Complete(context.Context, trip.CompleteCommand) error {
	s.last = "complete"
	return s.err
}
func (s *stubLifecycle) Cancel(context.Context, trip.CancelCommand) error {
	s.last = "cancel"
	return s.err
}

func sampleTrip() *trip.Trip {
	return &trip.Trip{
		ID:         "t1",
		Type:       trip.TypeAirport,
		Status:     trip.StatusCreated,
		OriginCity: "DELHI",
		Pickup:     types.Point{Lat: 28.55, Lng: 77.1},
		PickupAt:   time.Now().Add(2 * time.Hour),
		Fare:       types.Money{Amount: 825, Currency: "INR"},
	}
}

func buildTripRouter(trips *stubTrips, lifecycle *stubLifecycle) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Caller())
	h := handlers.NewTripHandler(trips, lifecycle)
	r.POST("/api/trips", h.Create)
	r.GET("/api/trips/:id", h.Get)
	r.POST("/api/trips/:id/start", h.Start)
	r.POST("/api/trips/:id/arrive", h.Arrive)
	r.POST("/api/trips/:id/cancel", h.Cancel)
	return r
}

func doJSON(r *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateTrip(t *testing.T) {
	trips := &stubTrips{trip: sampleTrip()}
	r := buildTripRouter(trips, &stubLifecycle{})

	w := doJSON(r, http.MethodPost, "/api/trips", map[string]any{
		"trip_type":     "AIRPORT",
		"origin_city":   "DELHI",
		"pickup_at":     time.Now().Add(2 * time.Hour).Format(time.RFC3339),
		"distance_km":   30,
		"vehicle_class": "SEDAN",
	}, map[string]string{"X-Caller-ID": "u1"})

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if trips.created.CreatedBy != "u1" {
		t.Fatalf("created_by = %q, want u1", trips.created.CreatedBy)
	}
	var resp struct {
		Success bool           `json:"success"`
		Message string         `json:"message"`
		Data    map[string]any `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.Message != "trip created" {
		t.Fatalf("envelope = %+v", resp)
	}
	if resp.Data["trip_id"] != "t1" {
		t.Fatalf("trip_id = %v", resp.Data["trip_id"])
	}
}

func TestCreateTripInvalidJSON(t *testing.T) {
	r := buildTripRouter(&stubTrips{trip: sampleTrip()}, &stubLifecycle{})
	req := httptest.NewRequest(http.MethodPost, "/api/trips", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCreateTripDenied(t *testing.T) {
	trips := &stubTrips{err: &trip.DeniedError{Reason: "service is limited to: DELHI"}}
	r := buildTripRouter(trips, &stubLifecycle{})
	w := doJSON(r, http.MethodPost, "/api/trips", map[string]any{"trip_type": "AIRPORT"}, nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
}

func TestGetTripNotFound(t *testing.T) {
	r := buildTripRouter(&stubTrips{err: trip.ErrNotFound}, &stubLifecycle{})
	w := doJSON(r, http.MethodGet, "/api/trips/t404", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestStartRequiresDriverID(t *testing.T) {
	r := buildTripRouter(&stubTrips{trip: sampleTrip()}, &stubLifecycle{})
	w := doJSON(r, http.MethodPost, "/api/trips/t1/start", map[string]any{}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestStartTooEarly(t *testing.T) {
	lc := &stubLifecycle{err: &trip.WindowError{Op: "start", Wait: time.Hour}}
	r := buildTripRouter(&stubTrips{trip: sampleTrip()}, lc)
	w := doJSON(r, http.MethodPost, "/api/trips/t1/start", map[string]any{"driver_id": "d1"}, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	if lc.last != "start" {
		t.Fatalf("lifecycle call = %q", lc.last)
	}
}

func TestArriveOutsideGeofence(t *testing.T) {
	lc := &stubLifecycle{err: fmt.Errorf("%w: 812m from pickup, limit 500m", trip.ErrOutsideGeofence)}
	r := buildTripRouter(&stubTrips{trip: sampleTrip()}, lc)
	w := doJSON(r, http.MethodPost, "/api/trips/t1/arrive",
		map[string]any{"driver_id": "d1", "lat": 28.56, "lng": 77.11}, nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
}

func TestCancelWrongState(t *testing.T) {
	lc := &stubLifecycle{err: trip.ErrInvalidState}
	r := buildTripRouter(&stubTrips{trip: sampleTrip()}, lc)
	w := doJSON(r, http.MethodPost, "/api/trips/t1/cancel", map[string]any{"reason": "late"}, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}
