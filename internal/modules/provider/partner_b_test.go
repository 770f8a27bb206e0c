package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dispatch/internal/config"
)

func newPartnerBFixture(t *testing.T, handler http.Handler) *PartnerB {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewPartnerB(
		config.PartnerConfig{BaseURL: srv.URL, APIKey: "pbkey"},
		config.ProviderConfig{HTTPTimeout: 5 * time.Second},
	)
}

func TestPartnerBPrebookBlocks(t *testing.T) {
	adapter := newPartnerBFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/block" {
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("X-Api-Key") != "pbkey" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["clientRef"] != "trip-9" {
			t.Errorf("clientRef = %v", body["clientRef"])
		}
		json.NewEncoder(w).Encode(map[string]string{"blockRef": "BLK-42", "state": "blocked"})
	}))

	booking, err := adapter.Prebook(context.Background(), PrebookInput{
		TripID:     "trip-9",
		TripType:   "RENTAL",
		OriginCity: "GURGAON",
		PickupAt:   time.Now().Add(30 * time.Hour),
	})
	if err != nil {
		t.Fatalf("prebook: %v", err)
	}
	if booking.ExternalID != "BLK-42" || booking.Provider != TypePartnerB {
		t.Fatalf("unexpected booking %+v", booking)
	}
}

func TestPartnerBStateAndRelease(t *testing.T) {
	released := false
	adapter := newPartnerBFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v2/trip/BLK-42/state":
			json.NewEncoder(w).Encode(map[string]string{"blockRef": "BLK-42", "state": "driver_on_way"})
		case "/api/v2/release":
			released = true
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	state, err := adapter.GetRideStatus(context.Background(), "BLK-42")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state != "driver_on_way" {
		t.Fatalf("state = %q", state)
	}

	if err := adapter.CancelBooking(context.Background(), "BLK-42"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if !released {
		t.Fatal("release endpoint not hit")
	}
}

func TestPartnerBErrorMapping(t *testing.T) {
	adapter := newPartnerBFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{
			"status":       "FAILED",
			"errorCode":    "CAB_UNAVAILABLE",
			"errorMessage": "no cab for class",
		})
	}))

	_, err := adapter.Prebook(context.Background(), PrebookInput{TripID: "trip-10"})
	if !errors.Is(err, ErrBookingFailed) {
		t.Fatalf("expected ErrBookingFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "CAB_UNAVAILABLE") {
		t.Fatalf("error should carry partner code, got %v", err)
	}
}

func TestPartnerBBadKey(t *testing.T) {
	adapter := newPartnerBFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := adapter.GetRideStatus(context.Background(), "BLK-1")
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}
