package pricing

import (
	"errors"
	"testing"
	"time"

	"dispatch/internal/config"
)

func testConfig() config.PricingConfig {
	return config.PricingConfig{
		Currency:      "INR",
		MinBillableKm: 5,
		RatePerKm:     25,
		TripTypeMultipliers: map[string]float64{
			"AIRPORT":    1.0,
			"RENTAL":     1.2,
			"INTER_CITY": 1.25,
		},
		DiscountBucket:  0.95,
		StandardBucket:  1.0,
		EVMultiplier:    1.0,
		NonEVMultiplier: 1.1,
	}
}

func TestCalculateFare(t *testing.T) {
	booked := time.Date(2026, 8, 30, 20, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		in           Input
		wantBillable int64
		wantBase     int64
		wantFinal    int64
	}{
		{
			// 30km airport trip, non-EV, pickup tomorrow 05:00 (<24h ahead):
			// 30 * 25 * 1.0 * 1.0 * 1.1 = 825
			name: "airport standard bucket non-ev",
			in: Input{
				DistanceKm:   30,
				TripType:     "AIRPORT",
				PickupAt:     time.Date(2026, 8, 31, 5, 0, 0, 0, time.UTC),
				BookedAt:     booked,
				VehicleClass: "SEDAN",
			},
			wantBillable: 30,
			wantBase:     750,
			wantFinal:    825,
		},
		{
			// below minimum billable distance: 3km -> 5km billable
			name: "minimum billable distance",
			in: Input{
				DistanceKm:   3,
				TripType:     "AIRPORT",
				PickupAt:     booked.Add(2 * time.Hour),
				BookedAt:     booked,
				VehicleClass: "EV",
			},
			wantBillable: 5,
			wantBase:     125,
			wantFinal:    125,
		},
		{
			// fractional distance is ceiled before rating
			name: "fractional distance ceiled",
			in: Input{
				DistanceKm:   12.2,
				TripType:     "AIRPORT",
				PickupAt:     booked.Add(2 * time.Hour),
				BookedAt:     booked,
				VehicleClass: "EV",
			},
			wantBillable: 13,
			wantBase:     325,
			wantFinal:    325,
		},
		{
			// >=24h ahead gets the discount bucket:
			// 40 * 25 * 1.2 * 0.95 * 1.1 = 1254
			name: "rental advance booking discount",
			in: Input{
				DistanceKm:   40,
				TripType:     "RENTAL",
				PickupAt:     booked.Add(48 * time.Hour),
				BookedAt:     booked,
				VehicleClass: "SUV",
			},
			wantBillable: 40,
			wantBase:     1000,
			wantFinal:    1254,
		},
		{
			// 200 * 25 * 1.25 * 1.0 * 1.0 = 6250
			name: "inter-city ev",
			in: Input{
				DistanceKm:   200,
				TripType:     "INTER_CITY",
				PickupAt:     booked.Add(6 * time.Hour),
				BookedAt:     booked,
				VehicleClass: "EV",
			},
			wantBillable: 200,
			wantBase:     5000,
			wantFinal:    6250,
		},
	}

	e := NewEngine(testConfig())
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q, err := e.CalculateFare(tc.in)
			if err != nil {
				t.Fatalf("CalculateFare: %v", err)
			}
			if q.Breakdown.BillableKm != tc.wantBillable {
				t.Errorf("billable km = %d, want %d", q.Breakdown.BillableKm, tc.wantBillable)
			}
			if q.BaseFare.Amount != tc.wantBase {
				t.Errorf("base fare = %d, want %d", q.BaseFare.Amount, tc.wantBase)
			}
			if q.FinalFare.Amount != tc.wantFinal {
				t.Errorf("final fare = %d, want %d", q.FinalFare.Amount, tc.wantFinal)
			}
			if q.FinalFare.Currency != "INR" {
				t.Errorf("currency = %s, want INR", q.FinalFare.Currency)
			}
		})
	}
}

func TestCalculateFareDeterministic(t *testing.T) {
	e := NewEngine(testConfig())
	in := Input{
		DistanceKm:   17.4,
		TripType:     "RENTAL",
		PickupAt:     time.Date(2026, 9, 2, 9, 0, 0, 0, time.UTC),
		BookedAt:     time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC),
		VehicleClass: "SEDAN",
	}
	first, err := e.CalculateFare(in)
	if err != nil {
		t.Fatalf("CalculateFare: %v", err)
	}
	for i := 0; i < 10; i++ {
		q, err := e.CalculateFare(in)
		if err != nil {
			t.Fatalf("CalculateFare: %v", err)
		}
		if q != first {
			t.Fatalf("fare not deterministic: %+v vs %+v", q, first)
		}
	}
}

func TestCalculateFareErrors(t *testing.T) {
	e := NewEngine(testConfig())

	if _, err := e.CalculateFare(Input{DistanceKm: 0, TripType: "AIRPORT"}); !errors.Is(err, ErrBadDistance) {
		t.Errorf("expected ErrBadDistance, got %v", err)
	}
	if _, err := e.CalculateFare(Input{DistanceKm: 10, TripType: "HOURLY"}); !errors.Is(err, ErrUnsupportedTripType) {
		t.Errorf("expected ErrUnsupportedTripType, got %v", err)
	}
}
