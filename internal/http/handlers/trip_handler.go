package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dispatch/internal/http/middleware"
	"dispatch/internal/modules/provider"
	"dispatch/internal/modules/trip"
	"dispatch/internal/types"
)

// TripService is the slice of the trip orchestrator the HTTP layer uses.
type TripService interface {
	Create(ctx context.Context, cmd trip.CreateCommand) (*trip.Trip, error)
	Get(ctx context.Context, id types.ID) (*trip.Trip, error)
	List(ctx context.Context, q trip.ListQuery) ([]trip.ListItem, int, error)
	Tracking(ctx context.Context, id types.ID) (provider.TrackInfo, error)
}

// TripLifecycle is the driver-facing state machine surface.
type TripLifecycle interface {
	Start(ctx context.Context, cmd trip.StartCommand) error
	Arrive(ctx context.Context, cmd trip.ArriveCommand) error
	Onboard(ctx context.Context, cmd trip.OnboardCommand) error
	NoShow(ctx context.Context, cmd trip.NoShowCommand) error
	Complete(ctx context.Context, cmd trip.CompleteCommand) error
	Cancel(ctx context.Context, cmd trip.CancelCommand) error
}

type TripHandler struct {
	trips     TripService
	lifecycle TripLifecycle
}

func NewTripHandler(trips TripService, lifecycle TripLifecycle) *TripHandler {
	return &TripHandler{trips: trips, lifecycle: lifecycle}
}

type createTripReq struct {
	TripType        string    `json:"trip_type"`
	OriginCity      string    `json:"origin_city"`
	DestinationCity string    `json:"destination_city"`
	PickupLat       float64   `json:"pickup_lat"`
	PickupLng       float64   `json:"pickup_lng"`
	DropLat         float64   `json:"drop_lat"`
	DropLng         float64   `json:"drop_lng"`
	PickupAt        time.Time `json:"pickup_at"`
	Prebooked       bool      `json:"prebooked"`
	DistanceKm      float64   `json:"distance_km"`
	VehicleClass    string    `json:"vehicle_class"`
}

func (h *TripHandler) Create(c *gin.Context) {
	var req createTripReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	t, err := h.trips.Create(c.Request.Context(), trip.CreateCommand{
		CreatedBy:       middleware.CallerID(c),
		TripType:        req.TripType,
		OriginCity:      req.OriginCity,
		DestinationCity: req.DestinationCity,
		Pickup:          types.Point{Lat: req.PickupLat, Lng: req.PickupLng},
		Drop:            types.Point{Lat: req.DropLat, Lng: req.DropLng},
		PickupAt:        req.PickupAt,
		Prebooked:       req.Prebooked,
		DistanceKm:      req.DistanceKm,
		VehicleClass:    req.VehicleClass,
	})
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeSuccess(c, http.StatusCreated, "trip created", tripBody(t))
}

func (h *TripHandler) Get(c *gin.Context) {
	t, err := h.trips.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeSuccess(c, http.StatusOK, "trip fetched", tripBody(t))
}

func (h *TripHandler) Tracking(c *gin.Context) {
	info, err := h.trips.Tracking(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeSuccess(c, http.StatusOK, "tracking fetched", info)
}

type driverActionReq struct {
	DriverID string   `json:"driver_id"`
	Lat      *float64 `json:"lat"`
	Lng      *float64 `json:"lng"`
}

func (h *TripHandler) Start(c *gin.Context) {
	req, ok := bindDriverAction(c)
	if !ok {
		return
	}
	err := h.lifecycle.Start(c.Request.Context(), trip.StartCommand{
		TripID:   types.ID(c.Param("id")),
		DriverID: types.ID(req.DriverID),
	})
	h.writeLifecycleResult(c, "trip started", err)
}

func (h *TripHandler) Arrive(c *gin.Context) {
	req, ok := bindDriverAction(c)
	if !ok {
		return
	}
	var loc *types.Point
	if req.Lat != nil && req.Lng != nil {
		loc = &types.Point{Lat: *req.Lat, Lng: *req.Lng}
	}
	err := h.lifecycle.Arrive(c.Request.Context(), trip.ArriveCommand{
		TripID:   types.ID(c.Param("id")),
		DriverID: types.ID(req.DriverID),
		Location: loc,
	})
	h.writeLifecycleResult(c, "arrival recorded", err)
}

func (h *TripHandler) Onboard(c *gin.Context) {
	req, ok := bindDriverAction(c)
	if !ok {
		return
	}
	err := h.lifecycle.Onboard(c.Request.Context(), trip.OnboardCommand{
		TripID:   types.ID(c.Param("id")),
		DriverID: types.ID(req.DriverID),
	})
	h.writeLifecycleResult(c, "passenger onboarded", err)
}

func (h *TripHandler) NoShow(c *gin.Context) {
	req, ok := bindDriverAction(c)
	if !ok {
		return
	}
	err := h.lifecycle.NoShow(c.Request.Context(), trip.NoShowCommand{
		TripID:   types.ID(c.Param("id")),
		DriverID: types.ID(req.DriverID),
	})
	h.writeLifecycleResult(c, "no-show recorded", err)
}

func (h *TripHandler) Complete(c *gin.Context) {
	req, ok := bindDriverAction(c)
	if !ok {
		return
	}
	err := h.lifecycle.Complete(c.Request.Context(), trip.CompleteCommand{
		TripID:   types.ID(c.Param("id")),
		DriverID: types.ID(req.DriverID),
	})
	h.writeLifecycleResult(c, "trip completed", err)
}

type cancelTripReq struct {
	Reason string `json:"reason"`
}

func (h *TripHandler) Cancel(c *gin.Context) {
	var req cancelTripReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	actorType := middleware.CallerRole(c)
	if actorType == "" {
		actorType = "caller"
	}
	err := h.lifecycle.Cancel(c.Request.Context(), trip.CancelCommand{
		TripID:    types.ID(c.Param("id")),
		ActorType: actorType,
		ActorID:   middleware.CallerID(c),
		Reason:    req.Reason,
	})
	h.writeLifecycleResult(c, "trip cancelled", err)
}

func bindDriverAction(c *gin.Context) (driverActionReq, bool) {
	var req driverActionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return req, false
	}
	if req.DriverID == "" {
		writeError(c, http.StatusBadRequest, "driver_id is required")
		return req, false
	}
	return req, true
}

func (h *TripHandler) writeLifecycleResult(c *gin.Context, message string, err error) {
	if err != nil {
		writeTripError(c, err)
		return
	}
	t, err := h.trips.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeSuccess(c, http.StatusOK, message, tripBody(t))
}

func tripBody(t *trip.Trip) gin.H {
	body := gin.H{
		"trip_id":          t.ID,
		"trip_type":        t.Type,
		"status":           t.Status,
		"origin_city":      t.OriginCity,
		"destination_city": t.DestinationCity,
		"pickup":           t.Pickup,
		"drop":             t.Drop,
		"pickup_at":        t.PickupAt,
		"prebooked":        t.Prebooked,
		"distance_km":      t.DistanceKm,
		"billable_km":      t.BillableKm,
		"vehicle_class":    t.VehicleClass,
		"fare":             t.Fare,
		"created_at":       t.CreatedAt,
	}
	if len(t.FareBreakdown) > 0 {
		body["fare_breakdown"] = json.RawMessage(t.FareBreakdown)
	}
	if t.Provider != nil {
		body["provider"] = *t.Provider
	}
	if t.CancelReason != nil {
		body["cancel_reason"] = *t.CancelReason
	}
	for key, ts := range map[string]*time.Time{
		"started_at":   t.StartedAt,
		"arrived_at":   t.ArrivedAt,
		"onboarded_at": t.OnboardedAt,
		"completed_at": t.CompletedAt,
		"cancelled_at": t.CancelledAt,
		"no_show_at":   t.NoShowAt,
	} {
		if ts != nil {
			body[key] = *ts
		}
	}
	return body
}
