package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dispatch/internal/modules/provider"
	"dispatch/internal/modules/statussync"
	"dispatch/internal/modules/trip"
	"dispatch/internal/types"
)

// StatusApplier folds a partner status report into local trip state.
type StatusApplier interface {
	Apply(ctx context.Context, tripID types.ID, prov provider.Type, partnerStatus string, payload []byte) error
}

// MappingLookup resolves a partner booking reference to the local trip.
type MappingLookup interface {
	GetByExternalID(ctx context.Context, p provider.Type, externalID string) (*provider.Mapping, error)
}

// TripStore is the slice of the trip store partner-inbound operations need.
type TripStore interface {
	Get(ctx context.Context, id types.ID) (*trip.Trip, error)
	Reschedule(ctx context.Context, id types.ID, pickupAt time.Time) error
}

// PartnerHandler serves the partner-inbound API: status callbacks,
// block/confirm/cancel/reschedule operations and booking-status queries.
// Requests and responses speak each partner's own vocabulary and error
// envelope so their integrations stay unchanged.
type PartnerHandler struct {
	applier  StatusApplier
	mappings MappingLookup
	trips    TripStore
}

func NewPartnerHandler(applier StatusApplier, mappings MappingLookup, trips TripStore) *PartnerHandler {
	return &PartnerHandler{applier: applier, mappings: mappings, trips: trips}
}

// ---- Partner A: REST-ish bookings, snake_case, {"error":{code,message}} ----

func (h *PartnerHandler) PartnerAStatus(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		partnerAErrorResp(c, http.StatusBadRequest, "BAD_REQUEST", "unreadable body")
		return
	}
	var req struct {
		BookingID string `json:"booking_id"`
		Status    string `json:"status"`
	}
	if json.Unmarshal(raw, &req) != nil || req.BookingID == "" || req.Status == "" {
		partnerAErrorResp(c, http.StatusBadRequest, "BAD_REQUEST", "booking_id and status are required")
		return
	}
	h.applyPartnerA(c, req.BookingID, req.Status, raw)
}

func (h *PartnerHandler) PartnerAConfirm(c *gin.Context) {
	h.applyPartnerA(c, c.Param("ref"), "CONFIRMED", nil)
}

func (h *PartnerHandler) PartnerACancel(c *gin.Context) {
	h.applyPartnerA(c, c.Param("ref"), "CANCELLED", nil)
}

func (h *PartnerHandler) PartnerAReschedule(c *gin.Context) {
	var req struct {
		PickupAt time.Time `json:"pickup_at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.PickupAt.IsZero() {
		partnerAErrorResp(c, http.StatusBadRequest, "BAD_REQUEST", "pickup_at is required")
		return
	}
	m, ok := h.lookupPartnerA(c, c.Param("ref"))
	if !ok {
		return
	}
	if err := h.trips.Reschedule(c.Request.Context(), m.TripID, req.PickupAt); err != nil {
		if errors.Is(err, trip.ErrInvalidState) {
			partnerAErrorResp(c, http.StatusConflict, "NOT_RESCHEDULABLE", "trip can no longer be rescheduled")
			return
		}
		partnerAErrorResp(c, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking_id": c.Param("ref"), "pickup_at": req.PickupAt, "status": "RESCHEDULED"})
}

func (h *PartnerHandler) PartnerABookingStatus(c *gin.Context) {
	m, ok := h.lookupPartnerA(c, c.Param("ref"))
	if !ok {
		return
	}
	t, err := h.trips.Get(c.Request.Context(), m.TripID)
	if err != nil {
		partnerAErrorResp(c, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	status, ok := statussync.ToPartner(provider.TypePartnerA, t.Status)
	if !ok {
		status = string(t.Status)
	}
	c.JSON(http.StatusOK, gin.H{"booking_id": c.Param("ref"), "status": status})
}

func (h *PartnerHandler) applyPartnerA(c *gin.Context, ref, status string, payload []byte) {
	if _, ok := statussync.Translate(provider.TypePartnerA, status); !ok {
		partnerAErrorResp(c, http.StatusUnprocessableEntity, "UNKNOWN_STATUS", "unrecognized status "+status)
		return
	}
	m, ok := h.lookupPartnerA(c, ref)
	if !ok {
		return
	}
	if err := h.applier.Apply(c.Request.Context(), m.TripID, provider.TypePartnerA, status, payload); err != nil {
		log.Printf("[partner] partner A booking=%s: %v", ref, err)
		partnerAErrorResp(c, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking_id": ref, "status": "ACCEPTED"})
}

func (h *PartnerHandler) lookupPartnerA(c *gin.Context, ref string) (*provider.Mapping, bool) {
	if ref == "" {
		partnerAErrorResp(c, http.StatusBadRequest, "BAD_REQUEST", "booking reference is required")
		return nil, false
	}
	m, err := h.mappings.GetByExternalID(c.Request.Context(), provider.TypePartnerA, ref)
	if errors.Is(err, provider.ErrMappingNotFound) {
		partnerAErrorResp(c, http.StatusNotFound, "UNKNOWN_BOOKING", "no trip for booking "+ref)
		return nil, false
	}
	if err != nil {
		partnerAErrorResp(c, http.StatusInternalServerError, "INTERNAL", "internal error")
		return nil, false
	}
	return m, true
}

// ---- Partner B: block/confirm/release verbs, camelCase, flat error body ----

func (h *PartnerHandler) PartnerBStatus(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		partnerBErrorResp(c, http.StatusBadRequest, "BAD_REQUEST", "unreadable body")
		return
	}
	var req struct {
		BlockRef string `json:"blockRef"`
		State    string `json:"state"`
	}
	if json.Unmarshal(raw, &req) != nil || req.BlockRef == "" || req.State == "" {
		partnerBErrorResp(c, http.StatusBadRequest, "BAD_REQUEST", "blockRef and state are required")
		return
	}
	h.applyPartnerB(c, req.BlockRef, req.State, raw)
}

func (h *PartnerHandler) PartnerBBlock(c *gin.Context) {
	ref, ok := bindBlockRef(c)
	if !ok {
		return
	}
	h.applyPartnerB(c, ref, "BLOCKED", nil)
}

func (h *PartnerHandler) PartnerBConfirm(c *gin.Context) {
	ref, ok := bindBlockRef(c)
	if !ok {
		return
	}
	h.applyPartnerB(c, ref, "CONFIRMED", nil)
}

func (h *PartnerHandler) PartnerBRelease(c *gin.Context) {
	ref, ok := bindBlockRef(c)
	if !ok {
		return
	}
	h.applyPartnerB(c, ref, "VOID", nil)
}

func (h *PartnerHandler) PartnerBReschedule(c *gin.Context) {
	var req struct {
		BlockRef   string    `json:"blockRef"`
		PickupTime time.Time `json:"pickupTime"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.BlockRef == "" || req.PickupTime.IsZero() {
		partnerBErrorResp(c, http.StatusBadRequest, "BAD_REQUEST", "blockRef and pickupTime are required")
		return
	}
	m, ok := h.lookupPartnerB(c, req.BlockRef)
	if !ok {
		return
	}
	if err := h.trips.Reschedule(c.Request.Context(), m.TripID, req.PickupTime); err != nil {
		if errors.Is(err, trip.ErrInvalidState) {
			partnerBErrorResp(c, http.StatusConflict, "NOT_RESCHEDULABLE", "trip can no longer be rescheduled")
			return
		}
		partnerBErrorResp(c, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"blockRef": req.BlockRef, "pickupTime": req.PickupTime, "state": "rescheduled"})
}

func (h *PartnerHandler) PartnerBTripState(c *gin.Context) {
	m, ok := h.lookupPartnerB(c, c.Param("ref"))
	if !ok {
		return
	}
	t, err := h.trips.Get(c.Request.Context(), m.TripID)
	if err != nil {
		partnerBErrorResp(c, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	state, ok := statussync.ToPartner(provider.TypePartnerB, t.Status)
	if !ok {
		state = string(t.Status)
	}
	c.JSON(http.StatusOK, gin.H{"blockRef": c.Param("ref"), "state": state})
}

func (h *PartnerHandler) applyPartnerB(c *gin.Context, ref, state string, payload []byte) {
	if _, ok := statussync.Translate(provider.TypePartnerB, state); !ok {
		partnerBErrorResp(c, http.StatusUnprocessableEntity, "UNKNOWN_STATE", "unrecognized state "+state)
		return
	}
	m, ok := h.lookupPartnerB(c, ref)
	if !ok {
		return
	}
	if err := h.applier.Apply(c.Request.Context(), m.TripID, provider.TypePartnerB, state, payload); err != nil {
		log.Printf("[partner] partner B block=%s: %v", ref, err)
		partnerBErrorResp(c, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"blockRef": ref, "state": "accepted"})
}

func (h *PartnerHandler) lookupPartnerB(c *gin.Context, ref string) (*provider.Mapping, bool) {
	m, err := h.mappings.GetByExternalID(c.Request.Context(), provider.TypePartnerB, ref)
	if errors.Is(err, provider.ErrMappingNotFound) {
		partnerBErrorResp(c, http.StatusNotFound, "UNKNOWN_BLOCK", "no trip for block "+ref)
		return nil, false
	}
	if err != nil {
		partnerBErrorResp(c, http.StatusInternalServerError, "INTERNAL", "internal error")
		return nil, false
	}
	return m, true
}

func bindBlockRef(c *gin.Context) (string, bool) {
	var req struct {
		BlockRef string `json:"blockRef"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.BlockRef == "" {
		partnerBErrorResp(c, http.StatusBadRequest, "BAD_REQUEST", "blockRef is required")
		return "", false
	}
	return req.BlockRef, true
}

func partnerAErrorResp(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

func partnerBErrorResp(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"status": "error", "errorCode": code, "errorMessage": message})
}
