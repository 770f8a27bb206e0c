package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dispatch/internal/modules/assignment"
	"dispatch/internal/modules/trip"
	"dispatch/internal/types"
)

// AssignmentService is the ops-facing assignment surface.
type AssignmentService interface {
	Assign(ctx context.Context, tripID, driverID types.ID) (*assignment.Assignment, error)
	Unassign(ctx context.Context, tripID types.ID) error
	Reassign(ctx context.Context, tripID, newDriverID types.ID) (*assignment.Assignment, error)
	Get(ctx context.Context, tripID types.ID) (*assignment.Assignment, error)
}

type AdminHandler struct {
	trips       TripService
	assignments AssignmentService
}

func NewAdminHandler(trips TripService, assignments AssignmentService) *AdminHandler {
	return &AdminHandler{trips: trips, assignments: assignments}
}

func (h *AdminHandler) ListTrips(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	items, total, err := h.trips.List(c.Request.Context(), trip.ListQuery{
		Status: c.Query("status"),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		writeTripError(c, err)
		return
	}
	out := make([]gin.H, len(items))
	for i, it := range items {
		body := tripBody(&it.Trip)
		if it.DriverID != nil {
			body["driver_id"] = *it.DriverID
		}
		if it.AssignmentStatus != nil {
			body["assignment_status"] = *it.AssignmentStatus
		}
		if it.ExternalBookingID != nil {
			body["external_booking_id"] = *it.ExternalBookingID
		}
		if it.PartnerStatus != nil {
			body["partner_status"] = *it.PartnerStatus
		}
		out[i] = body
	}
	writeSuccess(c, http.StatusOK, "trips listed", gin.H{"trips": out, "total": total})
}

type assignReq struct {
	DriverID string `json:"driver_id"`
}

func (h *AdminHandler) Assign(c *gin.Context) {
	var req assignReq
	if err := c.ShouldBindJSON(&req); err != nil || req.DriverID == "" {
		writeError(c, http.StatusBadRequest, "driver_id is required")
		return
	}
	a, err := h.assignments.Assign(c.Request.Context(), types.ID(c.Param("id")), types.ID(req.DriverID))
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeSuccess(c, http.StatusOK, "driver assigned", assignmentBody(a))
}

func (h *AdminHandler) Unassign(c *gin.Context) {
	if err := h.assignments.Unassign(c.Request.Context(), types.ID(c.Param("id"))); err != nil {
		writeTripError(c, err)
		return
	}
	writeSuccess(c, http.StatusOK, "driver unassigned", gin.H{"trip_id": c.Param("id"), "status": trip.StatusCreated})
}

func (h *AdminHandler) Reassign(c *gin.Context) {
	var req assignReq
	if err := c.ShouldBindJSON(&req); err != nil || req.DriverID == "" {
		writeError(c, http.StatusBadRequest, "driver_id is required")
		return
	}
	a, err := h.assignments.Reassign(c.Request.Context(), types.ID(c.Param("id")), types.ID(req.DriverID))
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeSuccess(c, http.StatusOK, "driver reassigned", assignmentBody(a))
}

func (h *AdminHandler) GetAssignment(c *gin.Context) {
	a, err := h.assignments.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeSuccess(c, http.StatusOK, "assignment fetched", assignmentBody(a))
}

func assignmentBody(a *assignment.Assignment) gin.H {
	body := gin.H{
		"assignment_id":     a.ID,
		"trip_id":           a.TripID,
		"driver_id":         a.DriverID,
		"status":            a.Status,
		"booking_attempted": a.BookingAttempted,
		"assigned_at":       a.AssignedAt,
	}
	if a.BookingFailure != nil {
		body["booking_failure"] = *a.BookingFailure
	}
	if a.UnassignedAt != nil {
		body["unassigned_at"] = *a.UnassignedAt
	}
	return body
}
