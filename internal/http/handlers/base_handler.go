// Package handlers maps the HTTP surface onto the dispatch services.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/modules/assignment"
	"dispatch/internal/modules/driver"
	"dispatch/internal/modules/provider"
	"dispatch/internal/modules/trip"
)

type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeSuccess(c *gin.Context, status int, message string, data any) {
	c.JSON(status, apiResponse{Success: true, Message: message, Data: data})
}

func writeError(c *gin.Context, status int, msg string) {
	c.JSON(status, apiResponse{Success: false, Message: msg})
}

// writeTripError maps service errors onto HTTP statuses. Anything unmapped is
// an internal error and must not leak its message.
func writeTripError(c *gin.Context, err error) {
	var denied *trip.DeniedError
	var window *trip.WindowError

	switch {
	case errors.Is(err, trip.ErrNotFound),
		errors.Is(err, driver.ErrNotFound),
		errors.Is(err, provider.ErrMappingNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, trip.ErrBadRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.As(err, &denied),
		errors.Is(err, trip.ErrOutsideGeofence),
		errors.Is(err, assignment.ErrDriverNotActive):
		writeError(c, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &window),
		errors.Is(err, trip.ErrInvalidState),
		errors.Is(err, trip.ErrConflict),
		errors.Is(err, assignment.ErrTripAlreadyAssigned),
		errors.Is(err, assignment.ErrDriverBusy),
		errors.Is(err, assignment.ErrTripClosed),
		errors.Is(err, assignment.ErrNotAssigned):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, trip.ErrNotAssignedDriver):
		writeError(c, http.StatusForbidden, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
