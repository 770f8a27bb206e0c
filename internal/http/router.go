// Package http registers the gin router over the dispatch services: the
// caller-facing trip API, the ops assignment API and inbound partner
// webhooks.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/config"
	"dispatch/internal/http/handlers"
	"dispatch/internal/http/middleware"
)

type RouterDeps struct {
	Trips       handlers.TripService
	Lifecycle   handlers.TripLifecycle
	Assignments handlers.AssignmentService
	Applier     handlers.StatusApplier
	Mappings    handlers.MappingLookup
	TripStore   handlers.TripStore
	Provider    config.ProviderConfig
	Env         string
}

func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logging(), middleware.Recovery(), middleware.Caller())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	th := handlers.NewTripHandler(deps.Trips, deps.Lifecycle)
	api := r.Group("/api")
	api.POST("/trips", th.Create)
	api.GET("/trips/:id", th.Get)
	api.GET("/trips/:id/tracking", th.Tracking)
	api.POST("/trips/:id/start", th.Start)
	api.POST("/trips/:id/arrive", th.Arrive)
	api.POST("/trips/:id/onboard", th.Onboard)
	api.POST("/trips/:id/noshow", th.NoShow)
	api.POST("/trips/:id/complete", th.Complete)
	api.POST("/trips/:id/cancel", th.Cancel)

	ah := handlers.NewAdminHandler(deps.Trips, deps.Assignments)
	admin := r.Group("/admin")
	admin.GET("/trips", ah.ListTrips)
	admin.GET("/trips/:id/assignment", ah.GetAssignment)
	admin.POST("/trips/:id/assign", ah.Assign)
	admin.POST("/trips/:id/unassign", ah.Unassign)
	admin.POST("/trips/:id/reassign", ah.Reassign)

	ph := handlers.NewPartnerHandler(deps.Applier, deps.Mappings, deps.TripStore)
	pa := r.Group("/webhooks/partner-a")
	if u := deps.Provider.PartnerA.WebhookUser; u != "" {
		pa.Use(gin.BasicAuth(gin.Accounts{u: deps.Provider.PartnerA.WebhookPass}))
	}
	pa.POST("/status", ph.PartnerAStatus)
	pa.POST("/bookings/:ref/confirm", ph.PartnerAConfirm)
	pa.POST("/bookings/:ref/cancel", ph.PartnerACancel)
	pa.POST("/bookings/:ref/reschedule", ph.PartnerAReschedule)
	pa.GET("/bookings/:ref/status", ph.PartnerABookingStatus)

	pb := r.Group("/webhooks/partner-b")
	if u := deps.Provider.PartnerB.WebhookUser; u != "" {
		pb.Use(gin.BasicAuth(gin.Accounts{u: deps.Provider.PartnerB.WebhookPass}))
	}
	pb.POST("/status", ph.PartnerBStatus)
	pb.POST("/block", ph.PartnerBBlock)
	pb.POST("/confirm", ph.PartnerBConfirm)
	pb.POST("/release", ph.PartnerBRelease)
	pb.POST("/reschedule", ph.PartnerBReschedule)
	pb.GET("/trip/:ref/state", ph.PartnerBTripState)

	return r
}
