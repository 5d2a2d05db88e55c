package main

import (
	"dialer-service/internal/httpapi"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", h.Health)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		v1.POST("/campaigns/:id/start", h.StartCampaign)
		v1.POST("/campaigns/:id/pause", h.PauseCampaign)
		v1.POST("/campaigns/:id/stop", h.StopCampaign)
		v1.DELETE("/campaigns/:id", h.CleanupCampaign)
		v1.GET("/campaigns/:id/stats", h.CampaignStats)

		v1.POST("/calls/originate", h.Originate)
		v1.POST("/events", h.IngestEvent)
	}
}
