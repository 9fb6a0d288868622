// Package router wires the HTTP routes onto their handlers.
package router

import (
	"github.com/NomadCrew/presence-service/config"
	"github.com/NomadCrew/presence-service/handlers"
	"github.com/NomadCrew/presence-service/internal/websocket"
	"github.com/NomadCrew/presence-service/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies holds everything required to set up the routes.
type Dependencies struct {
	Config          *config.Config
	HealthHandler   *handlers.HealthHandler
	LocationHandler *handlers.LocationHandler
	WSHandler       *websocket.Handler
}

// SetupRouter configures and returns the gin engine with all routes defined.
func SetupRouter(deps Dependencies) *gin.Engine {
	if deps.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(&deps.Config.Server))

	// Probes and metrics are unauthenticated.
	r.GET("/health/liveness", deps.HealthHandler.LivenessCheck)
	r.GET("/health/readiness", deps.HealthHandler.ReadinessCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(deps.Config.ExternalServices.SupabaseJWTSecret))
	{
		v1.PUT("/location", deps.LocationHandler.UpdateLocationHandler)
		v1.DELETE("/location", deps.LocationHandler.StopSharingHandler)

		trips := v1.Group("/trips/:id")
		{
			trips.GET("/locations", deps.LocationHandler.GetTripMemberLocationsHandler)
			trips.GET("/presence/ws", deps.WSHandler.HandleWebSocket)
		}
	}

	return r
}
