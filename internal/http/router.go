// Package http wires the gin router over the module services.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"hail/internal/http/handlers"
	"hail/internal/http/middleware"
	"hail/internal/ingest"
	"hail/internal/modules/dispatch"
	"hail/internal/modules/fleet"
	"hail/internal/modules/trip"
	"hail/internal/ws"
)

type RouterDeps struct {
	Trips     *trip.Service
	Drivers   *fleet.Service
	Locations *ingest.Service
	Engine    *dispatch.Engine
	Hub       *ws.Hub
	Log       zerolog.Logger
}

func NewRouter(deps RouterDeps) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery(deps.Log), middleware.Logging(deps.Log))

	trips := handlers.NewTripHandler(deps.Trips)
	r.POST("/api/trips", trips.Create)
	r.GET("/api/trips/:id", trips.Get)
	r.POST("/api/trips/:id/cancel", trips.Cancel)
	r.POST("/api/trips/:id/progress", trips.Progress)

	drivers := handlers.NewDriverHandler(deps.Drivers, deps.Locations)
	r.POST("/api/drivers", drivers.Create)
	r.GET("/api/drivers/:id", drivers.Get)
	r.PUT("/api/drivers/:id/status", drivers.SetStatus)
	r.PUT("/api/drivers/:id/location", drivers.UpdateLocation)

	offers := handlers.NewOfferHandler(deps.Engine)
	r.GET("/api/drivers/:id/offers", offers.List)
	r.POST("/api/offers/:id/accept", offers.Accept)
	r.POST("/api/offers/:id/reject", offers.Reject)

	if deps.Hub != nil {
		wsh := handlers.NewWSHandler(deps.Hub)
		r.GET("/api/drivers/:id/ws", wsh.Connect)
	}

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
