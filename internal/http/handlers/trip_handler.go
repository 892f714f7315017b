package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"hail/internal/modules/order"
	"hail/internal/modules/trip"
	"hail/internal/types"
)

type TripHandler struct {
	trips *trip.Service
}

func NewTripHandler(svc *trip.Service) *TripHandler {
	return &TripHandler{trips: svc}
}

type createTripReq struct {
	RiderID       string       `json:"rider_id"`
	Pickup        *types.Point `json:"pickup"`
	PickupLabel   string       `json:"pickup_label"`
	Dropoff       *types.Point `json:"dropoff"`
	DropoffLabel  string       `json:"dropoff_label"`
	VehicleClass  string       `json:"vehicle_class"`
	EstimatedFare types.Money  `json:"estimated_fare"`
	ScheduledAt   *time.Time   `json:"scheduled_at"`

	// Dispatch tunables; zero means platform default.
	OfferWindowSeconds  int `json:"offer_window_seconds"`
	MaxOffersPerAttempt int `json:"max_offers_per_attempt"`
}

type tripResponse struct {
	ID            types.ID     `json:"id"`
	RiderID       types.ID     `json:"rider_id"`
	DriverID      *types.ID    `json:"driver_id,omitempty"`
	Status        order.Status `json:"status"`
	Pickup        *types.Point `json:"pickup,omitempty"`
	PickupLabel   string       `json:"pickup_label,omitempty"`
	Dropoff       *types.Point `json:"dropoff,omitempty"`
	DropoffLabel  string       `json:"dropoff_label,omitempty"`
	VehicleClass  string       `json:"vehicle_class,omitempty"`
	EstimatedFare types.Money  `json:"estimated_fare"`
	ScheduledAt   *time.Time   `json:"scheduled_at,omitempty"`
	MatchedAt     *time.Time   `json:"matched_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

func tripView(o *order.Order) tripResponse {
	return tripResponse{
		ID:            o.ID,
		RiderID:       o.RiderID,
		DriverID:      o.DriverID,
		Status:        o.Status,
		Pickup:        o.Pickup,
		PickupLabel:   o.PickupLabel,
		Dropoff:       o.Dropoff,
		DropoffLabel:  o.DropoffLabel,
		VehicleClass:  o.VehicleClass,
		EstimatedFare: o.EstimatedFare,
		ScheduledAt:   o.ScheduledAt,
		MatchedAt:     o.MatchedAt,
		CreatedAt:     o.CreatedAt,
	}
}

func (h *TripHandler) Create(c *gin.Context) {
	var req createTripReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	o, err := h.trips.Create(c.Request.Context(), trip.CreateInput{
		RiderID:             types.ID(req.RiderID),
		Pickup:              req.Pickup,
		PickupLabel:         req.PickupLabel,
		Dropoff:             req.Dropoff,
		DropoffLabel:        req.DropoffLabel,
		VehicleClass:        req.VehicleClass,
		EstimatedFare:       req.EstimatedFare,
		ScheduledAt:         req.ScheduledAt,
		OfferWindow:         time.Duration(req.OfferWindowSeconds) * time.Second,
		MaxOffersPerAttempt: req.MaxOffersPerAttempt,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tripView(o))
}

func (h *TripHandler) Get(c *gin.Context) {
	o, err := h.trips.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	c.JSON(http.StatusOK, tripView(o))
}

func (h *TripHandler) Cancel(c *gin.Context) {
	o, err := h.trips.Cancel(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	c.JSON(http.StatusOK, tripView(o))
}

type progressReq struct {
	Status string `json:"status"`
}

// Progress moves a matched trip through arrival, pickup, transit and
// completion.
func (h *TripHandler) Progress(c *gin.Context) {
	var req progressReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	o, err := h.trips.Advance(c.Request.Context(), types.ID(c.Param("id")), order.Status(req.Status))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	c.JSON(http.StatusOK, tripView(o))
}
