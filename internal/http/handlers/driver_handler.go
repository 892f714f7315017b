package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"hail/internal/ingest"
	"hail/internal/modules/driver"
	"hail/internal/modules/fleet"
	"hail/internal/modules/location"
	"hail/internal/types"
)

type DriverHandler struct {
	drivers   *fleet.Service
	locations *ingest.Service
}

func NewDriverHandler(drivers *fleet.Service, locations *ingest.Service) *DriverHandler {
	return &DriverHandler{drivers: drivers, locations: locations}
}

type createDriverReq struct {
	VehicleClass string `json:"vehicle_class"`
}

type driverResponse struct {
	ID           types.ID            `json:"id"`
	Status       driver.Status       `json:"status"`
	OnlineStatus driver.OnlineStatus `json:"online_status"`
	VehicleClass string              `json:"vehicle_class,omitempty"`
}

func driverView(d *driver.Driver) driverResponse {
	return driverResponse{
		ID:           d.ID,
		Status:       d.Status,
		OnlineStatus: d.OnlineStatus,
		VehicleClass: d.VehicleClass,
	}
}

func (h *DriverHandler) Create(c *gin.Context) {
	var req createDriverReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	d, err := h.drivers.Create(c.Request.Context(), fleet.CreateInput{VehicleClass: req.VehicleClass})
	if err != nil {
		writeDriverError(c, err)
		return
	}
	c.JSON(http.StatusCreated, driverView(d))
}

func (h *DriverHandler) Get(c *gin.Context) {
	d, err := h.drivers.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeDriverError(c, err)
		return
	}
	c.JSON(http.StatusOK, driverView(d))
}

type setStatusReq struct {
	OnlineStatus string `json:"online_status"`
}

func (h *DriverHandler) SetStatus(c *gin.Context) {
	var req setStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	d, err := h.drivers.SetOnlineStatus(c.Request.Context(), types.ID(c.Param("id")), driver.OnlineStatus(req.OnlineStatus))
	if err != nil {
		writeDriverError(c, err)
		return
	}
	c.JSON(http.StatusOK, driverView(d))
}

type locationReq struct {
	Lat        float64    `json:"lat"`
	Lng        float64    `json:"lng"`
	HeadingDeg *float64   `json:"heading_deg"`
	SpeedMps   *float64   `json:"speed_mps"`
	RecordedAt *time.Time `json:"recorded_at"`
}

func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	sample := location.Sample{
		DriverID:   types.ID(c.Param("id")),
		Position:   types.Point{Lat: req.Lat, Lng: req.Lng},
		HeadingDeg: req.HeadingDeg,
		SpeedMps:   req.SpeedMps,
	}
	if req.RecordedAt != nil {
		sample.RecordedAt = *req.RecordedAt
	}
	if err := h.locations.Report(c.Request.Context(), sample); err != nil {
		writeDriverError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}
