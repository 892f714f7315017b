package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hail/internal/modules/dispatch"
	"hail/internal/types"
)

type OfferHandler struct {
	engine *dispatch.Engine
}

func NewOfferHandler(engine *dispatch.Engine) *OfferHandler {
	return &OfferHandler{engine: engine}
}

func (h *OfferHandler) List(c *gin.Context) {
	offers, err := h.engine.ListOffers(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeOfferError(c, err)
		return
	}
	if offers == nil {
		offers = []dispatch.Offer{}
	}
	c.JSON(http.StatusOK, gin.H{"offers": offers})
}

type decisionReq struct {
	DriverID string `json:"driver_id"`
}

func (h *OfferHandler) Accept(c *gin.Context) {
	var req decisionReq
	if err := c.ShouldBindJSON(&req); err != nil || req.DriverID == "" {
		writeError(c, http.StatusBadRequest, "missing driver_id")
		return
	}
	o, err := h.engine.Accept(c.Request.Context(), types.ID(req.DriverID), types.ID(c.Param("id")))
	if err != nil {
		writeOfferError(c, err)
		return
	}
	c.JSON(http.StatusOK, tripView(o))
}

func (h *OfferHandler) Reject(c *gin.Context) {
	var req decisionReq
	if err := c.ShouldBindJSON(&req); err != nil || req.DriverID == "" {
		writeError(c, http.StatusBadRequest, "missing driver_id")
		return
	}
	if err := h.engine.Reject(c.Request.Context(), types.ID(req.DriverID), types.ID(c.Param("id"))); err != nil {
		writeOfferError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
