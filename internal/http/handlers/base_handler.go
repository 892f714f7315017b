// Package handlers holds the gin handlers for the public API.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"hail/internal/ingest"
	"hail/internal/modules/assignment"
	"hail/internal/modules/driver"
	"hail/internal/modules/order"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(c *gin.Context, status int, msg string) {
	c.JSON(status, errorResponse{Error: msg})
}

func writeOrderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, order.ErrBadRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrConflict):
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func writeDriverError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, driver.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, driver.ErrConflict):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, ingest.ErrBadSample):
		writeError(c, http.StatusBadRequest, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func writeOfferError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, assignment.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, assignment.ErrExpired), errors.Is(err, assignment.ErrConflict):
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
