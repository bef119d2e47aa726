package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/recoverydesk/case-service/internal/ingest"
	"github.com/recoverydesk/case-service/internal/types"
)

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	var intake *types.IntakeError
	switch {
	case errors.As(err, &intake):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ingest.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{
		"error": err.Error(),
	})
}
