package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status   string `json:"status"`
	Store    string `json:"store"`
	Registry string `json:"registry"`
}

// Pinger reports whether a backing service is reachable
type Pinger func(ctx context.Context) error

// HealthCheck returns a handler that reports the store and registry state.
// A nil pinger means the component is in-process.
func HealthCheck(store, registry Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		response := HealthResponse{
			Status:   "ok",
			Store:    probe(c.Request.Context(), store),
			Registry: probe(c.Request.Context(), registry),
		}

		if response.Store == "disconnected" || response.Registry == "disconnected" {
			response.Status = "degraded"
			c.JSON(http.StatusServiceUnavailable, response)
			return
		}
		c.JSON(http.StatusOK, response)
	}
}

func probe(ctx context.Context, ping Pinger) string {
	if ping == nil {
		return "in-process"
	}
	if err := ping(ctx); err != nil {
		return "disconnected"
	}
	return "connected"
}
