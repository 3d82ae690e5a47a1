package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const readyCheckTimeout = 2 * time.Second

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

func HealthHandler(startTime time.Time, version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{
			Status:  "healthy",
			Version: version,
			Uptime:  time.Since(startTime).Truncate(time.Second).String(),
		})
	}
}

// DocumentState reports whether the merged documentation has been built.
type DocumentState interface {
	Ready() bool
}

// Pinger is an optional backing store checked by readiness.
type Pinger interface {
	Healthy(ctx context.Context) bool
}

type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ReadyHandler answers 503 until the documentation is built and, when a
// redis pinger is given, Redis answers.
func ReadyHandler(docs DocumentState, redis Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := map[string]string{"docs": "ok"}
		ready := true

		if !docs.Ready() {
			checks["docs"] = "building"
			ready = false
		}

		if redis != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), readyCheckTimeout)
			defer cancel()
			checks["redis"] = "ok"
			if !redis.Healthy(ctx) {
				checks["redis"] = "unreachable"
				ready = false
			}
		}

		if !ready {
			c.JSON(http.StatusServiceUnavailable, ReadyResponse{Status: "not_ready", Checks: checks})
			return
		}
		c.JSON(http.StatusOK, ReadyResponse{Status: "ready", Checks: checks})
	}
}
