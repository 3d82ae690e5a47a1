package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/apascualco/foodgate/internal/infrastructure/observability"
	"github.com/apascualco/foodgate/internal/infrastructure/ratelimit"
	"github.com/gin-gonic/gin"
)

// RateLimitMiddleware limits requests per client IP. Limiter failures fail open.
func RateLimitMiddleware(limiter ratelimit.RateLimiter, limit int, metrics observability.Counter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("ratelimit:ip:%s", c.ClientIP())

		result, err := limiter.Allow(c.Request.Context(), key, limit)
		if err != nil {
			slog.Warn("rate limiter unavailable, allowing request", "error", err)
			metrics.Incr(observability.MetricRateLimitDecisions, map[string]string{"decision": "error"})
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			metrics.Incr(observability.MetricRateLimitDecisions, map[string]string{"decision": "rejected"})
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "too many requests, please try again later",
			})
			return
		}

		metrics.Incr(observability.MetricRateLimitDecisions, map[string]string{"decision": "allowed"})
		c.Next()
	}
}
