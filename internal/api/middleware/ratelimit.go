package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pjsph/slam/pkg/logger"
	"github.com/pjsph/slam/pkg/ratelimit"
)

// RateLimitConfig holds rate limit configuration
type RateLimitConfig struct {
	Limiter ratelimit.Limiter
	// Capacity is only reported in the X-RateLimit-Limit header.
	Capacity int64
	KeyFunc  func(*gin.Context) string
}

// IPKeyFunc keys requests by client address.
func IPKeyFunc(c *gin.Context) string {
	return fmt.Sprintf("http:%s", c.ClientIP())
}

// RateLimit rejects requests once the key's bucket is empty. Limiter errors
// let the request through.
func RateLimit(config RateLimitConfig) gin.HandlerFunc {
	if config.KeyFunc == nil {
		config.KeyFunc = IPKeyFunc
	}

	return func(c *gin.Context) {
		if config.Limiter == nil {
			c.Next()
			return
		}

		key := config.KeyFunc(c)
		allowed, err := config.Limiter.Allow(c.Request.Context(), key)
		if err != nil {
			logger.Warn("Rate limiter unavailable", "key", key, "error", err)
			c.Next()
			return
		}

		if config.Capacity > 0 {
			c.Header("X-RateLimit-Limit", strconv.FormatInt(config.Capacity, 10))
		}

		if !allowed {
			c.Header("Retry-After", "1")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
