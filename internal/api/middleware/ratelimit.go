package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/themobileprof/chatmanager/internal/ratelimit"
)

// PerIP creates middleware that rate limits by client IP
func PerIP(requestsPerSecond float64, burst int) gin.HandlerFunc {
	return PerIPWith(ratelimit.New(rate.Limit(requestsPerSecond), burst, 5*time.Minute))
}

// PerIPWith rate limits by client IP using an existing keyed limiter
func PerIPWith(limiter *ratelimit.Keyed) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded. Please try again later.",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
