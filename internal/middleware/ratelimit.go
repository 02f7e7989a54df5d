package middleware

import (
	"spotalert_backend/internal/common"
	"spotalert_backend/internal/config"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// IngestRateLimiter throttles the location and geofence callback endpoints.
// The service pairs with a single device, so one shared bucket is used.
func IngestRateLimiter(cfg *config.Config, logger *zap.Logger) gin.HandlerFunc {
	if cfg.IngestRatePerSecond <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	burst := cfg.IngestBurst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.IngestRatePerSecond), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			logger.Warn("Ingest rate limit exceeded", zap.String("path", c.Request.URL.Path), zap.String("ip", c.ClientIP()))
			c.Header("Retry-After", "1")
			common.RespondWithError(c, common.ErrTooManyRequests)
			return
		}
		c.Next()
	}
}
