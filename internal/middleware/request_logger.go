package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/botgrid/hosting/pkg/logger"
)

// RequestLogger logs each request with latency and status
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := map[string]interface{}{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"ip":      c.ClientIP(),
		}
		if c.Writer.Status() >= 500 {
			logger.Error("request failed", nil, fields)
		} else {
			logger.Debug("request", fields)
		}
	}
}
