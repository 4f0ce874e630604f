package log

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GinLogger writes one access-log line per request.
func GinLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			get().Error("request", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			get().Warn("request", fields...)
		default:
			get().Info("request", fields...)
		}
	}
}

// GinRecovery turns a panic into a 500, logs it and hands it to onPanic
// (may be nil), e.g. to alert the admin.
func GinRecovery(onPanic func(msg string)) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				msg := fmt.Sprintf("panic in %s %s: %v", c.Request.Method, c.Request.URL.Path, r)
				get().Error("panic recovered", zap.Any("panic", r), zap.String("path", c.Request.URL.Path))
				if onPanic != nil {
					onPanic(msg)
				}
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}
