package api

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/aragora/aragora/internal/apperr"
	"github.com/aragora/aragora/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDMiddleware stamps every request with a unique ID, using a UUID
// so IDs stay unique across process restarts and concurrent requests
// within the same nanosecond.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.New().String()
		c.Set("RequestID", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// LoggingMiddleware logs every request and records its latency via
// logging.LogHTTPRequest.
func LoggingMiddleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()

		logging.LogHTTPRequest(c.Request.Method, c.Request.URL.Path, status, latency, map[string]interface{}{
			"request_id": c.GetString("RequestID"),
		})
		if metrics != nil {
			metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, c.FullPath(), strconv.Itoa(status)).Observe(latency.Seconds())
		}
	}
}

// RecoveryMiddleware recovers from panics in handlers and logs the stack
// rather than ever exposing it to the client.
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logging.Error("server panic", map[string]interface{}{
					"request_id": c.GetString("RequestID"),
					"path":       c.Request.URL.Path,
					"error":      fmt.Sprintf("%v", r),
					"stack":      string(debug.Stack()),
				})
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": gin.H{
					"code":    "internal",
					"message": "an unexpected error occurred",
				}})
			}
		}()
		c.Next()
	}
}

// ErrorHandlerMiddleware projects the last handler error onto an HTTP
// status via apperr.StatusFor, keyed off the closed apperr.Kind taxonomy
// instead of a generic dev-mode stack dump.
func ErrorHandlerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		status := apperr.StatusFor(err)

		body := gin.H{
			"error": gin.H{
				"code":    "internal",
				"message": err.Error(),
			},
		}
		var ae *apperr.Error
		if e, ok := err.(*apperr.Error); ok {
			ae = e
			body["error"] = gin.H{
				"code":    ae.Code,
				"message": ae.Message,
			}
			if ae.Kind == apperr.KindRateLimited && ae.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(ae.RetryAfter))
			}
		}
		c.JSON(status, body)
	}
}

// CORSMiddleware enforces the configured origin allow-list, echoing back only
// a listed Origin. A "*" entry in the list allows every origin and emits
// Access-Control-Allow-Origin: *.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	allowAll := false
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if allowAll {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" && allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
