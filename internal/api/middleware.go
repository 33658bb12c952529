package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ntpeters/pyvidia/internal/logger"
	"github.com/ntpeters/pyvidia/internal/types"
)

// RequestID middleware adds a unique request ID to each request
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.New().String()
		c.Set("requestId", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// ErrorHandler middleware handles errors that occur during request processing
func ErrorHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			err := c.Errors.Last()
			log.Errorf("Request error: %s", err.Error())

			switch e := err.Err.(type) {
			case *types.ErrorInfo:
				requestID := c.GetString("requestId")
				if requestID == "" {
					requestID = "unknown"
				}
				c.JSON(e.Code.HTTPStatusCode(), types.NewErrorResponse(
					e.Code,
					e.Message,
					requestID,
				))
			default:
				ErrorWithDetails(c, types.ErrInternalError, "Internal server error", err.Error())
			}
		}
	}
}

// RecoveryMiddleware handles panics and converts them to errors
func RecoveryMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("Panic recovered: %v", r)
				ErrorWithDetails(c, types.ErrInternalError, "Internal server error", "A panic occurred")
				c.Abort()
			}
		}()
		c.Next()
	}
}

// CORSMiddleware adds CORS headers for cross-origin requests
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		allowOrigin := ""

		allowed := false
		for _, allowedOrigin := range allowedOrigins {
			if allowedOrigin == "*" {
				allowed = true
				allowOrigin = "*"
				break
			}
			if allowedOrigin == origin {
				allowed = true
				allowOrigin = origin
				break
			}
		}

		if allowed {
			c.Header("Access-Control-Allow-Origin", allowOrigin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID")
			c.Header("Access-Control-Expose-Headers", "X-Request-ID")
			c.Header("Access-Control-Max-Age", "86400")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// LoggerMiddleware logs request information
func LoggerMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		log.Infof("API Request: method=%s path=%s status=%d latency=%v",
			c.Request.Method,
			path,
			statusCode,
			latency,
		)

		// Add latency to response metadata if present
		if meta, exists := c.Get("responseMeta"); exists {
			if respMeta, ok := meta.(*types.ResponseMeta); ok {
				respMeta.Latency = latency.Milliseconds()
			}
		}
	}
}
