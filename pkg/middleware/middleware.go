package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"habitat/internal/logger"
	"habitat/pkg/errors"
	"habitat/pkg/logging"
)

const (
	HeaderRequestID = "X-Request-ID"
	ContextKey      = "request_id"
)

// quietPaths are polled by health checks and scrapers and only logged at debug.
var quietPaths = []string{"/health", "/metrics", "/swagger/"}

// RequestID tags every request with the caller's X-Request-ID or a fresh
// uuid, and carries it in the request context so handler logs include it.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(ContextKey, requestID)
		c.Header(HeaderRequestID, requestID)
		c.Request = c.Request.WithContext(logging.WithRequestID(c.Request.Context(), requestID))
		c.Next()
	}
}

func AccessLog(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []interface{}{
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"path", path,
		}
		if errMsg := c.Errors.ByType(gin.ErrorTypePrivate).String(); errMsg != "" {
			fields = append(fields, "error", errMsg)
		}

		ctx := c.Request.Context()
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			log.ErrorwCtx(ctx, "HTTP request", fields...)
		case isQuiet(path):
			log.DebugwCtx(ctx, "HTTP request", fields...)
		default:
			log.InfowCtx(ctx, "HTTP request", fields...)
		}
	}
}

func isQuiet(path string) bool {
	for _, p := range quietPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Recovery answers a panicking handler with the usual error body. The stack
// goes to the log, never to the client.
func Recovery(log logger.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		err := errors.RecoverPanic(recovered)
		log.ErrorwCtx(c.Request.Context(), "Panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
			"stack_trace", errors.StackTrace(err),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errors.ToErrorResponse(err))
	})
}
