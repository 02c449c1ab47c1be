package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"budgettracker/internal/logger"
)

// RequestIDKey holds the request id in the gin context.
const RequestIDKey = "requestID"

const requestIDHeader = "X-Request-ID"

// RequestLogging tags every request with an id (reusing a well-formed
// X-Request-ID from the caller) and logs it once it completes. Event streams
// are logged with their lifetime instead of a latency.
func RequestLogging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(requestIDHeader)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.Must(uuid.NewV7()).String()
		}
		c.Set(RequestIDKey, requestID)
		c.Writer.Header().Set(requestIDHeader, requestID)

		c.Next()

		fields := []any{
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"client_ip", c.ClientIP(),
		}
		if userID := c.GetString(UserIDKey); userID != "" {
			fields = append(fields, "user_id", userID)
		}

		log := logger.Get()
		if strings.HasPrefix(c.Writer.Header().Get("Content-Type"), "text/event-stream") {
			log.Infow("stream closed", append(fields, "duration", time.Since(start).Round(time.Millisecond).String())...)
			return
		}
		log.Infow("request", append(fields, "latency_ms", time.Since(start).Milliseconds())...)
	}
}
