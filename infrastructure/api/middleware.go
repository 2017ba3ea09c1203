package api

import (
	"chat-relay/errors"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/ksuid"
)

const (
	RequestIDHeader = "X-Request-ID"
	loggerKey       = "logger"
)

// RequestID tags every request with a correlation id, keeping the caller's when present,
// and stores a logger carrying it on the gin context.
func RequestID(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = ksuid.New().String()
		}
		c.Header(RequestIDHeader, id)
		requestLog := log.With("request_id", id)
		c.Set(loggerKey, requestLog)

		start := time.Now()
		c.Next()
		requestLog.Debug("Request served",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) logger(c *gin.Context) *slog.Logger {
	if log, ok := c.Get(loggerKey); ok {
		return log.(*slog.Logger)
	}
	return s.log
}

// fail answers with the status matching the error category.
// Storage details never reach the client.
func (s *Server) fail(c *gin.Context, err error) {
	status := errors.HTTPStatus(err)
	if status >= 500 {
		s.logger(c).Error("Request failed", "path", c.FullPath(), "error", err)
	}
	body := gin.H{"success": false, "error": errors.PublicMessage(err)}
	var missing *errors.MissingChunksError
	if errors.As(err, &missing) {
		body["missing"] = missing.Missing
	}
	c.AbortWithStatusJSON(status, body)
}
