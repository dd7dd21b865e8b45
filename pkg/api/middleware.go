package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuemby/tickr/pkg/metrics"
)

// observe records request counts and latency per route and logs each
// request at debug level
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)

		metrics.APIRequestsTotal.WithLabelValues(path, strconv.Itoa(status)).Inc()
		// event streams stay open for the lifetime of the client
		if path != "/api/v1/events" {
			metrics.APIRequestDuration.WithLabelValues(path).Observe(elapsed.Seconds())
		}

		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("elapsed", elapsed).
			Msg("Request served")
	}
}
