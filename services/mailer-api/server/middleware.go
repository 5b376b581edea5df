package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mkrasnov/autosend/pkg/logx"
	"github.com/mkrasnov/autosend/pkg/metrics"
)

// Actor identifies who is calling; authentication itself happens upstream,
// the trusted proxy forwards the identity in headers.
type Actor struct {
	Email   string
	Manager bool
}

func actorFrom(c *gin.Context) Actor {
	return Actor{
		Email:   c.GetHeader("X-Actor"),
		Manager: c.GetHeader("X-Actor-Manager") == "1",
	}
}

func Observability() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid := c.Request.Header.Get("X-Request-ID")
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-ID", rid)
		c.Set("request_id", rid)
		c.Next()

		lat := time.Since(start).Seconds()
		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		metrics.APIRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(c.Request.Method, path).Observe(lat)

		actor := actorFrom(c).Email
		if actor == "" {
			actor = "-"
		}
		logx.L().Infow("http_access",
			"rid", rid,
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration", lat,
			"actor", actor,
			"client_ip", c.ClientIP(),
		)
	}
}
