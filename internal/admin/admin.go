// Package admin serves a small HTTP surface for a running msgnet server:
// health, the current roster and Prometheus metrics.
package admin

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Zereker/msgnet"
)

// Roster is the view of a server the admin surface needs.
// *msgnet.Server satisfies it.
type Roster interface {
	Clients() []msgnet.ClientInfo
	Len() int
}

// NewRouter builds the admin routes. Metrics are served from gatherer.
func NewRouter(roster Roster, gatherer prometheus.Gatherer, logger zerolog.Logger) *gin.Engine {
	started := time.Now()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"clients": roster.Len(),
			"uptime":  time.Since(started).Round(time.Second).String(),
		})
	})

	r.GET("/clients", func(c *gin.Context) {
		c.JSON(http.StatusOK, roster.Clients())
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return r
}

// RequestLogger logs one line per request, at warn for 4xx and error for 5xx.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		event := logger.Debug()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("http_request")
	}
}

// Serve runs handler on l until ctx is done, then shuts it down.
func Serve(ctx context.Context, l net.Listener, handler http.Handler) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(l)
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "admin serve")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "admin shutdown")
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "admin serve")
	}
	return nil
}
