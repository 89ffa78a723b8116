// Package api serves the trade operations over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zulandar/tradepost/internal/logging"
	"github.com/zulandar/tradepost/internal/trade"
	"go.uber.org/zap"
)

// Options configures the HTTP surface.
type Options struct {
	Service   *trade.Service
	Secret    []byte
	Issuer    string
	RateRPS   float64
	RateBurst int

	// StreamPoll is how often event streams look for new messages.
	StreamPoll time.Duration
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(opts Options) (*gin.Engine, error) {
	if opts.Service == nil {
		return nil, fmt.Errorf("api: service is required")
	}
	if len(opts.Secret) == 0 {
		return nil, fmt.Errorf("api: jwt secret is required")
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestID(), accessLog())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(authenticate(opts.Secret, opts.Issuer), limit(newLimiterPool(opts.RateRPS, opts.RateBurst)))
	registerRoutes(v1, &handlers{svc: opts.Service, poll: opts.StreamPoll})
	return router, nil
}

// StartOpts holds the listener settings for Start.
type StartOpts struct {
	Options
	Addr string
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	gin.SetMode(gin.ReleaseMode)
	router, err := NewRouter(opts.Options)
	if err != nil {
		return err
	}
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logging.L().Info("api: listening", zap.String("addr", opts.Addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	logging.L().Info("api: stopped")
	return nil
}
