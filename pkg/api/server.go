package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/cuemby/tickr/pkg/events"
	"github.com/cuemby/tickr/pkg/log"
	"github.com/cuemby/tickr/pkg/metrics"
)

const shutdownTimeout = 5 * time.Second

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// Config holds ops server configuration
type Config struct {
	Addr string

	// Broker, when set, is streamed on /api/v1/events
	Broker *events.Broker
}

// Server is the HTTP ops server of a tickr process
type Server struct {
	config Config
	engine *gin.Engine
	logger zerolog.Logger
}

// NewServer creates an ops server with the health, metrics and event routes
func NewServer(cfg Config) *Server {
	s := &Server{
		config: cfg,
		engine: gin.New(),
		logger: log.WithComponent("api"),
	}
	s.engine.Use(gin.Recovery(), s.observe())

	s.engine.GET("/healthz", gin.WrapF(metrics.HealthHandler()))
	s.engine.GET("/readyz", gin.WrapF(metrics.ReadyHandler()))
	s.engine.GET("/livez", gin.WrapF(metrics.LivenessHandler()))
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := s.engine.Group("/api/v1")
	if cfg.Broker != nil {
		v1.GET("/events", s.streamEvents)
	}
	return s
}

// Handler returns the HTTP handler for embedding in other servers
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on the configured address until ctx is cancelled, then shuts
// down gracefully
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(lis)
	}()
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("Ops server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ops server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info().Msg("Ops server stopped")
	return nil
}
