// Package server exposes the sync engine over HTTP: a health probe and an
// on-demand sync trigger.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/njoerd114/growrelay/internal/cache"
	syncp "github.com/njoerd114/growrelay/internal/sync"
)

const (
	otelScope       = "growrelay/server"
	shutdownTimeout = 10 * time.Second
)

// Trigger runs cycles on demand. Implemented by [syncp.Engine].
type Trigger interface {
	RunOnce(ctx context.Context) (syncp.Summary, error)
	Last() (syncp.Summary, bool)
}

// StatusChecker reports cache health. Implemented by [cache.Records].
type StatusChecker interface {
	Status(ctx context.Context) cache.Status
}

// Health is the body of GET /health. It never includes credential values.
type Health struct {
	Status                string       `json:"status"`
	Cache                 cache.Status `json:"cache"`
	CredentialsConfigured bool         `json:"credentials_configured"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Options wires a [Server].
type Options struct {
	Trigger Trigger
	// Cache is optional; nil reports the cache as disabled.
	Cache                 StatusChecker
	CredentialsConfigured bool
	Logger                *slog.Logger
}

// Server is the HTTP surface.
type Server struct {
	opts   Options
	log    *slog.Logger
	tracer trace.Tracer
	router *gin.Engine
}

// New builds the router. Call [Server.Run] to listen, or use
// [Server.Handler] directly.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		opts:   opts,
		log:    opts.Logger,
		tracer: otel.Tracer(otelScope),
		router: gin.New(),
	}
	s.router.Use(gin.Recovery(), s.logRequests)
	s.router.GET("/health", s.health)
	s.router.POST("/sync", s.sync)
	s.router.GET("/sync/last", s.last)
	return s
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return ctx.Err()
}

func (s *Server) health(c *gin.Context) {
	status := cache.StatusDisabled
	if s.opts.Cache != nil {
		status = s.opts.Cache.Status(c.Request.Context())
	}
	c.JSON(http.StatusOK, Health{
		Status:                "ok",
		Cache:                 status,
		CredentialsConfigured: s.opts.CredentialsConfigured,
	})
}

func (s *Server) sync(c *gin.Context) {
	// A dropped client must not abort the cycle; CycleTimeout bounds it.
	ctx, span := s.tracer.Start(context.WithoutCancel(c.Request.Context()), "server.sync")
	defer span.End()

	sum, err := s.opts.Trigger.RunOnce(ctx)
	if errors.Is(err, syncp.ErrBusy) {
		span.SetAttributes(attribute.Bool("sync.busy", true))
		c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		span.RecordError(err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	span.SetAttributes(
		attribute.String("sync.run_id", sum.RunID),
		attribute.Int("sync.events_created", sum.EventsCreated),
	)
	c.JSON(http.StatusOK, sum)
}

func (s *Server) last(c *gin.Context) {
	sum, ok := s.opts.Trigger.Last()
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse{Error: "no sync has run yet"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.log.Debug("http request",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"status", c.Writer.Status(),
		"duration", time.Since(start),
	)
}
