// Package http serves a local read-mostly API over one project's state while
// agentgate watch runs: health, status, traces, checkpoints, a secret scrub
// endpoint, and Prometheus metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentgate/internal/logging"
	"github.com/fyrsmithlabs/agentgate/internal/redact"
	"github.com/fyrsmithlabs/agentgate/internal/services"
	"github.com/fyrsmithlabs/agentgate/internal/status"
	"github.com/fyrsmithlabs/agentgate/internal/trace"
)

// maxScrubBytes bounds a scrub request body.
const maxScrubBytes = 1 << 20

// Server provides HTTP endpoints for one project.
type Server struct {
	echo    *echo.Echo
	svc     services.Registry
	logger  *logging.Logger
	config  *Config
	prom    *PromMetrics
	limiter *clientLimiter
}

// Config holds HTTP server configuration.
type Config struct {
	// Addr is host:port to listen on.
	Addr string
	// RateLimit is requests per second per client, allowing RateBurst.
	RateLimit float64
	RateBurst int
}

// NewServer creates a server over svc.
func NewServer(svc services.Registry, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, errors.New("services cannot be nil")
	}
	if cfg == nil {
		cfg = &Config{Addr: "127.0.0.1:9464", RateLimit: 5, RateBurst: 10}
	}
	if cfg.RateLimit <= 0 || cfg.RateBurst < 1 {
		return nil, fmt.Errorf("rate limit must be positive, got %v/%d", cfg.RateLimit, cfg.RateBurst)
	}
	logger := svc.Logger().Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		svc:     svc,
		logger:  logger,
		config:  cfg,
		prom:    NewPromMetrics(svc),
		limiter: newClientLimiter(cfg.RateLimit, cfg.RateBurst, svc.Clock()),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger())
	e.Use(NewHTTPMetrics(svc.Telemetry(), logger).MetricsMiddleware())
	e.Use(s.rateLimit())

	s.registerRoutes()
	return s, nil
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			s.logger.Debug(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.prom.Registry(), promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.GET("/traces", s.handleTraces)
	v1.GET("/traces/:id", s.handleTrace)
	v1.GET("/checkpoints", s.handleCheckpoints)
	v1.POST("/scrub", s.handleScrub)
}

// Prom returns the Prometheus collectors the watch loop records into.
func (s *Server) Prom() *PromMetrics {
	return s.prom
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Project: s.svc.Project().ID})
}

func (s *Server) handleStatus(c echo.Context) error {
	r, err := status.Collect(c.Request().Context(), s.svc)
	if err != nil {
		return s.internalError(c, "collecting status", err)
	}
	return c.JSON(http.StatusOK, r)
}

func (s *Server) handleTraces(c echo.Context) error {
	f := trace.Filter{
		WorkerType: c.QueryParam("type"),
		Status:     trace.Status(c.QueryParam("status")),
		Limit:      20,
	}
	switch f.Status {
	case "", trace.StatusActive, trace.StatusCompleted, trace.StatusCrashed:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status")
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		f.Limit = n
	}

	ctx := c.Request().Context()
	recs, err := s.svc.Traces().List(ctx, f)
	if err != nil {
		return s.internalError(c, "listing traces", err)
	}
	now := s.svc.Clock().Now()
	out := make([]status.TraceEntry, 0, len(recs))
	for _, r := range recs {
		out = append(out, status.NewTraceEntry(r, now))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleTrace(c echo.Context) error {
	ctx := c.Request().Context()
	rec, err := s.svc.Traces().Get(ctx, c.Param("id"))
	switch {
	case errors.Is(err, trace.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "trace not found")
	case errors.Is(err, trace.ErrInvalidID):
		return echo.NewHTTPError(http.StatusBadRequest, "invalid trace id")
	case err != nil:
		return s.internalError(c, "reading trace", err)
	}

	resp := TraceResponse{Record: rec, Artifacts: rec.Artifacts}
	if data, err := s.svc.Traces().ReadArtifact(ctx, rec.ID, trace.ArtifactSummary); err == nil {
		resp.SummaryText = string(data)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCheckpoints(c echo.Context) error {
	cps, err := s.svc.Checkpoints().List(c.Request().Context(), s.svc.Project().WorkDir, c.QueryParam("branch"))
	if err != nil {
		return s.internalError(c, "listing checkpoints", err)
	}
	return c.JSON(http.StatusOK, cps)
}

// handleScrub runs the deep secret scan over the posted content with the
// project's allowlists.
func (s *Server) handleScrub(c echo.Context) error {
	c.Request().Body = http.MaxBytesReader(c.Response(), c.Request().Body, maxScrubBytes)
	var req ScrubRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid scrub request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}

	allow, err := redact.LoadAllowlists(s.svc.Project().Root, redact.DefaultUserAllowlistPath())
	if err != nil {
		return s.internalError(c, "loading allowlists", err)
	}
	res, err := redact.Deep(req.Content, allow)
	if err != nil {
		return s.internalError(c, "scanning content", err)
	}
	return c.JSON(http.StatusOK, ScrubResponse{
		Content:       res.Content,
		FindingsCount: len(res.Findings),
		Findings:      res.Findings,
	})
}

func (s *Server) internalError(c echo.Context, what string, err error) error {
	s.logger.Error(c.Request().Context(), what, zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, what+" failed")
}

// Start listens on the configured address. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", s.config.Addr))
	return s.echo.Start(s.config.Addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
