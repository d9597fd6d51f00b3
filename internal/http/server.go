package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/canopy/internal/actor"
	"github.com/fyrsmithlabs/canopy/internal/auth"
	"github.com/fyrsmithlabs/canopy/internal/change"
	"github.com/fyrsmithlabs/canopy/internal/gateway"
	"github.com/fyrsmithlabs/canopy/internal/permissions"
	"github.com/fyrsmithlabs/canopy/internal/telemetry"
	"github.com/fyrsmithlabs/canopy/internal/tree"
)

// WebSocketHandler serves protocol sessions upgraded from HTTP.
// *transport.Server implements it.
type WebSocketHandler interface {
	ServeWebSocket(w http.ResponseWriter, r *http.Request) error
}

// Server provides the admin HTTP endpoints.
type Server struct {
	echo    *echo.Echo
	gw      *gateway.Gateway
	authn   *auth.Authenticator
	ws      WebSocketHandler
	logger  *zap.Logger
	config  *Config
	started time.Time

	meter   metric.Meter
	metrics *apiMetrics
	tel     *telemetry.Telemetry

	nats         *nats.Conn
	eventSubject string
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
}

// Option configures a Server.
type Option func(*Server)

// WithWebSocket mounts h at /ws.
func WithWebSocket(h WebSocketHandler) Option {
	return func(s *Server) { s.ws = h }
}

// WithMeter records request metrics on m instead of the global meter
// provider.
func WithMeter(m metric.Meter) Option {
	return func(s *Server) { s.meter = m }
}

// WithTelemetry reports the exporter state of t on /health. A degraded
// exporter does not fail the check.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(s *Server) { s.tel = t }
}

// NewServer creates a new HTTP server.
func NewServer(gw *gateway.Gateway, authn *auth.Authenticator, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if gw == nil {
		return nil, fmt.Errorf("gateway cannot be nil")
	}
	if authn == nil {
		return nil, fmt.Errorf("authenticator cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 9124,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		gw:      gw,
		authn:   authn,
		logger:  logger,
		config:  cfg,
		started: time.Now(),
		meter:   otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}

	metrics, err := newAPIMetrics(s.meter)
	if err != nil {
		return nil, fmt.Errorf("creating http metrics: %w", err)
	}
	s.metrics = metrics

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(metrics.middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	if s.ws != nil {
		s.echo.GET("/ws", s.handleWebSocket)
	}

	v1 := s.echo.Group("/api/v1", auth.Middleware(s.authn))
	v1.GET("/status", s.handleStatus)
	v1.GET("/tree", s.handleTree)
	v1.POST("/changes", s.handleChange)
	v1.POST("/nodes/:id/trigger", s.handleTrigger)
	if s.nats != nil {
		v1.GET("/events", s.handleEvents)
	}
}

// handleHealth reports whether the actor still answers.
func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	resp := HealthResponse{Status: "ok"}
	if s.tel != nil {
		resp.Telemetry = s.tel.State().String()
	}
	if _, err := s.gw.Inspect(ctx); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		resp.Status = "unavailable"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStatus(c echo.Context) error {
	status, err := s.gw.Inspect(c.Request().Context())
	if err != nil {
		return s.apiError(err)
	}
	return c.JSON(http.StatusOK, StatusResponse{
		Status:  "ok",
		Version: s.config.Version,
		Clients: status.Clients,
		Nodes:   status.Root.Count(),
		Hash:    FormatHash(status.Hash),
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleTree(c echo.Context) error {
	status, err := s.gw.Inspect(c.Request().Context())
	if err != nil {
		return s.apiError(err)
	}
	return c.JSON(http.StatusOK, TreeResponse{Hash: FormatHash(status.Hash), Root: status.Root})
}

// handleChange applies one change document with the caller's credential.
func (s *Server) handleChange(c echo.Context) error {
	var doc change.Document
	if err := c.Bind(&doc); err != nil {
		s.logger.Warn("invalid change request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ch, err := doc.Change()
	if err != nil {
		return s.apiError(err)
	}

	hash, err := s.withSession(c, func(ctx context.Context, sess *gateway.Session) (uint64, error) {
		return sess.Apply(ctx, ch)
	})
	s.metrics.recordEdit(c.Request().Context(), string(ch.Op()), err)
	if err != nil {
		return s.apiError(err)
	}
	return c.JSON(http.StatusOK, HashResponse{Hash: FormatHash(hash)})
}

func (s *Server) handleTrigger(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid node id")
	}

	hash, err := s.withSession(c, func(ctx context.Context, sess *gateway.Session) (uint64, error) {
		return sess.Trigger(ctx, id)
	})
	s.metrics.recordEdit(c.Request().Context(), "trigger", err)
	if err != nil {
		return s.apiError(err)
	}
	return c.JSON(http.StatusOK, HashResponse{Hash: FormatHash(hash)})
}

func (s *Server) handleWebSocket(c echo.Context) error {
	if err := s.ws.ServeWebSocket(c.Response(), c.Request()); err != nil {
		s.logger.Debug("websocket session ended", zap.Error(err))
	}
	return nil
}

// withSession runs fn in a session that lives for the request only.
func (s *Server) withSession(c echo.Context, fn func(context.Context, *gateway.Session) (uint64, error)) (uint64, error) {
	cred, err := auth.CredentialFrom(c)
	if err != nil {
		return 0, err
	}
	ctx := c.Request().Context()
	sess, err := s.gw.Register(ctx, cred)
	if err != nil {
		return 0, err
	}
	defer sess.Close()
	return fn(ctx, sess)
}

// apiError maps domain errors to HTTP status codes.
func (s *Server) apiError(err error) error {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he
	case errors.Is(err, permissions.ErrPermissionDenied):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, tree.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, change.ErrDuplicateID):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, change.ErrInvalid),
		errors.Is(err, change.ErrRootRemoval),
		errors.Is(err, tree.ErrNotButton):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, actor.ErrChannelClosed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "tree service stopped")
	default:
		s.logger.Error("request failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := s.Addr()
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
