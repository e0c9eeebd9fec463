// Package server exposes the deposit manager over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/dataconservancy/dcs-ingest/pkg/deposit"
	"github.com/dataconservancy/dcs-ingest/pkg/ingest"
	"github.com/dataconservancy/dcs-ingest/pkg/telemetry"
)

// Deposits is the part of deposit.Manager the HTTP API drives.
type Deposits interface {
	Deposit(ctx context.Context, content io.Reader, contentType, packaging string, metadata deposit.Metadata) (string, error)
	Resume(ctx context.Context, depositID string) (ingest.PhaseState, error)
	Cancel(ctx context.Context, depositID string) (ingest.PhaseState, error)
	DepositInfo(ctx context.Context, depositID string) (*deposit.DepositInfo, error)
}

// HealthChecker reports whether a backing store is usable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

var _ Deposits = (*deposit.Manager)(nil)

// Config configures a Server.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// MaxUploadBytes limits deposit bodies. Zero means unlimited.
	MaxUploadBytes int64
}

// Server is the HTTP deposit API.
type Server struct {
	cfg      Config
	echo     *echo.Echo
	deposits Deposits
	health   HealthChecker
	tel      *telemetry.Telemetry
	logger   *telemetry.Logger
}

// Option configures optional Server collaborators.
type Option func(*Server)

// WithHealthChecker makes /healthz check a store.
func WithHealthChecker(h HealthChecker) Option {
	return func(s *Server) { s.health = h }
}

// WithTelemetry sets the logger, and the metrics served on /metrics.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(s *Server) { s.tel = t }
}

// New creates a Server with its routes registered.
func New(cfg Config, deposits Deposits, opts ...Option) *Server {
	s := &Server{cfg: cfg, deposits: deposits}
	for _, opt := range opts {
		opt(s)
	}

	s.logger = telemetry.Nop()
	if s.tel != nil && s.tel.Logger != nil {
		s.logger = s.tel.Logger.NewComponentLogger("server")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.logRequests)

	var upload []echo.MiddlewareFunc
	if cfg.MaxUploadBytes > 0 {
		upload = append(upload, middleware.BodyLimit(fmt.Sprintf("%dB", cfg.MaxUploadBytes)))
	}

	e.POST("/deposits", s.createDeposit, upload...)
	e.GET("/deposits/:id", s.getDeposit)
	e.POST("/deposits/:id/resume", s.resumeDeposit)
	e.DELETE("/deposits/:id", s.cancelDeposit)
	e.GET("/healthz", s.healthz)

	var metrics *telemetry.Metrics
	if s.tel != nil {
		metrics = s.tel.Metrics
	}
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	s.echo = e
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Address,
		Handler:      s.echo,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("address", s.cfg.Address).Info("deposit API listening")
		errCh <- s.echo.StartServer(srv)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve: %w", err)
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	graceful, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("shutting down deposit API")
	if err := s.echo.Shutdown(graceful); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// logRequests logs one line per request.
func (s *Server) logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		begin := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		req := c.Request()
		logger := s.logger.WithFields(map[string]interface{}{
			"method":     req.Method,
			"path":       req.URL.Path,
			"status":     c.Response().Status,
			"duration":   time.Since(begin).String(),
			"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
		})
		if err != nil {
			logger.WithError(err).Warn("request failed")
		} else {
			logger.Debug("request served")
		}
		return nil
	}
}
