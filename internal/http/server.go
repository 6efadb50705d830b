// Package http provides the mailsmith HTTP API.
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

	"github.com/fyrsmithlabs/mailsmith/internal/assistant"
	"github.com/fyrsmithlabs/mailsmith/internal/email"
	"github.com/fyrsmithlabs/mailsmith/internal/logging"
	"github.com/fyrsmithlabs/mailsmith/internal/persistence"
	"github.com/fyrsmithlabs/mailsmith/internal/similarity"
	"github.com/fyrsmithlabs/mailsmith/internal/telemetry"
	"github.com/fyrsmithlabs/mailsmith/internal/workflow"
)

// maxBodyBytes caps request bodies. Drafts are short.
const maxBodyBytes = "1M"

// Service is the application layer behind the API.
type Service interface {
	Generate(ctx context.Context, req assistant.GenerateRequest) (*assistant.Response, error)
	Regenerate(ctx context.Context, req assistant.RegenerateRequest) (*assistant.Response, error)
	History(ctx context.Context, owner string, limit int) ([]persistence.DraftRecord, error)
	Profile(ctx context.Context, owner string) (email.Profile, error)
	SaveProfile(ctx context.Context, p email.Profile) error
	LearnFromEdits(ctx context.Context, owner string, req assistant.LearnRequest) (email.Profile, error)
}

// IndexerStats reports background indexing counters for /health.
type IndexerStats interface {
	Stats() similarity.Stats
}

// TelemetryHealth reports trace and metric export status for /health.
type TelemetryHealth interface {
	Health() telemetry.HealthStatus
}

// Server provides HTTP endpoints for mailsmith.
type Server struct {
	echo    *echo.Echo
	svc     Service
	indexer IndexerStats
	logger  *logging.Logger
	config  *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// Telemetry is optional.
	Telemetry TelemetryHealth
}

// NewServer creates a new HTTP server. indexer may be nil.
func NewServer(svc Service, indexer IndexerStats, logger *logging.Logger, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8085,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		svc:     svc,
		indexer: indexer,
		logger:  logger,
		config:  cfg,
	}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(maxBodyBytes))
	e.Use(s.requestContext)
	e.Use(s.logRequests)
	e.Use(metricsMiddleware(logger.Underlying()))

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/generate", s.handleGenerate)
	v1.POST("/regenerate", s.handleRegenerate)

	owners := v1.Group("/owners/:owner")
	owners.GET("/drafts", s.handleHistory)
	owners.GET("/profile", s.handleGetProfile)
	owners.PUT("/profile", s.handlePutProfile)
	owners.POST("/history/learn", s.handleLearn)
}

// requestContext carries the request id and logger into the request context.
func (s *Server) requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		ctx = logging.WithRequestID(ctx, c.Response().Header().Get(echo.HeaderXRequestID))
		if owner := c.Param("owner"); owner != "" {
			ctx = logging.WithOwner(ctx, owner)
		}
		ctx = logging.WithLogger(ctx, s.logger)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func (s *Server) logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		s.logger.Info(c.Request().Context(), "http request",
			zap.String("method", c.Request().Method),
			zap.String("route", c.Path()),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return err
	}
}

// handleHealth reports liveness and indexer counters.
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	if s.indexer != nil {
		stats := s.indexer.Stats()
		resp.Indexer = &stats
	}
	if s.config.Telemetry != nil {
		th := s.config.Telemetry.Health()
		resp.Telemetry = &th
		if th.Degraded {
			resp.Status = "degraded"
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGenerate(c echo.Context) error {
	var req assistant.GenerateRequest
	if err := c.Bind(&req); err != nil {
		return invalidBody(err)
	}
	resp, err := s.svc.Generate(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRegenerate(c echo.Context) error {
	var req assistant.RegenerateRequest
	if err := c.Bind(&req); err != nil {
		return invalidBody(err)
	}
	resp, err := s.svc.Regenerate(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleHistory(c echo.Context) error {
	limit := persistence.DefaultListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return workflow.ValidationError("limit must be a positive integer")
		}
		limit = n
	}

	owner := c.Param("owner")
	drafts, err := s.svc.History(c.Request().Context(), owner, limit)
	if err != nil {
		return err
	}
	resp := HistoryResponse{Owner: owner, Drafts: make([]DraftView, 0, len(drafts))}
	for _, d := range drafts {
		resp.Drafts = append(resp.Drafts, newDraftView(d))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetProfile(c echo.Context) error {
	p, err := s.svc.Profile(c.Request().Context(), c.Param("owner"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handlePutProfile(c echo.Context) error {
	var p email.Profile
	if err := c.Bind(&p); err != nil {
		return invalidBody(err)
	}
	owner := c.Param("owner")
	if p.Owner != "" && p.Owner != owner {
		return workflow.ValidationError("owner_id does not match the path")
	}
	p.Owner = owner

	ctx := c.Request().Context()
	if err := s.svc.SaveProfile(ctx, p); err != nil {
		return err
	}
	stored, err := s.svc.Profile(ctx, owner)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stored)
}

// handleLearn updates profile preferences from a user's edit and returns
// the stored profile.
func (s *Server) handleLearn(c echo.Context) error {
	var req assistant.LearnRequest
	if err := c.Bind(&req); err != nil {
		return invalidBody(err)
	}
	p, err := s.svc.LearnFromEdits(c.Request().Context(), c.Param("owner"), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func invalidBody(err error) error {
	return workflow.ValidationError("invalid request body: " + err.Error())
}

// handleError writes every failure as {kind, message}.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, body := errorResponse(err)
	ctx := c.Request().Context()
	if status >= http.StatusInternalServerError {
		s.logger.Error(ctx, "request failed", zap.Int("status", status), zap.Error(err))
	} else {
		s.logger.Debug(ctx, "request rejected", zap.Int("status", status), zap.Error(err))
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		s.logger.Warn(ctx, "writing error response failed", zap.Error(err))
	}
}

func errorResponse(err error) (int, ErrorResponse) {
	var we *workflow.Error
	if errors.As(err, &we) {
		return statusFor(we.Kind), ErrorResponse{Kind: string(we.Kind), Message: we.Error()}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		kind := "http_error"
		switch {
		case he.Code == http.StatusNotFound:
			kind = "not_found"
		case he.Code < http.StatusInternalServerError:
			kind = string(workflow.KindValidation)
		}
		return he.Code, ErrorResponse{Kind: kind, Message: fmt.Sprint(he.Message)}
	}
	return http.StatusInternalServerError, ErrorResponse{Kind: "internal", Message: "internal error"}
}

// statusFor maps error kinds to HTTP statuses. Transient failures only
// surface once retries are spent, so they read as upstream failures.
func statusFor(k workflow.Kind) int {
	switch k {
	case workflow.KindValidation, workflow.KindEmptyDraft:
		return http.StatusBadRequest
	case workflow.KindStageFatal, workflow.KindStageTransient:
		return http.StatusBadGateway
	case workflow.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// ServeHTTP lets the server be mounted in another mux or driven by tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
