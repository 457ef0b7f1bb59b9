package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/tphakala/emotion-go/internal/api/middleware"
	"github.com/tphakala/emotion-go/internal/conf"
	"github.com/tphakala/emotion-go/internal/datastore"
	"github.com/tphakala/emotion-go/internal/errors"
	"github.com/tphakala/emotion-go/internal/logger"
	"github.com/tphakala/emotion-go/internal/observability"
	"github.com/tphakala/emotion-go/internal/stream"
)

// Server is the HTTP server for emotion-go. It owns the echo instance,
// the middleware stack and the controller.
type Server struct {
	echo     *echo.Echo
	config   *Config
	settings *conf.Settings
	logger   logger.Logger

	// Dependencies
	dataStore  datastore.Interface
	detector   Detector
	camera     Camera
	state      *stream.State
	metrics    *observability.Metrics
	ctrlOpts   []Option
	controller *Controller
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithDataStore sets the detection store.
func WithDataStore(ds datastore.Interface) ServerOption {
	return func(s *Server) {
		s.dataStore = ds
	}
}

// WithDetector sets the emotion detector.
func WithDetector(d Detector) ServerOption {
	return func(s *Server) {
		s.detector = d
	}
}

// WithCamera sets the shared camera used by /capture and /health.
func WithCamera(cam Camera) ServerOption {
	return func(s *Server) {
		s.camera = cam
	}
}

// WithState sets the live emotion state.
func WithState(state *stream.State) ServerOption {
	return func(s *Server) {
		s.state = state
	}
}

// WithMetrics sets the metrics instance.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithControllerOptions passes options through to the controller.
func WithControllerOptions(opts ...Option) ServerOption {
	return func(s *Server) {
		s.ctrlOpts = append(s.ctrlOpts, opts...)
	}
}

// NewServer creates the HTTP server with the given settings and options.
func NewServer(settings *conf.Settings, opts ...ServerOption) (*Server, error) {
	config := ConfigFromSettings(settings)
	if err := config.Validate(); err != nil {
		return nil, errors.New(fmt.Errorf("invalid server configuration: %w", err)).
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}

	s := &Server{
		config:   config,
		settings: settings,
		logger:   GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Debug = config.Debug

	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()

	s.controller = New(s.echo, s.dataStore, s.detector, s.camera, s.state, settings, s.metrics, s.ctrlOpts...)

	s.logger.Info("HTTP server initialized",
		logger.String("address", config.Address()),
		logger.Bool("debug", config.Debug),
		logger.Bool("rate_limit", config.RateLimitEnabled))

	return s, nil
}

// setupMiddleware configures the echo middleware stack.
func (s *Server) setupMiddleware() {
	// Recovery middleware - should be first
	s.echo.Use(echomw.Recover())
	s.echo.Use(mw.NewRequestID())
	s.echo.Use(mw.NewRequestLogger(s.logger.Module("http")))

	if s.metrics != nil {
		s.echo.Use(mw.NewMetrics(s.metrics.HTTP))
	}

	securityConfig := mw.DefaultSecurityConfig()
	securityConfig.AllowedOrigins = s.config.AllowedOrigins
	s.echo.Use(mw.NewCORS(securityConfig))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewSecureHeaders(securityConfig))
}

// Start serves HTTP requests and blocks until the server is shut down.
func (s *Server) Start() error {
	addr := s.config.Address()
	s.logger.Info("starting HTTP server", logger.String("address", addr))

	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("address", addr).
			Build()
	}
	return nil
}

// Run starts the server and shuts it down gracefully when ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if err := s.Shutdown(); err != nil {
			return err
		}
		return <-errCh
	}
}

// Shutdown gracefully stops the server within the configured timeout.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	// end websocket and video feed clients, they would hold Shutdown open
	s.controller.Shutdown()

	if err := s.echo.Shutdown(ctx); err != nil {
		s.logger.Warn("graceful shutdown incomplete, closing connections", logger.Error(err))
		if closeErr := s.echo.Close(); closeErr != nil {
			return fmt.Errorf("shutdown error: %w", closeErr)
		}
	}

	s.logger.Info("HTTP server stopped", logger.Duration("timeout", s.config.ShutdownTimeout))
	return nil
}

// Controller returns the route controller.
func (s *Server) Controller() *Controller {
	return s.controller
}

// Echo returns the underlying echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.Address()
}
