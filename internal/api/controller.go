package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"
	"gocv.io/x/gocv"

	mw "github.com/tphakala/emotion-go/internal/api/middleware"
	"github.com/tphakala/emotion-go/internal/conf"
	"github.com/tphakala/emotion-go/internal/datastore"
	"github.com/tphakala/emotion-go/internal/emotion"
	"github.com/tphakala/emotion-go/internal/errors"
	"github.com/tphakala/emotion-go/internal/logger"
	"github.com/tphakala/emotion-go/internal/observability"
	"github.com/tphakala/emotion-go/internal/observability/metrics"
	"github.com/tphakala/emotion-go/internal/stream"
)

const (
	statisticsCacheTTL  = 30 * time.Second
	defaultHistoryLimit = 20
)

// Error messages returned in {"error": ...} bodies.
const (
	msgNoFile          = "No file provided"
	msgUserRequired    = "User name is required"
	msgNoFileSelected  = "No file selected"
	msgFileType        = "File type not allowed. Use: PNG, JPG, JPEG, GIF"
	msgReadImage       = "Failed to read image"
	msgCaptureFailed   = "Failed to capture frame"
	msgNotFound        = "Endpoint not found"
	msgInternal        = "Internal server error"
	msgDetectionAbsent = "Detection not found"
	msgInvalidID       = "Invalid detection id"
)

// Detector classifies frames and uploaded images. *emotion.Detector
// satisfies it.
type Detector interface {
	Detect(frame *gocv.Mat, annotate bool) (emotion.Result, error)
	DetectImage(data []byte, annotate bool) (emotion.Result, gocv.Mat, error)
	Available() bool
	ModelInfo() emotion.ModelInfo
}

// Camera is the shared capture device. *camera.Camera satisfies it.
type Camera interface {
	Read(dst *gocv.Mat) error
	IsOpened() bool
}

// EventPublisher receives saved detections. *mqtt.Publisher satisfies it.
type EventPublisher interface {
	Enqueue(d datastore.Detection) bool
}

// Controller manages the HTTP routes and handlers.
type Controller struct {
	Echo     *echo.Echo
	DS       datastore.Interface
	Settings *conf.Settings

	detector  Detector
	camera    Camera
	state     *stream.State
	metrics   *observability.Metrics
	publisher EventPublisher
	video     http.Handler
	hub       *stream.Hub

	statsCache *cache.Cache
	closing    chan struct{}
	closeOnce  sync.Once
	startTime  time.Time
	now        func() time.Time
	logger     logger.Logger
}

// Option is a functional option for configuring the Controller.
type Option func(*Controller)

// WithVideoFeed serves /video_feed from h, normally Broadcaster.Handler().
func WithVideoFeed(h http.Handler) Option {
	return func(c *Controller) {
		c.video = h
	}
}

// WithHub serves /ws/emotion from hub.
func WithHub(hub *stream.Hub) Option {
	return func(c *Controller) {
		c.hub = hub
	}
}

// WithPublisher forwards saved detections to p.
func WithPublisher(p EventPublisher) Option {
	return func(c *Controller) {
		c.publisher = p
	}
}

// WithClock replaces time.Now, used for file names and timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// New creates the controller and registers its routes on e. metrics may
// be nil; /metrics is only mounted when telemetry is enabled.
func New(e *echo.Echo, ds datastore.Interface, detector Detector, cam Camera,
	state *stream.State, settings *conf.Settings, m *observability.Metrics, opts ...Option) *Controller {
	if state == nil {
		state = stream.NewState()
	}
	c := &Controller{
		Echo:       e,
		DS:         ds,
		Settings:   settings,
		detector:   detector,
		camera:     cam,
		state:      state,
		metrics:    m,
		statsCache: cache.New(statisticsCacheTTL, 2*statisticsCacheTTL),
		closing:    make(chan struct{}),
		startTime:  time.Now(),
		now:        time.Now,
		logger:     GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if e.Renderer == nil {
		renderer, err := NewTemplateRenderer()
		if err != nil {
			c.logger.Error("failed to parse page templates", logger.Error(err))
		} else {
			e.Renderer = renderer
		}
	}
	e.HTTPErrorHandler = c.httpErrorHandler
	c.initRoutes()
	return c
}

// initRoutes registers all endpoints.
func (c *Controller) initRoutes() {
	e := c.Echo

	e.GET("/", c.Index)
	e.GET("/health", c.HealthCheck)
	e.GET("/video_feed", c.VideoFeed)
	e.GET("/ws/emotion", c.EmotionSocket)

	// detection endpoints share the optional limiter
	var detectMW []echo.MiddlewareFunc
	cfg := ConfigFromSettings(c.Settings)
	if cfg.RateLimitEnabled {
		detectMW = append(detectMW, mw.NewRateLimiter(cfg.RateLimit, cfg.RateBurst))
	}
	e.POST("/upload", c.UploadImage, detectMW...)
	e.POST("/capture", c.CaptureFrame, detectMW...)

	g := e.Group("/api")
	g.GET("/emotion", c.CurrentEmotion)
	g.GET("/history", c.GetHistory)
	g.GET("/statistics", c.GetStatistics)
	g.GET("/labels", c.GetLabels)
	g.GET("/model", c.GetModelInfo)
	g.DELETE("/detections/:id", c.DeleteDetection, c.adminAuth())

	if c.metrics != nil && c.Settings != nil && c.Settings.Telemetry.Enabled {
		c.metrics.RegisterRoutes(e)
	}
}

// httpMetrics returns the HTTP collectors or nil.
func (c *Controller) httpMetrics() *metrics.HTTPMetrics {
	if c.metrics == nil {
		return nil
	}
	return c.metrics.HTTP
}

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HandleError logs err with the request correlation id and replies with
// message. 5xx replies never carry err itself.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	fields := []logger.Field{
		logger.String("request_id", requestID(ctx)),
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.Int("code", code),
		logger.String("message", message),
		logger.Error(err),
	}
	if code >= http.StatusInternalServerError {
		c.logger.Error("API error", fields...)
	} else {
		c.logger.Debug("API request rejected", fields...)
	}
	return ctx.JSON(code, ErrorResponse{Error: message})
}

// httpErrorHandler turns unhandled errors into the JSON error shape.
func (c *Controller) httpErrorHandler(err error, ctx echo.Context) {
	if ctx.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) && he.Code < http.StatusInternalServerError {
		if he.Code == http.StatusNotFound || he.Code == http.StatusMethodNotAllowed {
			_ = c.HandleError(ctx, err, msgNotFound, http.StatusNotFound)
			return
		}
		msg, ok := he.Message.(string)
		if !ok || msg == "" {
			msg = http.StatusText(he.Code)
		}
		_ = c.HandleError(ctx, err, msg, he.Code)
		return
	}
	_ = c.HandleError(ctx, err, msgInternal, http.StatusInternalServerError)
}

// Shutdown ends streaming clients and releases controller resources.
// It is safe to call more than once.
func (c *Controller) Shutdown() {
	c.closeOnce.Do(func() {
		close(c.closing)
		c.statsCache.Flush()
		if c.hub != nil {
			c.hub.Close()
		}
	})
}

func requestID(ctx echo.Context) string {
	if id := ctx.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		return id
	}
	return ctx.Request().Header.Get(echo.HeaderXRequestID)
}
