// Package camera owns the capture device shared by the stream loop and the
// capture endpoint.
package camera

import (
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/tphakala/emotion-go/internal/conf"
	"github.com/tphakala/emotion-go/internal/errors"
	"github.com/tphakala/emotion-go/internal/logger"
)

var (
	// ErrCameraUnavailable is returned when the device cannot be opened or
	// the camera has been closed.
	ErrCameraUnavailable = errors.NewStd("camera unavailable")
	// ErrReadFailed is returned when the device is open but yields no frame.
	ErrReadFailed = errors.NewStd("failed to read frame from camera")
)

// Source is a frame source. *gocv.VideoCapture satisfies it.
type Source interface {
	Read(m *gocv.Mat) bool
	IsOpened() bool
	Close() error
}

// Opener opens the source for settings.
type Opener func(settings conf.CameraSettings) (Source, error)

// Camera is the single owner of the capture device. Reads are serialized,
// the device is opened on first use and reopened after a failed read.
type Camera struct {
	mu       sync.Mutex
	settings conf.CameraSettings
	open     Opener
	source   Source
	closed   bool
	lastErr  time.Time
}

// Option configures a Camera.
type Option func(*Camera)

// WithOpener replaces the OpenCV device opener.
func WithOpener(open Opener) Option {
	return func(c *Camera) {
		c.open = open
	}
}

// New returns a Camera for settings. The device is not opened until the
// first Open, Read or IsOpened call.
func New(settings conf.CameraSettings, opts ...Option) *Camera {
	c := &Camera{
		settings: settings,
		open:     openVideoCapture,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// openVideoCapture opens a local video device and applies the requested
// size and frame rate.
func openVideoCapture(settings conf.CameraSettings) (Source, error) {
	vc, err := gocv.OpenVideoCapture(settings.Device)
	if err != nil {
		return nil, err
	}
	if settings.Width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(settings.Width))
	}
	if settings.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(settings.Height))
	}
	if settings.FPS > 0 {
		vc.Set(gocv.VideoCaptureFPS, float64(settings.FPS))
	}
	vc.Set(gocv.VideoCaptureBufferSize, 1)

	GetLogger().Info("camera opened",
		logger.Int("device", settings.Device),
		logger.Float64("width", vc.Get(gocv.VideoCaptureFrameWidth)),
		logger.Float64("height", vc.Get(gocv.VideoCaptureFrameHeight)),
		logger.Float64("fps", vc.Get(gocv.VideoCaptureFPS)))
	return vc, nil
}

// Open opens the device if it is not open yet.
func (c *Camera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureOpen()
}

// ensureOpen must be called with c.mu held.
func (c *Camera) ensureOpen() error {
	if c.closed {
		return ErrCameraUnavailable
	}
	if c.source != nil && c.source.IsOpened() {
		return nil
	}
	c.release()

	source, err := c.open(c.settings)
	if err == nil && (source == nil || !source.IsOpened()) {
		if source != nil {
			_ = source.Close()
		}
		err = ErrCameraUnavailable
	}
	if err != nil {
		if time.Since(c.lastErr) > time.Minute {
			GetLogger().Warn("cannot open camera",
				logger.Int("device", c.settings.Device),
				logger.Error(err))
		}
		c.lastErr = time.Now()
		return errors.New(errors.Join(ErrCameraUnavailable, err)).
			Component("camera").
			Category(errors.CategoryCamera).
			Context("device", c.settings.Device).
			Build()
	}

	c.source = source
	return nil
}

// Read grabs the next frame into dst. On failure the device is released so
// the next call reopens it.
func (c *Camera) Read(dst *gocv.Mat) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureOpen(); err != nil {
		return err
	}
	if !c.source.Read(dst) || dst.Empty() {
		c.release()
		return errors.New(ErrReadFailed).
			Component("camera").
			Category(errors.CategoryCamera).
			Context("device", c.settings.Device).
			Build()
	}
	return nil
}

// IsOpened reports whether the device is open, trying to open it first.
func (c *Camera) IsOpened() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureOpen() == nil
}

// Settings returns the camera settings.
func (c *Camera) Settings() conf.CameraSettings {
	return c.settings
}

// Close releases the device. Later calls return ErrCameraUnavailable.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.release()
	return nil
}

func (c *Camera) release() {
	if c.source == nil {
		return
	}
	if err := c.source.Close(); err != nil {
		GetLogger().Debug("error closing camera", logger.Error(err))
	}
	c.source = nil
}
