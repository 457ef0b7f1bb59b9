package stream

import (
	"context"
	stderrors "errors"
	"image"
	"net/http"
	"time"

	"gocv.io/x/gocv"

	"github.com/tphakala/emotion-go/internal/conf"
	"github.com/tphakala/emotion-go/internal/emotion"
	"github.com/tphakala/emotion-go/internal/errors"
	"github.com/tphakala/emotion-go/internal/logger"
	"github.com/tphakala/emotion-go/internal/observability/metrics"
)

const (
	defaultRetryDelay = time.Second
	maxRetryDelay     = 30 * time.Second
)

// FrameSource yields camera frames. *camera.Camera satisfies it.
type FrameSource interface {
	Read(dst *gocv.Mat) error
}

// Detector classifies a frame. *emotion.Detector satisfies it.
type Detector interface {
	Detect(frame *gocv.Mat, annotate bool) (emotion.Result, error)
}

// Broadcaster reads the camera, classifies every Nth frame and publishes
// annotated JPEG frames to the MJPEG feed.
type Broadcaster struct {
	source     FrameSource
	detector   Detector
	state      *State
	feed       *Feed
	every      int
	quality    int
	retryDelay time.Duration
	metrics    *metrics.HTTPMetrics

	// last classified face, redrawn on frames that are not classified
	lastFace  image.Rectangle
	lastLabel string
}

// BroadcasterOption configures a Broadcaster.
type BroadcasterOption func(*Broadcaster)

// WithStreamMetrics records frame timings and read errors.
func WithStreamMetrics(m *metrics.HTTPMetrics) BroadcasterOption {
	return func(b *Broadcaster) {
		b.metrics = m
	}
}

// WithRetryDelay sets the initial wait after a failed camera read.
func WithRetryDelay(d time.Duration) BroadcasterOption {
	return func(b *Broadcaster) {
		b.retryDelay = d
	}
}

// NewBroadcaster wires a frame source and a detector to state.
func NewBroadcaster(source FrameSource, detector Detector, state *State, settings *conf.Settings, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		source:     source,
		detector:   detector,
		state:      state,
		feed:       NewFeed(),
		every:      settings.Stream.ClassifyEvery,
		quality:    settings.Stream.JPEGQuality,
		retryDelay: settings.Camera.RetryDelay,
	}
	if b.every < 1 {
		b.every = 1
	}
	if b.quality < 1 || b.quality > 100 {
		b.quality = 80
	}
	if b.retryDelay <= 0 {
		b.retryDelay = defaultRetryDelay
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Handler returns the multipart/x-mixed-replace handler for /video_feed.
func (b *Broadcaster) Handler() http.Handler {
	return b.feed
}

// Run captures frames until ctx is cancelled. Read failures are retried
// with a doubling delay capped at 30s. Run returns nil on cancellation and
// closes the feed.
func (b *Broadcaster) Run(ctx context.Context) error {
	defer b.feed.Close()

	log := GetLogger()
	log.Info("stream loop started",
		logger.Int("classify_every", b.every),
		logger.Int("jpeg_quality", b.quality))
	defer log.Info("stream loop stopped")

	frame := gocv.NewMat()
	defer frame.Close()

	delay := b.retryDelay
	var count uint64
	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := b.source.Read(&frame); err != nil {
			if b.metrics != nil {
				b.metrics.RecordStreamReadError()
			}
			log.Warn("camera read failed, retrying",
				logger.Error(err),
				logger.Duration("retry_in", delay))
			if !sleepCtx(ctx, delay) {
				return nil
			}
			delay = min(delay*2, maxRetryDelay)
			continue
		}
		delay = b.retryDelay
		count++

		start := time.Now()
		jpeg, err := b.processFrame(&frame, count)
		if err != nil {
			log.Warn("frame encoding failed", logger.Error(err))
			continue
		}
		b.feed.Publish(jpeg)
		if b.metrics != nil {
			b.metrics.RecordStreamFrame(time.Since(start).Seconds())
		}
	}
}

// processFrame classifies frame when n is a multiple of the classify
// interval, annotates it and returns the JPEG encoding.
func (b *Broadcaster) processFrame(frame *gocv.Mat, n uint64) ([]byte, error) {
	if n%uint64(b.every) == 0 {
		result, err := b.detector.Detect(frame, true)
		switch {
		case err == nil:
			b.state.Set(result.Label, result.Confidence)
			b.lastFace, b.lastLabel = result.Face, result.Label
		case stderrors.Is(err, emotion.ErrNoFace):
			b.state.Set(emotion.NoFaceDetected, 0)
			b.lastLabel = ""
		default:
			b.state.Set(emotion.LabelForError(err), 0)
			if result.Found {
				b.lastFace, b.lastLabel = result.Face, result.Label
			} else {
				b.lastLabel = ""
			}
		}
	} else if b.lastLabel != "" {
		emotion.Annotate(frame, b.lastFace, b.lastLabel)
	}

	return encodeJPEG(*frame, b.quality)
}

// encodeJPEG encodes img at the given quality.
func encodeJPEG(img gocv.Mat, quality int) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, errors.New(err).
			Component("stream").
			Category(errors.CategoryImageProcessing).
			Context("operation", "jpeg_encode").
			Build()
	}
	defer buf.Close()

	// the native buffer is freed by Close
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// sleepCtx waits for d or until ctx is done. It reports whether the full
// delay elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
