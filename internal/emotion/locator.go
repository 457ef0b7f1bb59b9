package emotion

import (
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/tphakala/emotion-go/internal/errors"
)

// FaceLocator finds face boxes in a grayscale image.
type FaceLocator interface {
	Locate(gray gocv.Mat, p Preset) ([]image.Rectangle, error)
}

// CascadeLocator is a FaceLocator backed by an OpenCV Haar cascade.
type CascadeLocator struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
	path       string
	closed     bool
}

// NewCascadeLocator loads the cascade XML at path.
func NewCascadeLocator(path string) (*CascadeLocator, error) {
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(path) {
		_ = classifier.Close()
		return nil, errors.Newf("failed to load Haar cascade from %s", path).
			Component("emotion").
			Category(errors.CategoryModelLoad).
			FileContext(path).
			Build()
	}
	return &CascadeLocator{classifier: classifier, path: path}, nil
}

// Locate runs one detectMultiScale pass with p. Equalization is applied by
// the caller, Locate uses gray as given.
func (c *CascadeLocator) Locate(gray gocv.Mat, p Preset) ([]image.Rectangle, error) {
	if gray.Empty() {
		return nil, ErrInvalidFrame
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrModelUnavailable
	}

	minSize := image.Pt(p.MinSize, p.MinSize)
	return c.classifier.DetectMultiScaleWithParams(gray, p.ScaleFactor, p.MinNeighbors, 0, minSize, image.Point{}), nil
}

// Path returns the cascade file path.
func (c *CascadeLocator) Path() string {
	return c.path
}

// Close releases the cascade.
func (c *CascadeLocator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.classifier.Close()
}
