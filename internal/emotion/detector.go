package emotion

import (
	stderrors "errors"
	"fmt"
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/tphakala/emotion-go/internal/conf"
	"github.com/tphakala/emotion-go/internal/errors"
	"github.com/tphakala/emotion-go/internal/logger"
	"github.com/tphakala/emotion-go/internal/observability/metrics"
)

// Metric source labels.
const (
	SourceFrame = "frame"
	SourceImage = "image"
)

// Result is the outcome of one detection.
type Result struct {
	Label      string          // emotion label or NoFaceDetected / ErrorLabel
	Confidence float64         // top probability, 0 when no face was classified
	Face       image.Rectangle // box of the classified face
	Found      bool            // a face was located
}

// ModelInfo describes the loaded model, serialized by /api/model.
type ModelInfo struct {
	Status      string   `json:"status"`
	Message     string   `json:"message,omitempty"`
	ModelPath   string   `json:"model_path,omitempty"`
	Emotions    []string `json:"emotions,omitempty"`
	NumEmotions int      `json:"num_emotions,omitempty"`
	FaceSize    int      `json:"face_size,omitempty"`
	Parameters  int64    `json:"parameters,omitempty"`
	InputShape  []int    `json:"input_shape,omitempty"`
	OutputShape []int    `json:"output_shape,omitempty"`
}

// shapedClassifier is implemented by classifiers that can describe their model.
type shapedClassifier interface {
	InputShape() []int
	OutputShape() []int
	ParamCount() int64
}

// Detector owns the face locator and the classifier. It is safe for
// concurrent use; the components serialize their own native calls.
type Detector struct {
	mu         sync.RWMutex
	locator    FaceLocator
	classifier Classifier
	presets    []Preset
	modelPath  string
	metrics    *metrics.EmotionMetrics
	closers    []func()
}

// Option configures a Detector.
type Option func(*Detector)

// WithPresets replaces DefaultPresets.
func WithPresets(presets []Preset) Option {
	return func(d *Detector) {
		d.presets = append([]Preset(nil), presets...)
	}
}

// WithMetrics records detection metrics.
func WithMetrics(m *metrics.EmotionMetrics) Option {
	return func(d *Detector) {
		d.metrics = m
	}
}

// WithModelPath sets the path reported by ModelInfo.
func WithModelPath(path string) Option {
	return func(d *Detector) {
		d.modelPath = path
	}
}

// NewDetectorWith builds a Detector from existing components. Either may be
// nil, in which case the detector reports itself unavailable.
func NewDetectorWith(locator FaceLocator, classifier Classifier, opts ...Option) *Detector {
	d := &Detector{
		locator:    locator,
		classifier: classifier,
		presets:    DefaultPresets,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics != nil {
		d.metrics.SetModelLoaded(d.Available())
	}
	return d
}

// NewDetector loads the cascade and the model named in settings. A missing
// model or cascade is logged and yields a detector that is not Available,
// so the web server still starts and reports the problem on /health.
func NewDetector(settings *conf.Settings, opts ...Option) (*Detector, error) {
	log := GetLogger()
	var (
		locator    FaceLocator
		classifier Classifier
		closers    []func()
		loadErrs   []error
	)

	cascade, err := NewCascadeLocator(settings.Emotion.CascadePath)
	if err != nil {
		log.Error("failed to load face cascade", logger.Error(err))
		loadErrs = append(loadErrs, err)
	} else {
		locator = cascade
		closers = append(closers, func() { _ = cascade.Close() })
	}

	model, err := NewTFLiteClassifier(settings.Emotion.ModelPath, settings.Emotion.Threads)
	if err != nil {
		log.Error("failed to load emotion model", logger.Error(err))
		loadErrs = append(loadErrs, err)
	} else {
		classifier = model
		closers = append(closers, model.Close)
	}

	opts = append([]Option{WithModelPath(settings.Emotion.ModelPath)}, opts...)
	d := NewDetectorWith(locator, classifier, opts...)
	d.closers = closers
	return d, errors.Join(loadErrs...)
}

// Available reports whether both the locator and the classifier are loaded.
func (d *Detector) Available() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.locator != nil && d.classifier != nil
}

// Detect locates the first face in frame and classifies it. With annotate
// set the face box and label are drawn on frame in place.
//
// When no preset finds a face the result label is NoFaceDetected and the
// error is ErrNoFace. Any other failure carries ErrorLabel.
func (d *Detector) Detect(frame *gocv.Mat, annotate bool) (Result, error) {
	return d.detect(frame, annotate, SourceFrame)
}

func (d *Detector) detect(frame *gocv.Mat, annotate bool, source string) (Result, error) {
	start := time.Now()

	d.mu.RLock()
	locator, classifier := d.locator, d.classifier
	d.mu.RUnlock()

	if locator == nil || classifier == nil {
		return d.fail(ErrModelUnavailable)
	}
	if frame == nil || frame.Empty() {
		return d.fail(ErrInvalidFrame)
	}

	gray, err := toGray(*frame)
	if err != nil {
		return d.fail(err)
	}
	defer gray.Close()

	face, found := d.locateFace(locator, gray)
	if !found {
		d.recordError(ErrNoFace)
		return Result{Label: NoFaceDetected}, ErrNoFace
	}

	label, confidence, err := d.classifyFace(classifier, gray, face)
	result := Result{Label: label, Confidence: confidence, Face: face, Found: true}

	if annotate {
		Annotate(frame, face, label)
	}
	if err != nil {
		// classifyFace has already counted the error
		GetLogger().Warn("emotion classification failed", logger.Error(err))
		return result, err
	}

	if d.metrics != nil {
		d.metrics.RecordDetection(label, source, confidence, time.Since(start).Seconds())
	}
	return result, nil
}

// locateFace tries the presets in order and returns the first face of the
// first preset that finds any. A failing preset is logged and skipped.
func (d *Detector) locateFace(locator FaceLocator, gray gocv.Mat) (image.Rectangle, bool) {
	start := time.Now()

	var (
		equalized     gocv.Mat
		haveEqualized bool
	)
	defer func() {
		if haveEqualized {
			_ = equalized.Close()
		}
	}()

	for i, preset := range d.presets {
		input := gray
		if preset.Equalize {
			if !haveEqualized {
				equalized = gocv.NewMat()
				gocv.EqualizeHist(gray, &equalized)
				haveEqualized = true
			}
			input = equalized
		}

		faces, err := locator.Locate(input, preset)
		if err != nil {
			GetLogger().Warn("face detection preset failed",
				logger.Int("preset", i+1),
				logger.String("params", preset.String()),
				logger.Error(err))
			continue
		}
		if len(faces) > 0 {
			if d.metrics != nil {
				d.metrics.RecordFaceSearch(i, time.Since(start).Seconds())
			}
			return faces[0], true
		}
	}

	if d.metrics != nil {
		d.metrics.RecordFaceSearch(-1, time.Since(start).Seconds())
	}
	return image.Rectangle{}, false
}

// classifyFace returns the top label and its probability.
func (d *Detector) classifyFace(classifier Classifier, gray gocv.Mat, face image.Rectangle) (string, float64, error) {
	tensor, err := faceTensor(gray, face)
	if err != nil {
		if d.metrics != nil {
			d.metrics.RecordError(err)
		}
		return ErrorLabel, 0, err
	}

	start := time.Now()
	probs, err := classifier.Classify(tensor)
	if d.metrics != nil {
		d.metrics.RecordInference(time.Since(start).Seconds(), err)
	}
	if err != nil {
		if !stderrors.Is(err, ErrInference) && !stderrors.Is(err, ErrModelUnavailable) {
			err = fmt.Errorf("%w: %w", ErrInference, err)
		}
		return ErrorLabel, 0, err
	}
	if len(probs) != NumLabels {
		err = fmt.Errorf("%w: classifier returned %d values, want %d", ErrInference, len(probs), NumLabels)
		if d.metrics != nil {
			d.metrics.RecordError(err)
		}
		return ErrorLabel, 0, err
	}

	idx, p := argmax(probs)
	return labels[idx], float64(p), nil
}

func (d *Detector) fail(err error) (Result, error) {
	d.recordError(err)
	return Result{Label: ErrorLabel}, err
}

func (d *Detector) recordError(err error) {
	if d.metrics != nil {
		d.metrics.RecordError(err)
	}
	if stderrors.Is(err, ErrNoFace) {
		GetLogger().Debug("no face detected in frame")
		return
	}
	GetLogger().Warn("emotion detection failed", logger.Error(err))
}

// Label is the best-effort form of Detect: it returns an emotion label,
// NoFaceDetected or ErrorLabel and never fails.
func (d *Detector) Label(frame *gocv.Mat, annotate bool) string {
	result, err := d.Detect(frame, annotate)
	if err != nil {
		return LabelForError(err)
	}
	return result.Label
}

// DetectImage decodes an encoded image (JPEG, PNG, GIF...) and runs Detect
// on it. The decoded Mat is returned so callers can save the annotated
// image; the caller must close it. A decode failure returns ErrInvalidFrame.
func (d *Detector) DetectImage(data []byte, annotate bool) (Result, gocv.Mat, error) {
	img, err := decodeImage(data)
	if err != nil {
		d.recordError(err)
		return Result{Label: ErrorLabel}, gocv.NewMat(), err
	}
	result, err := d.detect(&img, annotate, SourceImage)
	return result, img, err
}

// ModelInfo describes the loaded model.
func (d *Detector) ModelInfo() ModelInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.classifier == nil {
		return ModelInfo{Status: "error", Message: "Model not loaded"}
	}

	info := ModelInfo{
		Status:      "loaded",
		ModelPath:   d.modelPath,
		Emotions:    Labels(),
		NumEmotions: NumLabels,
		FaceSize:    FaceSize,
	}
	if shaped, ok := d.classifier.(shapedClassifier); ok {
		info.Parameters = shaped.ParamCount()
		info.InputShape = shaped.InputShape()
		info.OutputShape = shaped.OutputShape()
	}
	return info
}

// Close releases the native resources loaded by NewDetector.
func (d *Detector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, closeFn := range d.closers {
		closeFn()
	}
	d.closers = nil
	d.locator = nil
	d.classifier = nil
	if d.metrics != nil {
		d.metrics.SetModelLoaded(false)
	}
}

// decodeImage decodes encoded image bytes into a BGR Mat.
func decodeImage(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.Mat{}, fmt.Errorf("%w: empty image data", ErrInvalidFrame)
	}
	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}
	if img.Empty() {
		_ = img.Close()
		return gocv.Mat{}, fmt.Errorf("%w: cannot decode image", ErrInvalidFrame)
	}
	return img, nil
}

// LoadImageFile reads an image file into a BGR Mat. The caller must close it.
func LoadImageFile(path string) (gocv.Mat, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		_ = img.Close()
		return gocv.Mat{}, errors.Newf("cannot read image %s", path).
			Component("emotion").
			Category(errors.CategoryImageProcessing).
			FileContext(path).
			Build()
	}
	return img, nil
}
