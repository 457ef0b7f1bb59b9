package api

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/labstack/echo/v4"
	"gocv.io/x/gocv"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/tphakala/emotion-go/internal/datastore"
	"github.com/tphakala/emotion-go/internal/emotion"
	"github.com/tphakala/emotion-go/internal/errors"
	"github.com/tphakala/emotion-go/internal/logger"
)

// fileTimeLayout is the timestamp inside stored image names.
const fileTimeLayout = "20060102_150405"

// DetectionResponse is returned by /upload and /capture.
type DetectionResponse struct {
	Success    bool     `json:"success"`
	Emotion    string   `json:"emotion"`
	Confidence *float64 `json:"confidence"`
	UserName   string   `json:"user_name"`
	Timestamp  string   `json:"timestamp"`
	RecordID   uint     `json:"record_id"`
	Filename   string   `json:"filename"`
}

// captureRequest is the /capture body.
type captureRequest struct {
	UserName string `json:"user_name"`
}

// UploadImage handles POST /upload: a multipart image plus user_name.
func (c *Controller) UploadImage(ctx echo.Context) error {
	fh, fileErr := ctx.FormFile("file")
	if fileErr != nil && !hasFormField(ctx, "file") {
		return c.rejectDetection(ctx, datastore.MethodUpload, fileErr, msgNoFile)
	}

	userName := strings.TrimSpace(ctx.FormValue("user_name"))
	if userName == "" {
		return c.rejectDetection(ctx, datastore.MethodUpload, nil, msgUserRequired)
	}

	// a file part without a filename arrives as a plain form field
	if fileErr != nil || fh.Filename == "" {
		return c.rejectDetection(ctx, datastore.MethodUpload, fileErr, msgNoFileSelected)
	}
	if !c.allowedFile(fh.Filename) {
		return c.rejectDetection(ctx, datastore.MethodUpload, nil, msgFileType)
	}

	src, err := fh.Open()
	if err != nil {
		return c.rejectDetection(ctx, datastore.MethodUpload, err, msgReadImage)
	}
	data, err := io.ReadAll(src)
	_ = src.Close()
	if err != nil {
		return c.rejectDetection(ctx, datastore.MethodUpload, err, msgReadImage)
	}

	now := c.now()
	filename := secureFilename(userName + "_" + now.Format(fileTimeLayout) + "_" + fh.Filename)
	path, err := c.storeFile(filename, data)
	if err != nil {
		return c.failDetection(ctx, datastore.MethodUpload, err)
	}

	result, img, detectErr := c.detector.DetectImage(data, false)
	_ = img.Close()
	if errors.Is(detectErr, emotion.ErrInvalidFrame) {
		if rmErr := os.Remove(path); rmErr != nil {
			c.logger.Warn("failed to remove unreadable upload", logger.String("path", path), logger.Error(rmErr))
		}
		return c.rejectDetection(ctx, datastore.MethodUpload, detectErr, msgReadImage)
	}

	return c.saveDetection(ctx, datastore.MethodUpload, userName, path, filename, now, result, detectErr)
}

// CaptureFrame handles POST /capture: classify and store the current
// camera frame for user_name.
func (c *Controller) CaptureFrame(ctx echo.Context) error {
	var req captureRequest
	if err := ctx.Bind(&req); err != nil {
		return c.rejectDetection(ctx, datastore.MethodWebcam, err, msgUserRequired)
	}
	userName := strings.TrimSpace(req.UserName)
	if userName == "" {
		return c.rejectDetection(ctx, datastore.MethodWebcam, nil, msgUserRequired)
	}

	if c.camera == nil {
		return c.rejectDetection(ctx, datastore.MethodWebcam, nil, msgCaptureFailed)
	}
	frame := gocv.NewMat()
	defer frame.Close()
	if err := c.camera.Read(&frame); err != nil {
		return c.rejectDetection(ctx, datastore.MethodWebcam, err, msgCaptureFailed)
	}

	result, detectErr := c.detector.Detect(&frame, true)

	now := c.now()
	filename := secureFilename(userName + "_" + now.Format(fileTimeLayout) + "_webcam.jpg")
	path, err := c.storeFrame(filename, frame)
	if err != nil {
		return c.failDetection(ctx, datastore.MethodWebcam, err)
	}

	return c.saveDetection(ctx, datastore.MethodWebcam, userName, path, filename, now, result, detectErr)
}

// saveDetection records the outcome of a detection and replies with it.
// Detector failures are stored under their label, not reported as errors.
func (c *Controller) saveDetection(ctx echo.Context, method, userName, path, filename string,
	now time.Time, result emotion.Result, detectErr error) error {
	label := result.Label
	var confidence *float64
	if detectErr != nil {
		label = emotion.LabelForError(detectErr)
	} else {
		value := result.Confidence
		confidence = &value
	}

	detection := &datastore.Detection{
		UserName:        userName,
		ImagePath:       path,
		DetectedEmotion: label,
		Confidence:      confidence,
		DetectionMethod: method,
		Timestamp:       now,
	}
	if err := c.DS.Save(detection); err != nil {
		return c.failDetection(ctx, method, err)
	}
	c.statsCache.Flush()

	if c.publisher != nil && !c.publisher.Enqueue(*detection) {
		c.logger.Warn("detection event dropped, publisher queue full",
			logger.Uint64("id", uint64(detection.ID)))
	}
	if m := c.httpMetrics(); m != nil {
		m.RecordDetectionRequest(method, "success")
	}

	c.logger.Info("detection stored",
		logger.Uint64("id", uint64(detection.ID)),
		logger.String("user_name", userName),
		logger.String("emotion", label),
		logger.String("method", method),
		logger.String("request_id", requestID(ctx)))

	return ctx.JSON(http.StatusOK, DetectionResponse{
		Success:    true,
		Emotion:    label,
		Confidence: confidence,
		UserName:   userName,
		Timestamp:  now.Format(time.RFC3339),
		RecordID:   detection.ID,
		Filename:   filename,
	})
}

// rejectDetection replies 400 with message.
func (c *Controller) rejectDetection(ctx echo.Context, method string, err error, message string) error {
	if m := c.httpMetrics(); m != nil {
		m.RecordDetectionRequest(method, "rejected")
	}
	return c.HandleError(ctx, err, message, http.StatusBadRequest)
}

// failDetection replies 500.
func (c *Controller) failDetection(ctx echo.Context, method string, err error) error {
	if m := c.httpMetrics(); m != nil {
		m.RecordDetectionRequest(method, "error")
	}
	return c.HandleError(ctx, err, msgInternal, http.StatusInternalServerError)
}

// allowedFile reports whether name has an accepted extension, ignoring case.
func (c *Controller) allowedFile(name string) bool {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return false
	}
	ext := strings.ToLower(name[i+1:])
	for _, allowed := range c.allowedExtensions() {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

func (c *Controller) allowedExtensions() []string {
	if c.Settings != nil && len(c.Settings.Upload.AllowedExtensions) > 0 {
		return c.Settings.Upload.AllowedExtensions
	}
	return []string{"png", "jpg", "jpeg", "gif"}
}

func (c *Controller) uploadDir() string {
	if c.Settings != nil && c.Settings.Upload.Path != "" {
		return c.Settings.Upload.Path
	}
	return "uploads"
}

// storeFile writes data under the upload directory and returns its path.
func (c *Controller) storeFile(filename string, data []byte) (string, error) {
	dir := c.uploadDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fileError(err, dir)
	}
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fileError(err, path)
	}
	return path, nil
}

// storeFrame encodes frame as JPEG under the upload directory.
func (c *Controller) storeFrame(filename string, frame gocv.Mat) (string, error) {
	dir := c.uploadDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fileError(err, dir)
	}
	path := filepath.Join(dir, filename)
	if !gocv.IMWrite(path, frame) {
		return "", fileError(errors.NewStd("cannot encode frame"), path)
	}
	return path, nil
}

func fileError(err error, path string) error {
	return errors.New(err).
		Component("api").
		Category(errors.CategoryFileIO).
		FileContext(path).
		Build()
}

func hasFormField(ctx echo.Context, name string) bool {
	form := ctx.Request().MultipartForm
	if form == nil {
		return false
	}
	_, ok := form.Value[name]
	return ok
}

// asciiFold strips accents so "Zoë" becomes "Zoe".
var asciiFold = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))

// secureFilename reduces name to a safe single path component made of
// ASCII letters, digits, '_', '.' and '-'. Whitespace and path separators
// become '_'; leading and trailing dots and underscores are trimmed.
func secureFilename(name string) string {
	if folded, _, err := transform.String(asciiFold, name); err == nil {
		name = folded
	}
	name = strings.NewReplacer("/", " ", "\\", " ").Replace(name)
	name = strings.Join(strings.Fields(name), "_")

	var b strings.Builder
	for _, r := range name {
		if r == '_' || r == '.' || r == '-' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "._")
}
