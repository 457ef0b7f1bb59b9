// Package client talks to a running emotion-go server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tphakala/emotion-go/internal/errors"
	"github.com/tphakala/emotion-go/internal/httpclient"
	"github.com/tphakala/emotion-go/internal/logger"
)

// DefaultServerURL is used when no server is given.
const DefaultServerURL = "http://127.0.0.1:5000"

// maxResponseSize caps decoded response bodies.
const maxResponseSize = 4 << 20

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

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

// EmotionResponse is returned by /api/emotion.
type EmotionResponse struct {
	Emotion    string    `json:"emotion"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// HistoryRecord is one /api/history entry.
type HistoryRecord struct {
	ID         uint     `json:"id"`
	UserName   string   `json:"user_name"`
	Emotion    string   `json:"emotion"`
	Confidence *float64 `json:"confidence"`
	Timestamp  string   `json:"timestamp"`
	Method     string   `json:"method"`
}

// HistoryResponse is returned by /api/history.
type HistoryResponse struct {
	Success bool            `json:"success"`
	Records []HistoryRecord `json:"records"`
	Total   int             `json:"total"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status          string `json:"status"`
	CameraConnected bool   `json:"camera_connected"`
	ModelLoaded     bool   `json:"model_loaded"`
	Database        string `json:"database"`
	Version         string `json:"version"`
	Message         string `json:"message,omitempty"`
}

// Client is an API client for one server.
type Client struct {
	baseURL *url.URL
	http    *httpclient.Client
}

// New returns a Client for serverURL. cfg may be nil.
func New(serverURL string, cfg *httpclient.Config) (*Client, error) {
	if serverURL == "" {
		serverURL = DefaultServerURL
	}
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Newf("invalid server URL %q", serverURL).
			Component("client").
			Category(errors.CategoryValidation).
			Build()
	}

	hc := httpclient.New(cfg)
	hc.SetAfterResponseHook(func(req *http.Request, resp *http.Response, err error, elapsed time.Duration) {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		GetLogger().Debug("api request",
			logger.String("method", req.Method),
			logger.String("path", req.URL.Path),
			logger.Int("status", status),
			logger.Duration("elapsed", elapsed),
			logger.Error(err))
	})

	return &Client{baseURL: u, http: hc}, nil
}

// Upload posts the image at path for userName to /upload.
func (c *Client) Upload(ctx context.Context, userName, path string) (*DetectionResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Component("client").
			Category(errors.CategoryFileIO).
			FileContext(path).
			Build()
	}
	defer f.Close()
	return c.UploadReader(ctx, userName, filepath.Base(path), f)
}

// UploadReader posts image data read from r as filename.
func (c *Client) UploadReader(ctx context.Context, userName, filename string, r io.Reader) (*DetectionResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("user_name", userName); err != nil {
		return nil, err
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, errors.New(err).
			Component("client").
			Category(errors.CategoryFileIO).
			Context("filename", filename).
			Build()
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	resp, err := c.http.Post(ctx, c.endpoint("/upload", nil), mw.FormDataContentType(), &body)
	if err != nil {
		return nil, networkError(err, "/upload")
	}
	var out DetectionResponse
	if err := decode(resp, "/upload", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Capture asks the server to classify the current camera frame.
func (c *Client) Capture(ctx context.Context, userName string) (*DetectionResponse, error) {
	payload, err := json.Marshal(map[string]string{"user_name": userName})
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Post(ctx, c.endpoint("/capture", nil), "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, networkError(err, "/capture")
	}
	var out DetectionResponse
	if err := decode(resp, "/capture", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CurrentEmotion returns the live stream emotion.
func (c *Client) CurrentEmotion(ctx context.Context) (*EmotionResponse, error) {
	var out EmotionResponse
	if err := c.getJSON(ctx, "/api/emotion", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History returns the most recent records, optionally for one user.
func (c *Client) History(ctx context.Context, userName string, limit int) (*HistoryResponse, error) {
	q := url.Values{}
	if userName != "" {
		q.Set("user_name", userName)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out HistoryResponse
	if err := c.getJSON(ctx, "/api/history", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health returns the server health report.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.getJSON(ctx, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Close releases pooled connections.
func (c *Client) Close() {
	c.http.Close()
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	resp, err := c.http.Get(ctx, c.endpoint(path, q))
	if err != nil {
		return networkError(err, path)
	}
	return decode(resp, path, out)
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = q.Encode()
	return u.String()
}

// decode reads a JSON body into out, or an APIError for non-2xx answers.
func decode(resp *http.Response, path string, out any) error {
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return networkError(err, path)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var body struct {
			Error string `json:"error"`
		}
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(data, &body) == nil && body.Error != "" {
			msg = body.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return errors.New(err).
			Component("client").
			Category(errors.CategoryHTTP).
			Context("path", path).
			Build()
	}
	return nil
}

func networkError(err error, path string) error {
	return errors.New(err).
		Component("client").
		Category(errors.CategoryNetwork).
		Context("path", path).
		Build()
}
