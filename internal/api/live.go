package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/emotion-go/internal/emotion"
	"github.com/tphakala/emotion-go/internal/logger"
)

const msgStreamUnavailable = "Video stream not available"

// IndexData is the data passed to the index page template.
type IndexData struct {
	Title   string
	Version string
	Labels  []string
	Live    bool // camera stream is served
}

// Index renders the single page UI.
func (c *Controller) Index(ctx echo.Context) error {
	data := IndexData{
		Title:   "Emotion Detection",
		Version: "dev",
		Labels:  emotion.Labels(),
		Live:    c.video != nil,
	}
	if c.Settings != nil && c.Settings.Version != "" {
		data.Version = c.Settings.Version
	}
	if err := ctx.Render(http.StatusOK, "index.html", data); err != nil {
		return c.HandleError(ctx, err, msgInternal, http.StatusInternalServerError)
	}
	return nil
}

// VideoFeed streams annotated camera frames as multipart/x-mixed-replace.
func (c *Controller) VideoFeed(ctx echo.Context) error {
	if c.video == nil {
		return c.HandleError(ctx, nil, msgStreamUnavailable, http.StatusServiceUnavailable)
	}

	m := c.httpMetrics()
	if m != nil {
		m.StreamClientConnected()
		defer m.StreamClientDisconnected()
	}
	c.logger.Debug("video feed client connected", logger.String("ip", ctx.RealIP()))

	// the feed handler returns when its request context ends
	reqCtx, cancel := context.WithCancel(ctx.Request().Context())
	defer cancel()
	go func() {
		select {
		case <-c.closing:
			cancel()
		case <-reqCtx.Done():
		}
	}()
	c.video.ServeHTTP(ctx.Response(), ctx.Request().WithContext(reqCtx))

	c.logger.Debug("video feed client disconnected", logger.String("ip", ctx.RealIP()))
	return nil
}

// EmotionSocket pushes emotion updates over a websocket.
func (c *Controller) EmotionSocket(ctx echo.Context) error {
	if c.hub == nil {
		return c.HandleError(ctx, nil, msgStreamUnavailable, http.StatusServiceUnavailable)
	}
	// the upgrader has already replied when the handshake fails
	if err := c.hub.ServeWS(ctx.Response(), ctx.Request()); err != nil {
		c.logger.Debug("websocket upgrade failed", logger.Error(err), logger.String("ip", ctx.RealIP()))
	}
	return nil
}

// CurrentEmotion handles GET /api/emotion.
func (c *Controller) CurrentEmotion(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.state.Get())
}
