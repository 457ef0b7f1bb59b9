package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/emotion-go/internal/errors"
	"github.com/tphakala/emotion-go/internal/observability/metrics"
)

// NewMetrics records request counts, latency and response size by route
// pattern. Streaming routes are counted when they end.
func NewMetrics(m *metrics.HTTPMetrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}

			start := time.Now()
			err := next(c)

			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			method := c.Request().Method
			status := c.Response().Status
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
			}

			m.RecordHTTPRequest(method, path, status, time.Since(start).Seconds())
			m.RecordHTTPResponseSize(method, path, c.Response().Size)
			if status >= 400 {
				m.RecordHTTPRequestError(method, path, errorType(status))
			}
			return err
		}
	}
}

func errorType(status int) string {
	if status >= 500 {
		return "server_error"
	}
	return "client_error"
}
