package api

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/tphakala/emotion-go/internal/errors"
	"github.com/tphakala/emotion-go/internal/logger"
)

// historyTimeLayout formats record timestamps in /api/history.
const historyTimeLayout = "2006-01-02T15:04:05"

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

// StatisticsResponse is returned by /api/statistics.
type StatisticsResponse struct {
	Success    bool             `json:"success"`
	Statistics map[string]int64 `json:"statistics"`
}

// GetHistory handles GET /api/history?user_name=&limit=.
func (c *Controller) GetHistory(ctx echo.Context) error {
	userName := ctx.QueryParam("user_name")

	limit := defaultHistoryLimit
	if raw := ctx.QueryParam("limit"); raw != "" {
		// unparsable limits fall back to the default
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	detections, err := c.DS.List(userName, limit)
	if err != nil {
		return c.HandleError(ctx, err, msgInternal, http.StatusInternalServerError)
	}

	records := make([]HistoryRecord, 0, len(detections))
	for i := range detections {
		d := &detections[i]
		records = append(records, HistoryRecord{
			ID:         d.ID,
			UserName:   d.UserName,
			Emotion:    d.DetectedEmotion,
			Confidence: d.Confidence,
			Timestamp:  d.Timestamp.Format(historyTimeLayout),
			Method:     d.DetectionMethod,
		})
	}

	return ctx.JSON(http.StatusOK, HistoryResponse{
		Success: true,
		Records: records,
		Total:   len(records),
	})
}

// GetStatistics handles GET /api/statistics?user_name=. Results are cached
// per user until the next insert or delete.
func (c *Controller) GetStatistics(ctx echo.Context) error {
	userName := ctx.QueryParam("user_name")
	key := "stats:" + userName

	if cached, found := c.statsCache.Get(key); found {
		if stats, ok := cached.(map[string]int64); ok {
			c.recordStatsCache(true)
			return ctx.JSON(http.StatusOK, StatisticsResponse{Success: true, Statistics: stats})
		}
	}
	c.recordStatsCache(false)

	counts, err := c.DS.Statistics(userName)
	if err != nil {
		return c.HandleError(ctx, err, msgInternal, http.StatusInternalServerError)
	}

	stats := make(map[string]int64, len(counts))
	for _, row := range counts {
		stats[row.Emotion] = row.Count
	}
	c.statsCache.Set(key, stats, statisticsCacheTTL)

	return ctx.JSON(http.StatusOK, StatisticsResponse{Success: true, Statistics: stats})
}

func (c *Controller) recordStatsCache(hit bool) {
	if m := c.httpMetrics(); m != nil {
		m.RecordStatisticsCache(hit)
	}
}

// DeleteDetection handles DELETE /api/detections/:id for the admin user.
func (c *Controller) DeleteDetection(ctx echo.Context) error {
	id := ctx.Param("id")
	if n, err := strconv.ParseUint(id, 10, 64); err != nil || n == 0 {
		return c.HandleError(ctx, err, msgInvalidID, http.StatusBadRequest)
	}

	if err := c.DS.Delete(id); err != nil {
		switch {
		case errors.IsNotFound(err):
			return c.HandleError(ctx, err, msgDetectionAbsent, http.StatusNotFound)
		case errors.IsValidation(err):
			return c.HandleError(ctx, err, msgInvalidID, http.StatusBadRequest)
		default:
			return c.HandleError(ctx, err, msgInternal, http.StatusInternalServerError)
		}
	}
	c.statsCache.Flush()

	c.logger.Info("detection deleted by admin",
		logger.String("id", id),
		logger.String("ip", ctx.RealIP()),
		logger.String("request_id", requestID(ctx)))

	return ctx.JSON(http.StatusOK, map[string]any{
		"success": true,
		"id":      id,
		"deleted": time.Now().Format(time.RFC3339),
	})
}

// adminAuth guards admin routes with HTTP basic auth against the
// configured username and bcrypt password hash. Without an admin the
// routes answer 404.
func (c *Controller) adminAuth() echo.MiddlewareFunc {
	var username, hash string
	if c.Settings != nil {
		username = c.Settings.Security.Admin.Username
		hash = c.Settings.Security.Admin.PasswordHash
	}

	if username == "" || hash == "" {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(ctx echo.Context) error {
				return echo.ErrNotFound
			}
		}
	}

	return middleware.BasicAuthWithConfig(middleware.BasicAuthConfig{
		Realm: "emotion-go admin",
		Validator: func(user, password string, ctx echo.Context) (bool, error) {
			userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
			passMatch := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
			if !userMatch || !passMatch {
				c.logger.Warn("admin authentication failed",
					logger.String("ip", ctx.RealIP()),
					logger.String("path", ctx.Request().URL.Path))
				return false, nil
			}
			return true, nil
		},
	})
}
