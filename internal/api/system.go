package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/tphakala/emotion-go/internal/emotion"
	"github.com/tphakala/emotion-go/internal/logger"
)

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status          string       `json:"status"`
	CameraConnected bool         `json:"camera_connected"`
	ModelLoaded     bool         `json:"model_loaded"`
	Database        string       `json:"database"`
	Version         string       `json:"version"`
	Uptime          string       `json:"uptime"`
	System          SystemHealth `json:"system"`
	Timestamp       string       `json:"timestamp"`
}

// SystemHealth is the host section of the health report.
type SystemHealth struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
}

// LabelsResponse is returned by /api/labels.
type LabelsResponse struct {
	Labels []string `json:"labels"`
}

// HealthCheck handles GET /health. A failing database makes the whole
// report an error.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	if c.DS == nil {
		return ctx.JSON(http.StatusInternalServerError, map[string]string{
			"status":  "error",
			"message": "database not configured",
		})
	}
	if err := c.DS.Ping(); err != nil {
		c.logger.Error("health check failed", logger.Error(err), logger.String("request_id", requestID(ctx)))
		return ctx.JSON(http.StatusInternalServerError, map[string]string{
			"status":  "error",
			"message": "database unavailable",
		})
	}

	version := "dev"
	if c.Settings != nil && c.Settings.Version != "" {
		version = c.Settings.Version
	}

	return ctx.JSON(http.StatusOK, HealthResponse{
		Status:          "ok",
		CameraConnected: c.camera != nil && c.camera.IsOpened(),
		ModelLoaded:     c.detector != nil && c.detector.Available(),
		Database:        "ok",
		Version:         version,
		Uptime:          time.Since(c.startTime).Round(time.Second).String(),
		System:          systemHealth(),
		Timestamp:       c.now().Format(time.RFC3339),
	})
}

// systemHealth samples host load. Sampling errors leave the value at 0.
func systemHealth() SystemHealth {
	var h SystemHealth

	// interval 0 compares against the previous call and does not block
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		h.CPUPercent = percents[0]
	} else if err != nil {
		GetLogger().Debug("cpu sample failed", logger.Error(err))
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		h.MemoryPercent = vm.UsedPercent
	} else {
		GetLogger().Debug("memory sample failed", logger.Error(err))
	}
	return h
}

// GetLabels handles GET /api/labels.
func (c *Controller) GetLabels(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, LabelsResponse{Labels: emotion.Labels()})
}

// GetModelInfo handles GET /api/model.
func (c *Controller) GetModelInfo(ctx echo.Context) error {
	if c.detector == nil {
		return ctx.JSON(http.StatusOK, emotion.ModelInfo{Status: "error", Message: "Model not loaded"})
	}
	return ctx.JSON(http.StatusOK, c.detector.ModelInfo())
}
