// Package api provides the HTTP server and the echo controller serving the
// live stream, the detection endpoints and the JSON API.
package api

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tphakala/emotion-go/internal/conf"
	"github.com/tphakala/emotion-go/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("api")
	})
	return serviceLogger
}

// Default constants for the HTTP server.
const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultBodyLimit       = "16M"
	DefaultPort            = "5000"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host string // host to bind to, empty for all interfaces
	Port string // port to listen on

	AllowedOrigins []string // CORS allowed origins

	// Timeouts. There is no write timeout: /video_feed and /ws/emotion
	// responses stay open for as long as the client watches.
	ReadTimeout     time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	BodyLimit string // maximum request body size, e.g. "16M"

	// Limiter for /upload and /capture
	RateLimitEnabled bool
	RateLimit        float64 // requests per second per client
	RateBurst        int

	Debug bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:            DefaultPort,
		AllowedOrigins:  []string{"*"},
		ReadTimeout:     DefaultReadTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		BodyLimit:       DefaultBodyLimit,
		RateLimit:       5,
		RateBurst:       10,
	}
}

// ConfigFromSettings creates a Config from the application settings.
func ConfigFromSettings(settings *conf.Settings) *Config {
	config := DefaultConfig()
	if settings == nil {
		return config
	}

	config.Host = settings.WebServer.Host
	if settings.WebServer.Port != "" {
		config.Port = settings.WebServer.Port
	}
	if settings.WebServer.ShutdownTimeout > 0 {
		config.ShutdownTimeout = settings.WebServer.ShutdownTimeout
	}
	// an unparsable size keeps the default limit
	if settings.Upload.UploadLimitBytes() > 0 {
		config.BodyLimit = settings.Upload.MaxSize
	}

	rl := settings.WebServer.RateLimit
	config.RateLimitEnabled = rl.Enabled
	if rl.Rate > 0 {
		config.RateLimit = rl.Rate
	}
	if rl.Burst > 0 {
		config.RateBurst = rl.Burst
	}

	config.Debug = settings.WebServer.Debug || settings.Debug
	return config
}

// Address returns the host:port listen address.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	if c.RateLimitEnabled && (c.RateLimit <= 0 || c.RateBurst <= 0) {
		return fmt.Errorf("rate limit and burst must be positive when rate limiting is enabled")
	}
	return nil
}
