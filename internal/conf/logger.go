package conf

import "github.com/tphakala/emotion-go/internal/logger"

// GetLogger returns the config package logger scoped to the config module.
// It is fetched from the global logger on each call because the central
// logger is only installed after the config has been loaded.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
