package emotion

import (
	"sync"

	"github.com/tphakala/emotion-go/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the emotion module logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("emotion")
	})
	return serviceLogger
}
