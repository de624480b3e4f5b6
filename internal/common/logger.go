package common

import (
	"strings"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

var (
	globalLogger arbor.ILogger
	loggerMu     sync.RWMutex
)

// InitLogger configures the global logger from the loaded configuration.
// Output targets are additive: "stdout" attaches a console writer and
// "file" attaches a rotating file writer under logs/.
func InitLogger(cfg *Config) arbor.ILogger {
	logger := arbor.NewLogger()

	outputs := cfg.Logging.Output
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	for _, output := range outputs {
		switch strings.ToLower(trimSpace(output)) {
		case "stdout", "console":
			logger = logger.WithConsoleWriter(models.WriterConfiguration{
				Type:       models.LogWriterTypeConsole,
				TimeFormat: "15:04:05",
				TextOutput: strings.EqualFold(cfg.Logging.Format, "text"),
			})
		case "file":
			logger = logger.WithFileWriter(models.WriterConfiguration{
				Type:       models.LogWriterTypeFile,
				FileName:   "logs/colligo.log",
				TimeFormat: "15:04:05",
				MaxSize:    100 * 1024 * 1024,
				MaxBackups: 5,
			})
		}
	}

	logger = logger.WithLevelFromString(cfg.Logging.Level)

	loggerMu.Lock()
	globalLogger = logger
	loggerMu.Unlock()

	return logger
}

// GetLogger returns the global logger, creating a console-only fallback
// if InitLogger has not run yet.
func GetLogger() arbor.ILogger {
	loggerMu.RLock()
	if globalLogger != nil {
		defer loggerMu.RUnlock()
		return globalLogger
	}
	loggerMu.RUnlock()

	loggerMu.Lock()
	defer loggerMu.Unlock()

	if globalLogger == nil {
		globalLogger = arbor.NewLogger().WithConsoleWriter(models.WriterConfiguration{
			Type:       models.LogWriterTypeConsole,
			TimeFormat: "15:04:05",
			TextOutput: true,
		}).WithLevelFromString("info")
	}

	return globalLogger
}
