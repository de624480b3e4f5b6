// -----------------------------------------------------------------------
// WebSocket log relay - mirrors logger output onto the all-jobs stream
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"strings"
	"sync"

	"github.com/phuslu/log"
	"github.com/ternarybob/arbor/levels"
	arbormodels "github.com/ternarybob/arbor/models"

	"github.com/ternarybob/colligo/internal/common"
)

// defaultExcludePatterns drops chatty transport-level lines that would
// otherwise drown the stream in its own delivery reports.
var defaultExcludePatterns = []string{
	"WebSocket client",
	"HTTP request",
	"Broadcast",
}

// WebSocketLogRelay drains log batches off a registered logger channel and
// forwards the interesting lines to every connected all-jobs client. The
// channel it exposes is meant to be handed to the logger via SetChannel.
type WebSocketLogRelay struct {
	handler         *WebSocketHandler
	channel         chan []arbormodels.LogEvent
	minLevel        levels.LogLevel
	excludePatterns []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWebSocketLogRelay creates a relay filtered per the websocket config.
func NewWebSocketLogRelay(handler *WebSocketHandler, wsConfig *common.WebSocketConfig) *WebSocketLogRelay {
	minLevel := levels.InfoLevel
	excludePatterns := defaultExcludePatterns

	if wsConfig != nil {
		if wsConfig.MinLevel != "" {
			minLevel = parseLogLevel(wsConfig.MinLevel)
		}
		if len(wsConfig.ExcludePatterns) > 0 {
			excludePatterns = wsConfig.ExcludePatterns
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WebSocketLogRelay{
		handler:         handler,
		channel:         make(chan []arbormodels.LogEvent, 10),
		minLevel:        minLevel,
		excludePatterns: excludePatterns,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Channel returns the batch channel to register on the logger.
func (r *WebSocketLogRelay) Channel() chan []arbormodels.LogEvent {
	return r.channel
}

// Start launches the consumer goroutine.
func (r *WebSocketLogRelay) Start() {
	r.wg.Add(1)
	go r.consume()
}

// Stop halts the consumer and waits for it to drain.
func (r *WebSocketLogRelay) Stop() {
	r.cancel()
	r.wg.Wait()
}

func (r *WebSocketLogRelay) consume() {
	defer r.wg.Done()

	for {
		select {
		case batch, ok := <-r.channel:
			if !ok {
				return
			}
			for _, event := range batch {
				r.forward(event)
			}
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *WebSocketLogRelay) forward(event arbormodels.LogEvent) {
	level := plogToArborLevel(event.Level)
	if level < r.minLevel {
		return
	}
	for _, pattern := range r.excludePatterns {
		if strings.Contains(event.Message, pattern) {
			return
		}
	}

	r.handler.BroadcastLog(LogEntry{
		Timestamp: event.Timestamp.Format("15:04:05"),
		Level:     mapLevel(level),
		Message:   event.Message,
	})
}

// plogToArborLevel converts the level carried on a log event into the
// arbor level used for threshold comparison.
func plogToArborLevel(l log.Level) levels.LogLevel {
	switch l {
	case log.TraceLevel:
		return levels.TraceLevel
	case log.DebugLevel:
		return levels.DebugLevel
	case log.InfoLevel:
		return levels.InfoLevel
	case log.WarnLevel:
		return levels.WarnLevel
	case log.ErrorLevel:
		return levels.ErrorLevel
	case log.FatalLevel:
		return levels.FatalLevel
	case log.PanicLevel:
		return levels.PanicLevel
	default:
		return levels.InfoLevel
	}
}

// parseLogLevel maps a config string onto an arbor level, defaulting to info.
func parseLogLevel(s string) levels.LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return levels.TraceLevel
	case "debug":
		return levels.DebugLevel
	case "info":
		return levels.InfoLevel
	case "warn", "warning":
		return levels.WarnLevel
	case "error":
		return levels.ErrorLevel
	case "fatal":
		return levels.FatalLevel
	default:
		return levels.InfoLevel
	}
}

// mapLevel renders an arbor level as the short lowercase form clients show.
func mapLevel(l levels.LogLevel) string {
	switch l {
	case levels.TraceLevel:
		return "trace"
	case levels.DebugLevel:
		return "debug"
	case levels.InfoLevel:
		return "info"
	case levels.WarnLevel:
		return "warn"
	case levels.ErrorLevel:
		return "error"
	case levels.FatalLevel:
		return "fatal"
	case levels.PanicLevel:
		return "panic"
	default:
		return "info"
	}
}
