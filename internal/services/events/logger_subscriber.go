package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// NewLoggerSubscriber creates an event handler that mirrors bus traffic
// into the log
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		logEvent := logger.Debug().
			Str("event_type", string(event.Type))

		if update, ok := event.Payload.(*models.JobUpdate); ok {
			logEvent = logEvent.Str("job_id", update.JobID)
			if update.ArticleID != "" {
				logEvent = logEvent.Str("article_id", update.ArticleID)
			}
			if update.Status != "" {
				logEvent = logEvent.Str("status", update.Status)
			}
			logEvent = logEvent.
				Int("completed", update.Completed).
				Int("total", update.Total)
		}

		logEvent.Msg("Event published")

		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the log mirror to all known event types
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	eventTypes := []interfaces.EventType{
		interfaces.EventJobUpdate,
	}

	for _, eventType := range eventTypes {
		if _, err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
	}

	return nil
}
