package handlers

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"golang.org/x/time/rate"
)

// EventSubscriber bridges the job_updates bus topic to the WebSocket
// broadcaster. One bus subscription feeds every connection; the handler
// works out per-client delivery from its registries.
type EventSubscriber struct {
	handler       *WebSocketHandler
	eventService  interfaces.EventService
	logger        arbor.ILogger
	allowedEvents map[string]bool          // Whitelist of events to broadcast (empty = allow all)
	throttlers    map[string]*rate.Limiter // Rate limiters for high-frequency events
	subscription  *interfaces.Subscription
}

// NewEventSubscriber creates the subscriber and registers it on the bus
// with config-driven filtering and throttling.
func NewEventSubscriber(handler *WebSocketHandler, eventService interfaces.EventService, logger arbor.ILogger, config *common.WebSocketConfig) *EventSubscriber {
	s := &EventSubscriber{
		handler:      handler,
		eventService: eventService,
		logger:       logger,
	}

	// Empty whitelist means allow all event types
	s.allowedEvents = make(map[string]bool)
	if config != nil && len(config.AllowedEvents) > 0 {
		for _, eventType := range config.AllowedEvents {
			s.allowedEvents[eventType] = true
		}
	}

	s.throttlers = make(map[string]*rate.Limiter)
	if config != nil && len(config.ThrottleIntervals) > 0 {
		for eventType, intervalStr := range config.ThrottleIntervals {
			if duration, err := time.ParseDuration(intervalStr); err == nil {
				// 1 event per interval, burst of 1
				s.throttlers[eventType] = rate.NewLimiter(rate.Every(duration), 1)
				logger.Debug().
					Str("event_type", eventType).
					Str("interval", intervalStr).
					Msg("Throttler initialized for event type")
			} else {
				logger.Warn().
					Err(err).
					Str("event_type", eventType).
					Str("interval", intervalStr).
					Msg("Failed to parse throttle interval - skipping throttler")
			}
		}
	}

	if eventService == nil {
		logger.Warn().Msg("EventSubscriber created with nil eventService - subscription skipped")
		return s
	}

	s.Start()
	return s
}

// Start registers the single job_updates subscription. Calling Start on
// an already started subscriber is a no-op.
func (s *EventSubscriber) Start() {
	if s.eventService == nil || s.subscription != nil {
		return
	}

	sub, err := s.eventService.Subscribe(interfaces.EventJobUpdate, s.handleJobUpdate)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to subscribe to job updates")
		return
	}

	s.subscription = sub
	s.logger.Info().Msg("EventSubscriber registered for job update events")
}

// Stop removes the bus subscription. Connected clients stay up but stop
// receiving events.
func (s *EventSubscriber) Stop() {
	if s.eventService == nil || s.subscription == nil {
		return
	}

	if err := s.eventService.Unsubscribe(s.subscription); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to unsubscribe from job updates")
	}
	s.subscription = nil
}

func (s *EventSubscriber) handleJobUpdate(ctx context.Context, event interfaces.Event) error {
	update, ok := event.Payload.(*models.JobUpdate)
	if !ok {
		s.logger.Warn().Msg("Invalid job update event payload type")
		return nil
	}

	if !s.shouldBroadcast(update) {
		return nil
	}

	s.handler.BroadcastJobUpdate(update)
	return nil
}

// shouldBroadcast applies the whitelist and throttling. Job-level
// snapshots (no article attached) always pass the throttler so clients
// never miss creation or cancellation.
func (s *EventSubscriber) shouldBroadcast(update *models.JobUpdate) bool {
	if len(s.allowedEvents) > 0 && !s.allowedEvents[update.Type] {
		return false
	}

	if update.ArticleID == "" {
		return true
	}

	if limiter, ok := s.throttlers[update.Type]; ok {
		if !limiter.Allow() {
			s.logger.Debug().
				Str("event_type", update.Type).
				Str("job_id", update.JobID).
				Msg("Event throttled - rate limit exceeded")
			return false
		}
	}

	return true
}
