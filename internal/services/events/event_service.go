package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// subscriberBuffer is the per-subscriber queue depth. A subscriber that
// falls this far behind starts missing events.
const subscriberBuffer = 256

type subscriber struct {
	id      string
	handler interfaces.EventHandler
	ch      chan interfaces.Event
}

// Service implements EventService with one dispatch goroutine per
// subscriber. Publishing appends to each subscriber's queue, so every
// subscriber observes one publisher's events in publish order while a
// slow handler only ever delays its own queue.
type Service struct {
	subscribers map[interfaces.EventType][]*subscriber
	mu          sync.RWMutex
	closed      bool
	wg          sync.WaitGroup
	logger      arbor.ILogger
}

// NewService creates a new event service
func NewService(logger arbor.ILogger) interfaces.EventService {
	return &Service{
		subscribers: make(map[interfaces.EventType][]*subscriber),
		logger:      logger,
	}
}

// Subscribe registers a handler and starts its dispatch goroutine
func (s *Service) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) (*interfaces.Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("event service is closed")
	}

	sub := &subscriber{
		id:      uuid.New().String(),
		handler: handler,
		ch:      make(chan interfaces.Event, subscriberBuffer),
	}
	s.subscribers[eventType] = append(s.subscribers[eventType], sub)

	s.wg.Add(1)
	go s.dispatch(eventType, sub)

	s.logger.Debug().
		Str("event_type", string(eventType)).
		Int("subscriber_count", len(s.subscribers[eventType])).
		Msg("Event handler subscribed")

	return &interfaces.Subscription{ID: sub.id, Type: eventType}, nil
}

// dispatch drains one subscriber's queue until the channel is closed
func (s *Service) dispatch(eventType interfaces.EventType, sub *subscriber) {
	defer s.wg.Done()

	for event := range sub.ch {
		if err := sub.handler(context.Background(), event); err != nil {
			s.logger.Error().
				Err(err).
				Str("event_type", string(eventType)).
				Msg("Event handler failed")
		}
	}
}

// Unsubscribe removes a handler and stops its dispatch goroutine once the
// queued events have been delivered
func (s *Service) Unsubscribe(sub *interfaces.Subscription) error {
	if sub == nil {
		return fmt.Errorf("subscription cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subscribers[sub.Type]
	for i, candidate := range subs {
		if candidate.id == sub.ID {
			s.subscribers[sub.Type] = append(subs[:i], subs[i+1:]...)
			close(candidate.ch)
			s.logger.Debug().
				Str("event_type", string(sub.Type)).
				Msg("Event handler unsubscribed")
			return nil
		}
	}

	return fmt.Errorf("subscription not found for event type: %s", sub.Type)
}

// Publish queues an event for all subscribers without blocking. Channel
// sends happen under the read lock, which is what keeps them safe against
// the channel closes in Unsubscribe and Close.
func (s *Service) Publish(ctx context.Context, event interfaces.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subs := s.subscribers[event.Type]
	if len(subs) == 0 {
		return nil
	}

	for _, sub := range subs {
		select {
		case sub.ch <- event:
		default:
			s.logger.Warn().
				Str("event_type", string(event.Type)).
				Msg("Subscriber queue full, dropping event")
		}
	}
	return nil
}

// PublishSync delivers the event in-line and waits for every handler
func (s *Service) PublishSync(ctx context.Context, event interfaces.Event) error {
	s.mu.RLock()
	subs := make([]*subscriber, len(s.subscribers[event.Type]))
	copy(subs, s.subscribers[event.Type])
	s.mu.RUnlock()

	if len(subs) == 0 {
		return nil
	}

	failures := 0
	for _, sub := range subs {
		if err := sub.handler(ctx, event); err != nil {
			s.logger.Error().
				Err(err).
				Str("event_type", string(event.Type)).
				Msg("Event handler failed")
			failures++
		}
	}

	if failures > 0 {
		return fmt.Errorf("event handlers failed: %d errors", failures)
	}
	return nil
}

// Close stops all dispatch goroutines after their queues drain
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	for _, subs := range s.subscribers {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	s.subscribers = make(map[interfaces.EventType][]*subscriber)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("Event service closed")
	return nil
}
