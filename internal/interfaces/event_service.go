package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	// EventJobUpdate is the single job_updates topic. The payload is a
	// *models.JobUpdate describing one article transition (or a job-level
	// snapshot when ArticleID is empty, as on creation and cancellation).
	EventJobUpdate EventType = "job_update"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// Subscription identifies one registered handler so it can be removed
type Subscription struct {
	ID   string
	Type EventType
}

// EventService manages the pub/sub event bus. Delivery is best-effort
// fan-out with no persistence; events published while a subscriber is
// absent are not replayed. Events from one publisher are delivered to
// each subscriber in publish order.
type EventService interface {
	// Subscribe registers a handler for an event type and returns the
	// handle to unsubscribe with
	Subscribe(eventType EventType, handler EventHandler) (*Subscription, error)

	// Unsubscribe removes a previously registered handler
	Unsubscribe(sub *Subscription) error

	// Publish queues an event for every subscriber without blocking.
	// A subscriber whose buffer is full misses the event.
	Publish(ctx context.Context, event Event) error

	// PublishSync delivers the event in-line and waits for every handler.
	// It bypasses the subscriber queues, so it is not ordered relative to
	// Publish traffic.
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
