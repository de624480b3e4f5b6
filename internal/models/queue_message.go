package models

import (
	"errors"
	"time"
)

// ErrNoMessage is returned when the queue is empty
var ErrNoMessage = errors.New("no messages in queue")

// Queue band names, in strict pop-precedence order
const (
	QueueHigh   = "high"
	QueueMedium = "medium"
	QueueLow    = "low"
)

// BandForPriority maps a 1..10 submission priority onto a queue band.
// Values outside the range clamp to the nearest band.
func BandForPriority(priority int) string {
	switch {
	case priority <= 3:
		return QueueHigh
	case priority <= 7:
		return QueueMedium
	default:
		return QueueLow
	}
}

// QueueMessage is the envelope stored in the queue around a work item.
// Delivery bookkeeping lives here so the work item itself stays immutable.
type QueueMessage struct {
	ID           string    `json:"id"`            // Unique message ID
	Band         string    `json:"band"`          // Priority band holding this message
	Item         WorkItem  `json:"item"`          // The scrape work to perform
	ReceiveCount int       `json:"receive_count"` // Times this message has been claimed
	VisibleAt    time.Time `json:"visible_at"`    // Hidden from pop until this instant (retry backoff)
	EnqueuedAt   time.Time `json:"enqueued_at"`
}
