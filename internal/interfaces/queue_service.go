package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/colligo/internal/models"
)

// QueueManager manages the three-band persistent work queue.
// Within a band messages are FIFO; across bands high is fully drained
// before medium is considered, and medium before low.
type QueueManager interface {
	// PushTail appends an item to the back of a band (normal enqueue)
	PushTail(ctx context.Context, band string, item *models.WorkItem) error

	// PushHead inserts at the front of a band so the item is delivered
	// ahead of waiting tail entries. Used for retries.
	PushHead(ctx context.Context, band string, item *models.WorkItem) error

	// PushHeadDelayed is PushHead with the item hidden until the delay
	// elapses. Carries retry backoff without sleeping in the worker.
	PushHeadDelayed(ctx context.Context, band string, item *models.WorkItem, delay time.Duration) error

	// Pop atomically scans high, medium, low and claims the first visible
	// message. The claim hides the message for the visibility timeout;
	// the returned func acknowledges (deletes) it. Returns
	// models.ErrNoMessage when every band is empty.
	Pop(ctx context.Context) (*models.QueueMessage, func() error, error)

	// Extend pushes out the visibility deadline of a claimed message
	Extend(ctx context.Context, band, messageID string, duration time.Duration) error

	// DrainMatching removes every message whose work item belongs to the
	// given job, claimed or not. Returns the number removed.
	DrainMatching(ctx context.Context, jobID string) (int, error)

	// ContainsArticle reports whether any band holds a message for the
	// article, claimed or not
	ContainsArticle(ctx context.Context, articleID string) (bool, error)

	// Lengths reports the number of stored messages per band
	Lengths(ctx context.Context) (map[string]int, error)

	Close() error
}

// WorkerPool manages the concurrent scrape workers
type WorkerPool interface {
	Start() error
	Stop() error
}
