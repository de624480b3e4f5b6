// -----------------------------------------------------------------------
// Job - Batch submission tracking with cumulative progress counters
// -----------------------------------------------------------------------

package models

import "time"

// JobStatus represents the state of a scrape job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Job represents one submitted batch of article URLs.
//
// Batch composition is fixed at creation time: TotalArticles, NewArticles
// and CachedArticles never change after the job is stored. Progress
// counters advance as attached articles reach scraped or failed, and the
// job becomes terminal exactly when the counters account for every
// attached article.
type Job struct {
	ID     string `json:"id"`               // job_{12 hex chars}
	Name   string `json:"name,omitempty"`   // Optional display name
	Source string `json:"source,omitempty"` // "api" or the scheduled definition that submitted it

	Status JobStatus `json:"status" badgerhold:"index"`

	// ArticleIDs lists every attached article in submission order,
	// cached and new alike.
	ArticleIDs []string `json:"article_ids"`

	// Batch composition, write-once at creation.
	// CachedArticles + NewArticles = TotalArticles.
	TotalArticles  int `json:"total_articles"`
	NewArticles    int `json:"new_articles"`
	CachedArticles int `json:"cached_articles"`

	// Progress counters. CompletedCount + FailedCount <= TotalArticles.
	CompletedCount int `json:"completed_count"`
	FailedCount    int `json:"failed_count"`

	// SettledArticleIDs records which attached articles the counters
	// already reflect. An article that failed for this job and is later
	// revived by another submission must not be counted a second time
	// when its retry settles.
	SettledArticleIDs []string `json:"-"`

	Error string `json:"error,omitempty"` // Populated when the job ends failed or cancelled

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"` // Set once, when the job turns terminal
}

// IsTerminal returns true when the job can no longer change state
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// HasSettled returns true when the article is already reflected in the
// progress counters
func (j *Job) HasSettled(articleID string) bool {
	for _, id := range j.SettledArticleIDs {
		if id == articleID {
			return true
		}
	}
	return false
}

// CountersFull returns true when every attached article is accounted for
func (j *Job) CountersFull() bool {
	return j.CompletedCount+j.FailedCount >= j.TotalArticles
}

// PendingCount returns the number of attached articles still outstanding
func (j *Job) PendingCount() int {
	pending := j.TotalArticles - j.CompletedCount - j.FailedCount
	if pending < 0 {
		return 0
	}
	return pending
}
