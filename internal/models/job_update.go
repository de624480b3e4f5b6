package models

import "time"

// EventTypeJobUpdate is the type discriminator on every job update event
const EventTypeJobUpdate = "job_update"

// JobUpdate is the event published on the job_updates topic whenever an
// attached article changes status. Status carries the article status after
// the transition; the counters reflect the owning job after the same
// transition was applied.
type JobUpdate struct {
	Type      string    `json:"type"` // Always "job_update"
	JobID     string    `json:"job_id"`
	ArticleID string    `json:"article_id,omitempty"`
	Status    string    `json:"status"` // Article status after the transition
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	Total     int       `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}

// NewJobUpdate builds a job update event for one article transition
func NewJobUpdate(job *Job, articleID string, articleStatus ArticleStatus) *JobUpdate {
	return &JobUpdate{
		Type:      EventTypeJobUpdate,
		JobID:     job.ID,
		ArticleID: articleID,
		Status:    string(articleStatus),
		Completed: job.CompletedCount,
		Failed:    job.FailedCount,
		Total:     job.TotalArticles,
		Timestamp: time.Now(),
	}
}

// NewJobSnapshot builds a job-level update with no article attached.
// Status carries the job status instead; published on creation and
// cancellation.
func NewJobSnapshot(job *Job) *JobUpdate {
	return &JobUpdate{
		Type:      EventTypeJobUpdate,
		JobID:     job.ID,
		Status:    string(job.Status),
		Completed: job.CompletedCount,
		Failed:    job.FailedCount,
		Total:     job.TotalArticles,
		Timestamp: time.Now(),
	}
}
