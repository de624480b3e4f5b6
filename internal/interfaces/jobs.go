package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/colligo/internal/models"
)

// Sentinel errors surfaced by the job service
var (
	ErrJobTerminal = errors.New("job is already in a terminal state")
	ErrEmptyBatch  = errors.New("batch contains no articles")
	ErrInvalidURL  = errors.New("invalid article url")
)

// SubmitArticle is one requested URL within a submission batch
type SubmitArticle struct {
	URL      string
	Source   string
	Category string
	Priority int // 1..10, lower is more urgent
}

// ArticleResult pairs an article with whether this job reused cached
// content (the scrape predates the job) or scheduled the scrape itself.
type ArticleResult struct {
	Article *models.Article
	Cached  bool
}

// JobResults is the full per-article detail for one job
type JobResults struct {
	Job      *models.Job
	Articles []ArticleResult
}

// SystemStats is the operational snapshot served by the stats endpoint
type SystemStats struct {
	Jobs     map[models.JobStatus]int     `json:"jobs"`
	Articles map[models.ArticleStatus]int `json:"articles"`
	Queue    map[string]int               `json:"queue"`
}

// JobService coordinates submission, status, results, and cancellation
type JobService interface {
	// SubmitJob deduplicates the batch, creates the job, enqueues work for
	// articles that need scraping, and returns the stored job.
	SubmitJob(ctx context.Context, name, source string, articles []SubmitArticle) (*models.Job, error)

	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	GetJobResults(ctx context.Context, jobID string) (*JobResults, error)
	ListJobs(ctx context.Context, opts *JobListOptions) ([]*models.Job, int, error)

	// CancelJob rejects terminal jobs with ErrJobTerminal; otherwise it
	// cancels the job, drains its queued work, and returns the drain count.
	CancelJob(ctx context.Context, jobID string) (int, error)

	Stats(ctx context.Context) (*SystemStats, error)
}
