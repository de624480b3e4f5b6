package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/colligo/internal/models"
)

// Sentinel errors surfaced by storage implementations
var (
	ErrJobNotFound        = errors.New("job not found")
	ErrArticleNotFound    = errors.New("article not found")
	ErrPreconditionFailed = errors.New("article status precondition failed")
)

// JobListOptions narrows ListJobs results
type JobListOptions struct {
	Status string // Filter by job status, empty = all
	Limit  int    // Page size, 0 = implementation default
	Skip   int    // Offset into the filtered set
}

// ArticlePatch is a partial article update. Nil fields are left untouched.
// When StatusPrecondition is set the patch applies only while the article
// holds that exact status; otherwise ErrPreconditionFailed is returned and
// nothing changes.
type ArticlePatch struct {
	Status             *models.ArticleStatus
	Title              *string
	Content            *string
	ErrorMessage       *string
	RetryCount         *int
	ScrapedAt          *time.Time
	StatusPrecondition *models.ArticleStatus
}

// ArticleTransition is the result of a terminal article update: the stored
// article after the patch plus every non-terminal job whose counters moved
// because of it, in their post-update state.
type ArticleTransition struct {
	Article     *models.Article
	UpdatedJobs []*models.Job
}

// JobStorage - interface for job persistence
type JobStorage interface {
	// CreateJob stores a new job. Attached article statuses are re-read
	// inside the same transaction and the progress counters (and possibly
	// a terminal status) are recomputed before the write, so articles that
	// finished between dedup and creation are never missed.
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, opts *JobListOptions) ([]*models.Job, error)
	CountJobs(ctx context.Context, status string) (int, error)
	CountJobsByStatus(ctx context.Context) (map[models.JobStatus]int, error)

	// UpdateJobCounters atomically adds to the progress counters and
	// returns the job post-update. Concurrent increments never lose
	// updates. Terminality is evaluated in the same transaction.
	UpdateJobCounters(ctx context.Context, jobID string, deltaCompleted, deltaFailed int) (*models.Job, error)

	// SetJobStatus transitions the job status and returns the job
	// post-update. Stamps CompletedAt when the new status is terminal.
	SetJobStatus(ctx context.Context, jobID string, status models.JobStatus, errorMessage string) (*models.Job, error)

	// ListJobsForArticle returns every job that attached the article
	ListJobsForArticle(ctx context.Context, articleID string) ([]*models.Job, error)
}

// ArticleStorage - interface for article persistence
type ArticleStorage interface {
	// UpsertArticlePending inserts the article if its URL is unknown.
	// Exactly one of N concurrent callers for the same URL observes
	// existed=false; the rest receive the winner's stored article.
	UpsertArticlePending(ctx context.Context, article *models.Article) (*models.Article, bool, error)

	GetArticle(ctx context.Context, id string) (*models.Article, error)
	GetArticleByURL(ctx context.Context, url string) (*models.Article, error)
	GetArticles(ctx context.Context, ids []string) ([]*models.Article, error)

	// UpdateArticle applies a patch without touching any job
	UpdateArticle(ctx context.Context, id string, patch *ArticlePatch) (*models.Article, error)

	// TransitionArticle applies a patch and, when the patch lands the
	// article in a terminal status, propagates the counter change to every
	// non-terminal job referencing it within the same transaction.
	TransitionArticle(ctx context.Context, id string, patch *ArticlePatch) (*ArticleTransition, error)

	IncrementArticleReference(ctx context.Context, id string) error

	// ListStaleArticles returns articles in the given status whose last
	// update predates the cutoff. Used by the maintenance sweep to find
	// scrapes orphaned by crashed workers and pending articles whose
	// queue entry was lost.
	ListStaleArticles(ctx context.Context, status models.ArticleStatus, cutoff time.Time) ([]*models.Article, error)

	CountArticlesByStatus(ctx context.Context) (map[models.ArticleStatus]int, error)
}

// StorageManager - composite interface for all storage operations
type StorageManager interface {
	JobStorage() JobStorage
	ArticleStorage() ArticleStorage
	DB() interface{}
	Close() error
}
