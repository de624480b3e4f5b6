// -----------------------------------------------------------------------
// Job Service - submission, lookup, cancellation and system stats
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Service coordinates the submission pipeline: dedup, job creation,
// queue publication and the job_updates event stream.
type Service struct {
	jobs     interfaces.JobStorage
	articles interfaces.ArticleStorage
	dedup    interfaces.DedupService
	queue    interfaces.QueueManager
	events   interfaces.EventService
	logger   arbor.ILogger
}

// NewService creates a new job service
func NewService(storage interfaces.StorageManager, dedup interfaces.DedupService, queue interfaces.QueueManager, events interfaces.EventService, logger arbor.ILogger) interfaces.JobService {
	return &Service{
		jobs:     storage.JobStorage(),
		articles: storage.ArticleStorage(),
		dedup:    dedup,
		queue:    queue,
		events:   events,
		logger:   logger,
	}
}

// SubmitJob deduplicates the batch, stores the job, then enqueues a work
// item for every article the batch reserved for scraping. The job row is
// written before any queue publication so a worker can never pop an item
// whose job does not exist yet.
func (s *Service) SubmitJob(ctx context.Context, name, source string, articles []interfaces.SubmitArticle) (*models.Job, error) {
	if len(articles) == 0 {
		return nil, interfaces.ErrEmptyBatch
	}

	results, err := s.dedup.Resolve(ctx, articles)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve batch: %w", err)
	}

	job := &models.Job{
		ID:     common.NewJobID(),
		Name:   name,
		Source: source,
	}
	for _, result := range results {
		job.ArticleIDs = append(job.ArticleIDs, result.Article.ID)
		if result.Class == interfaces.DedupHit {
			job.CachedArticles++
		}
	}
	job.TotalArticles = len(results)
	job.NewArticles = job.TotalArticles - job.CachedArticles

	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	enqueued := 0
	for _, result := range results {
		if result.Class != interfaces.DedupMissEnqueue {
			continue
		}
		item := &models.WorkItem{
			JobID:     job.ID,
			ArticleID: result.Article.ID,
			URL:       result.Article.URL,
			Priority:  result.Article.Priority,
		}
		band := models.BandForPriority(result.Article.Priority)
		if err := s.queue.PushTail(ctx, band, item); err != nil {
			s.logger.Error().Err(err).
				Str("job_id", job.ID).
				Str("article_id", result.Article.ID).
				Msg("Failed to enqueue work item")
			continue
		}
		enqueued++
	}

	s.publishSnapshot(ctx, job)

	s.logger.Info().
		Str("job_id", job.ID).
		Str("status", string(job.Status)).
		Int("total", job.TotalArticles).
		Int("new", job.NewArticles).
		Int("cached", job.CachedArticles).
		Int("enqueued", enqueued).
		Msg("Job submitted")

	return job, nil
}

// GetJob returns the stored job
func (s *Service) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	return s.jobs.GetJob(ctx, jobID)
}

// GetJobResults loads the job plus every attached article. An article
// counts as cached when its scrape predates the job, meaning this job
// reused content rather than scheduling the scrape.
func (s *Service) GetJobResults(ctx context.Context, jobID string) (*interfaces.JobResults, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	stored, err := s.articles.GetArticles(ctx, job.ArticleIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load job articles: %w", err)
	}

	results := make([]interfaces.ArticleResult, 0, len(stored))
	for _, article := range stored {
		results = append(results, interfaces.ArticleResult{
			Article: article,
			Cached:  article.ScrapedAt != nil && article.ScrapedAt.Before(job.CreatedAt),
		})
	}

	return &interfaces.JobResults{Job: job, Articles: results}, nil
}

// ListJobs returns one page of jobs plus the total count of the
// filtered set for pagination.
func (s *Service) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, int, error) {
	if opts == nil {
		opts = &interfaces.JobListOptions{}
	}

	listed, err := s.jobs.ListJobs(ctx, opts)
	if err != nil {
		return nil, 0, err
	}

	total, err := s.jobs.CountJobs(ctx, opts.Status)
	if err != nil {
		return nil, 0, err
	}

	return listed, total, nil
}

// CancelJob transitions a non-terminal job to cancelled, drains its
// queued work items, and publishes the final cancellation event. The
// status write happens first so in-flight workers drop the job's items
// before the drain completes.
func (s *Service) CancelJob(ctx context.Context, jobID string) (int, error) {
	job, err := s.jobs.SetJobStatus(ctx, jobID, models.JobStatusCancelled, "cancelled by request")
	if err != nil {
		return 0, err
	}

	drained, err := s.queue.DrainMatching(ctx, jobID)
	if err != nil {
		// The job is already cancelled; workers discard any stragglers
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to drain cancelled job's queue entries")
	}

	s.publishSnapshot(ctx, job)

	s.logger.Info().
		Str("job_id", jobID).
		Int("drained", drained).
		Msg("Job cancelled")

	return drained, nil
}

// Stats assembles the operational snapshot: job and article counts by
// status plus queue depth per band.
func (s *Service) Stats(ctx context.Context) (*interfaces.SystemStats, error) {
	jobCounts, err := s.jobs.CountJobsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	articleCounts, err := s.articles.CountArticlesByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count articles: %w", err)
	}

	queueLengths, err := s.queue.Lengths(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue lengths: %w", err)
	}

	return &interfaces.SystemStats{
		Jobs:     jobCounts,
		Articles: articleCounts,
		Queue:    queueLengths,
	}, nil
}

// publishSnapshot emits a job-level event on the job_updates stream.
// Best effort; a publish failure never fails the operation that caused it.
func (s *Service) publishSnapshot(ctx context.Context, job *models.Job) {
	event := interfaces.Event{
		Type:    interfaces.EventJobUpdate,
		Payload: models.NewJobSnapshot(job),
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to publish job snapshot")
	}
}
