package badger

import (
	"context"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

// applyTerminality moves a job whose counters account for every attached
// article into its terminal status and stamps completion. A job with no
// successful article at all ends failed; any other full counter set ends
// completed.
func applyTerminality(job *models.Job, now time.Time) {
	if job.IsTerminal() || !job.CountersFull() {
		return
	}
	if job.TotalArticles > 0 && job.CompletedCount == 0 {
		job.Status = models.JobStatusFailed
		job.Error = "all articles failed"
	} else {
		job.Status = models.JobStatusCompleted
	}
	job.CompletedAt = &now
	job.UpdatedAt = now
}

// CreateJob stores a new job. Attached article statuses are re-read inside
// the transaction so articles that turned terminal between dedup and this
// call are counted; each attached article row is also written, which
// forces a commit conflict against any concurrent terminal transition of
// the same article (one of the two retries and observes the other).
func (s *JobStorage) CreateJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}

	var stored models.Job
	err := s.db.Update(func(tx *badgerdb.Txn) error {
		stored = *job
		now := time.Now()

		completed, failed := 0, 0
		stored.SettledArticleIDs = nil
		for _, articleID := range stored.ArticleIDs {
			var article models.Article
			if err := s.db.Store().TxGet(tx, articleID, &article); err != nil {
				if err == badgerhold.ErrNotFound {
					return fmt.Errorf("%w: %s", interfaces.ErrArticleNotFound, articleID)
				}
				return fmt.Errorf("failed to read attached article %s: %w", articleID, err)
			}
			switch article.Status {
			case models.ArticleStatusScraped:
				completed++
				stored.SettledArticleIDs = append(stored.SettledArticleIDs, articleID)
			case models.ArticleStatusFailed:
				failed++
				stored.SettledArticleIDs = append(stored.SettledArticleIDs, articleID)
			}
			article.UpdatedAt = now
			if err := s.db.Store().TxUpdate(tx, articleID, article); err != nil {
				return fmt.Errorf("failed to touch attached article %s: %w", articleID, err)
			}
		}

		stored.CompletedCount = completed
		stored.FailedCount = failed
		stored.Status = models.JobStatusInProgress
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
		stored.UpdatedAt = now
		applyTerminality(&stored, now)

		if err := s.db.Store().TxInsert(tx, stored.ID, stored); err != nil {
			return fmt.Errorf("failed to insert job: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if stored.IsTerminal() {
		s.logger.Debug().
			Str("job_id", stored.ID).
			Str("status", string(stored.Status)).
			Msg("Job terminal at creation, all attached articles already settled")
	}

	*job = stored
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	query := badgerhold.Where("ID").Ne("")

	if opts != nil {
		if opts.Status != "" {
			query = query.And("Status").Eq(models.JobStatus(opts.Status))
		}
		if opts.Skip > 0 {
			query = query.Skip(opts.Skip)
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
	}
	query = query.SortBy("CreatedAt").Reverse()

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) CountJobs(ctx context.Context, status string) (int, error) {
	query := badgerhold.Where("ID").Ne("")
	if status != "" {
		query = query.And("Status").Eq(models.JobStatus(status))
	}

	count, err := s.db.Store().Count(&models.Job{}, query)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return int(count), nil
}

func (s *JobStorage) CountJobsByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	statuses := []models.JobStatus{
		models.JobStatusPending,
		models.JobStatusInProgress,
		models.JobStatusCompleted,
		models.JobStatusFailed,
		models.JobStatusCancelled,
	}

	result := make(map[models.JobStatus]int, len(statuses))
	for _, status := range statuses {
		count, err := s.db.Store().Count(&models.Job{}, badgerhold.Where("Status").Eq(status))
		if err != nil {
			return nil, fmt.Errorf("failed to count jobs by status: %w", err)
		}
		result[status] = int(count)
	}
	return result, nil
}

// UpdateJobCounters atomically adds to the progress counters. Late
// increments against a terminal job (a cancelled job whose in-flight
// article finished anyway) are dropped without error.
func (s *JobStorage) UpdateJobCounters(ctx context.Context, jobID string, deltaCompleted, deltaFailed int) (*models.Job, error) {
	var job models.Job
	err := s.db.Update(func(tx *badgerdb.Txn) error {
		job = models.Job{}
		if err := s.db.Store().TxGet(tx, jobID, &job); err != nil {
			if err == badgerhold.ErrNotFound {
				return fmt.Errorf("%w: %s", interfaces.ErrJobNotFound, jobID)
			}
			return fmt.Errorf("failed to get job: %w", err)
		}
		if job.IsTerminal() {
			return nil
		}

		now := time.Now()
		job.CompletedCount += deltaCompleted
		job.FailedCount += deltaFailed
		job.UpdatedAt = now
		applyTerminality(&job, now)

		if err := s.db.Store().TxUpdate(tx, jobID, job); err != nil {
			return fmt.Errorf("failed to update job counters: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *JobStorage) SetJobStatus(ctx context.Context, jobID string, status models.JobStatus, errorMessage string) (*models.Job, error) {
	var job models.Job
	err := s.db.Update(func(tx *badgerdb.Txn) error {
		job = models.Job{}
		if err := s.db.Store().TxGet(tx, jobID, &job); err != nil {
			if err == badgerhold.ErrNotFound {
				return fmt.Errorf("%w: %s", interfaces.ErrJobNotFound, jobID)
			}
			return fmt.Errorf("failed to get job: %w", err)
		}
		if job.IsTerminal() {
			return fmt.Errorf("%w: %s is %s", interfaces.ErrJobTerminal, jobID, job.Status)
		}

		now := time.Now()
		job.Status = status
		if errorMessage != "" {
			job.Error = errorMessage
		}
		job.UpdatedAt = now
		if job.IsTerminal() && job.CompletedAt == nil {
			job.CompletedAt = &now
		}

		if err := s.db.Store().TxUpdate(tx, jobID, job); err != nil {
			return fmt.Errorf("failed to set job status: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *JobStorage) ListJobsForArticle(ctx context.Context, articleID string) ([]*models.Job, error) {
	var jobs []models.Job
	err := s.db.Store().Find(&jobs, badgerhold.Where("ArticleIDs").Contains(articleID))
	if err != nil {
		return nil, fmt.Errorf("failed to find jobs for article: %w", err)
	}

	result := make([]*models.Job, 0, len(jobs))
	for i := range jobs {
		result = append(result, &jobs[i])
	}
	return result, nil
}
