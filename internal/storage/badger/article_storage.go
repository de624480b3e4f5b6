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

// ArticleStorage implements the ArticleStorage interface for Badger
type ArticleStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewArticleStorage creates a new ArticleStorage instance
func NewArticleStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ArticleStorage {
	return &ArticleStorage{
		db:     db,
		logger: logger,
	}
}

func applyArticlePatch(article *models.Article, patch *interfaces.ArticlePatch, now time.Time) {
	if patch.Status != nil {
		article.Status = *patch.Status
	}
	if patch.Title != nil {
		article.Title = *patch.Title
	}
	if patch.Content != nil {
		article.Content = *patch.Content
	}
	if patch.ErrorMessage != nil {
		article.ErrorMessage = *patch.ErrorMessage
	}
	if patch.RetryCount != nil {
		article.RetryCount = *patch.RetryCount
	}
	if patch.ScrapedAt != nil {
		article.ScrapedAt = patch.ScrapedAt
	}
	article.UpdatedAt = now
}

// UpsertArticlePending inserts the article with a pending status unless a
// row for the same URL already exists. The unique index on URL turns a
// lost insert race into a conflict retry, so the loser re-reads and
// returns the winner's row.
func (s *ArticleStorage) UpsertArticlePending(ctx context.Context, article *models.Article) (*models.Article, bool, error) {
	var stored models.Article
	var existed bool

	err := s.db.Update(func(tx *badgerdb.Txn) error {
		stored = models.Article{}
		existed = false

		err := s.db.Store().TxFindOne(tx, &stored, badgerhold.Where("URL").Eq(article.URL))
		if err == nil {
			existed = true
			return nil
		}
		if err != badgerhold.ErrNotFound {
			return fmt.Errorf("failed to look up article by URL: %w", err)
		}

		now := time.Now()
		stored = *article
		stored.Status = models.ArticleStatusPending
		stored.RetryCount = 0
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
		stored.UpdatedAt = now

		if err := s.db.Store().TxInsert(tx, stored.ID, stored); err != nil {
			if err == badgerhold.ErrUniqueExists {
				return badgerdb.ErrConflict
			}
			return fmt.Errorf("failed to insert article: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &stored, existed, nil
}

func (s *ArticleStorage) GetArticle(ctx context.Context, id string) (*models.Article, error) {
	var article models.Article
	if err := s.db.Store().Get(id, &article); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrArticleNotFound, id)
		}
		return nil, fmt.Errorf("failed to get article: %w", err)
	}
	return &article, nil
}

func (s *ArticleStorage) GetArticleByURL(ctx context.Context, url string) (*models.Article, error) {
	var article models.Article
	if err := s.db.Store().FindOne(&article, badgerhold.Where("URL").Eq(url)); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: url %s", interfaces.ErrArticleNotFound, url)
		}
		return nil, fmt.Errorf("failed to find article by URL: %w", err)
	}
	return &article, nil
}

func (s *ArticleStorage) GetArticles(ctx context.Context, ids []string) ([]*models.Article, error) {
	articles := make([]*models.Article, 0, len(ids))
	for _, id := range ids {
		article, err := s.GetArticle(ctx, id)
		if err != nil {
			return nil, err
		}
		articles = append(articles, article)
	}
	return articles, nil
}

func (s *ArticleStorage) UpdateArticle(ctx context.Context, id string, patch *interfaces.ArticlePatch) (*models.Article, error) {
	var article models.Article
	err := s.db.Update(func(tx *badgerdb.Txn) error {
		article = models.Article{}
		if err := s.db.Store().TxGet(tx, id, &article); err != nil {
			if err == badgerhold.ErrNotFound {
				return fmt.Errorf("%w: %s", interfaces.ErrArticleNotFound, id)
			}
			return fmt.Errorf("failed to get article: %w", err)
		}
		if patch.StatusPrecondition != nil && article.Status != *patch.StatusPrecondition {
			return fmt.Errorf("%w: article %s is %s, expected %s",
				interfaces.ErrPreconditionFailed, id, article.Status, *patch.StatusPrecondition)
		}

		applyArticlePatch(&article, patch, time.Now())
		if err := s.db.Store().TxUpdate(tx, id, article); err != nil {
			return fmt.Errorf("failed to update article: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &article, nil
}

// TransitionArticle applies a patch and, when the article crosses into a
// terminal status, bumps the matching counter on every non-terminal job
// that references it and has not counted it yet. Article write and job
// writes commit together.
func (s *ArticleStorage) TransitionArticle(ctx context.Context, id string, patch *interfaces.ArticlePatch) (*interfaces.ArticleTransition, error) {
	var article models.Article
	var updatedJobs []*models.Job

	err := s.db.Update(func(tx *badgerdb.Txn) error {
		article = models.Article{}
		updatedJobs = nil

		if err := s.db.Store().TxGet(tx, id, &article); err != nil {
			if err == badgerhold.ErrNotFound {
				return fmt.Errorf("%w: %s", interfaces.ErrArticleNotFound, id)
			}
			return fmt.Errorf("failed to get article: %w", err)
		}
		if patch.StatusPrecondition != nil && article.Status != *patch.StatusPrecondition {
			return fmt.Errorf("%w: article %s is %s, expected %s",
				interfaces.ErrPreconditionFailed, id, article.Status, *patch.StatusPrecondition)
		}

		wasTerminal := article.IsTerminal()
		now := time.Now()
		applyArticlePatch(&article, patch, now)
		if err := s.db.Store().TxUpdate(tx, id, article); err != nil {
			return fmt.Errorf("failed to update article: %w", err)
		}

		if wasTerminal || !article.IsTerminal() {
			return nil
		}

		var jobs []models.Job
		if err := s.db.Store().TxFind(tx, &jobs, badgerhold.Where("ArticleIDs").Contains(id)); err != nil {
			return fmt.Errorf("failed to find jobs for article %s: %w", id, err)
		}

		for i := range jobs {
			job := jobs[i]
			// A job that already counted this article keeps its original
			// outcome; only jobs still waiting on it see the new one.
			if job.IsTerminal() || job.HasSettled(id) {
				continue
			}
			if article.Status == models.ArticleStatusScraped {
				job.CompletedCount++
			} else {
				job.FailedCount++
			}
			job.SettledArticleIDs = append(job.SettledArticleIDs, id)
			job.UpdatedAt = now
			applyTerminality(&job, now)
			if err := s.db.Store().TxUpdate(tx, job.ID, job); err != nil {
				return fmt.Errorf("failed to update job %s counters: %w", job.ID, err)
			}
			updated := job
			updatedJobs = append(updatedJobs, &updated)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(updatedJobs) > 0 {
		s.logger.Debug().
			Str("article_id", article.ID).
			Str("status", string(article.Status)).
			Int("jobs_updated", len(updatedJobs)).
			Msg("Propagated article completion to referencing jobs")
	}

	return &interfaces.ArticleTransition{Article: &article, UpdatedJobs: updatedJobs}, nil
}

func (s *ArticleStorage) IncrementArticleReference(ctx context.Context, id string) error {
	return s.db.Update(func(tx *badgerdb.Txn) error {
		var article models.Article
		if err := s.db.Store().TxGet(tx, id, &article); err != nil {
			if err == badgerhold.ErrNotFound {
				return fmt.Errorf("%w: %s", interfaces.ErrArticleNotFound, id)
			}
			return fmt.Errorf("failed to get article: %w", err)
		}
		article.ReferenceCount++
		article.UpdatedAt = time.Now()
		if err := s.db.Store().TxUpdate(tx, id, article); err != nil {
			return fmt.Errorf("failed to update article reference count: %w", err)
		}
		return nil
	})
}

func (s *ArticleStorage) ListStaleArticles(ctx context.Context, status models.ArticleStatus, cutoff time.Time) ([]*models.Article, error) {
	var articles []models.Article
	err := s.db.Store().Find(&articles, badgerhold.Where("Status").Eq(status))
	if err != nil {
		return nil, fmt.Errorf("failed to find %s articles: %w", status, err)
	}

	var stale []*models.Article
	for i := range articles {
		if articles[i].UpdatedAt.Before(cutoff) {
			stale = append(stale, &articles[i])
		}
	}
	return stale, nil
}

func (s *ArticleStorage) CountArticlesByStatus(ctx context.Context) (map[models.ArticleStatus]int, error) {
	statuses := []models.ArticleStatus{
		models.ArticleStatusPending,
		models.ArticleStatusScraping,
		models.ArticleStatusScraped,
		models.ArticleStatusFailed,
	}

	result := make(map[models.ArticleStatus]int, len(statuses))
	for _, status := range statuses {
		count, err := s.db.Store().Count(&models.Article{}, badgerhold.Where("Status").Eq(status))
		if err != nil {
			return nil, fmt.Errorf("failed to count articles by status: %w", err)
		}
		result[status] = int(count)
	}
	return result, nil
}
