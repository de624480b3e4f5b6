// -----------------------------------------------------------------------
// Maintenance - periodic sweep for orphaned articles and storage upkeep
// -----------------------------------------------------------------------

package maintenance

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Service sweeps for articles the normal pipeline lost track of. An
// article is orphaned in two ways: stuck in SCRAPING because its worker
// died after the queue message was spent, or stuck in PENDING because a
// job cancellation drained a queue entry that another job still
// depended on. Both are rescued by re-queuing at the head of the high
// band while a non-terminal job is still watching them. Each pass also
// gives badger a chance to reclaim value log space.
type Service struct {
	articles interfaces.ArticleStorage
	jobs     interfaces.JobStorage
	queue    interfaces.QueueManager
	db       *badger.DB
	logger   arbor.ILogger

	sweepInterval time.Duration
	staleAfter    time.Duration

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewService creates the maintenance sweeper
func NewService(cfg *common.Config, storage interfaces.StorageManager, queueMgr interfaces.QueueManager, logger arbor.ILogger) interfaces.MaintenanceService {
	sweepInterval := common.ParseDurationOr(cfg.Scheduler.SweepInterval, 5*time.Minute)
	staleAfter := common.ParseDurationOr(cfg.Scheduler.StaleAfter, 15*time.Minute)

	var db *badger.DB
	if store, ok := storage.DB().(*badgerhold.Store); ok {
		db = store.Badger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		articles:      storage.ArticleStorage(),
		jobs:          storage.JobStorage(),
		queue:         queueMgr,
		db:            db,
		logger:        logger,
		sweepInterval: sweepInterval,
		staleAfter:    staleAfter,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start launches the sweep loop
func (s *Service) Start() error {
	s.logger.Info().
		Str("sweep_interval", s.sweepInterval.String()).
		Str("stale_after", s.staleAfter.String()).
		Msg("Starting maintenance sweep")

	s.wg.Add(1)
	go s.run()
	return nil
}

// Stop halts the sweep loop and waits for an in-flight pass to finish
func (s *Service) Stop() error {
	s.cancel()
	s.wg.Wait()
	s.logger.Info().Msg("Maintenance sweep stopped")
	return nil
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweep(s.ctx)
		}
	}
}

// sweep performs one maintenance pass
func (s *Service) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.staleAfter)
	rescued := s.rescueStatus(ctx, models.ArticleStatusScraping, cutoff)
	rescued += s.rescueStatus(ctx, models.ArticleStatusPending, cutoff)
	if rescued > 0 {
		s.logger.Info().Int("rescued", rescued).Msg("Maintenance sweep requeued orphaned articles")
	}
	s.collectGarbage()
}

// rescueStatus re-queues stale articles in the given status that have no
// queue entry left but still have a live watcher job. Stale SCRAPING
// articles are first reset to PENDING under a status precondition, so a
// worker that is in fact still running wins over the sweep.
func (s *Service) rescueStatus(ctx context.Context, status models.ArticleStatus, cutoff time.Time) int {
	stale, err := s.articles.ListStaleArticles(ctx, status, cutoff)
	if err != nil {
		s.logger.Warn().Err(err).Str("status", string(status)).Msg("Failed to list stale articles")
		return 0
	}

	rescued := 0
	for _, article := range stale {
		if ctx.Err() != nil {
			return rescued
		}
		if s.rescue(ctx, article, status) {
			rescued++
		}
	}
	return rescued
}

func (s *Service) rescue(ctx context.Context, article *models.Article, from models.ArticleStatus) bool {
	queued, err := s.queue.ContainsArticle(ctx, article.ID)
	if err != nil {
		s.logger.Warn().Err(err).Str("article_id", article.ID).Msg("Failed to check queue membership")
		return false
	}
	if queued {
		// A message still exists; delivery or redelivery will handle it
		return false
	}

	watcher, err := s.liveWatcher(ctx, article.ID)
	if err != nil {
		s.logger.Warn().Err(err).Str("article_id", article.ID).Msg("Failed to look up watcher jobs")
		return false
	}
	if watcher == nil {
		// Every job that wanted this article is terminal, leave it be.
		// A later submission attaches a fresh watcher and the next pass
		// picks it up.
		s.logger.Debug().
			Str("article_id", article.ID).
			Str("status", string(from)).
			Msg("Stale article has no live watcher, skipping")
		return false
	}

	if from == models.ArticleStatusScraping {
		pending := models.ArticleStatusPending
		scraping := models.ArticleStatusScraping
		if _, err := s.articles.UpdateArticle(ctx, article.ID, &interfaces.ArticlePatch{
			Status:             &pending,
			StatusPrecondition: &scraping,
		}); err != nil {
			if !errors.Is(err, interfaces.ErrPreconditionFailed) && !errors.Is(err, interfaces.ErrArticleNotFound) {
				s.logger.Warn().Err(err).Str("article_id", article.ID).Msg("Failed to reset stale scraping article")
			}
			return false
		}
	}

	item := &models.WorkItem{
		JobID:     watcher.ID,
		ArticleID: article.ID,
		URL:       article.URL,
		Priority:  article.Priority,
	}
	if err := s.queue.PushHead(ctx, models.QueueHigh, item); err != nil {
		s.logger.Error().Err(err).Str("article_id", article.ID).Msg("Failed to requeue orphaned article")
		return false
	}

	s.logger.Info().
		Str("article_id", article.ID).
		Str("url", article.URL).
		Str("job_id", watcher.ID).
		Str("was", string(from)).
		Msg("Requeued orphaned article")
	return true
}

// liveWatcher returns a non-terminal job referencing the article, or nil
func (s *Service) liveWatcher(ctx context.Context, articleID string) (*models.Job, error) {
	watchers, err := s.jobs.ListJobsForArticle(ctx, articleID)
	if err != nil {
		return nil, err
	}
	for _, job := range watchers {
		if !job.IsTerminal() {
			return job, nil
		}
	}
	return nil, nil
}

// collectGarbage runs badger value log GC until a pass rewrites nothing
func (s *Service) collectGarbage() {
	if s.db == nil {
		return
	}
	for {
		if err := s.db.RunValueLogGC(0.5); err != nil {
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Debug().Err(err).Msg("Value log GC finished early")
			}
			return
		}
		s.logger.Debug().Msg("Value log GC reclaimed a file")
	}
}
