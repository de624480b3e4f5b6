// -----------------------------------------------------------------------
// Worker Pool - pops work items, scrapes articles, drives retries
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Bounded in-place retries for transient storage errors before a worker
// gives up on the current item
const (
	storeAttempts   = 3
	storeRetryDelay = 200 * time.Millisecond
)

type claimOutcome int

const (
	claimScrape claimOutcome = iota
	claimAlreadyScraped
	claimDrop
	claimRetryLater
)

// Pool runs the scrape workers. Each worker polls the queue, claims the
// article behind the popped item, scrapes it, and settles the outcome:
// scraped content, a delayed retry on the high band, or a terminal
// failure once the retry budget is spent.
type Pool struct {
	queue    interfaces.QueueManager
	jobs     interfaces.JobStorage
	articles interfaces.ArticleStorage
	scraper  interfaces.Scraper
	events   interfaces.EventService
	logger   arbor.ILogger

	concurrency   int
	pollInterval  time.Duration
	maxAttempts   int
	baseDelay     time.Duration
	maxDelay      time.Duration
	scrapeTimeout time.Duration

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool creates the worker pool
func NewPool(cfg *common.Config, storage interfaces.StorageManager, queueMgr interfaces.QueueManager, scraper interfaces.Scraper, events interfaces.EventService, logger arbor.ILogger) interfaces.WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	concurrency := cfg.Queue.Workers
	if concurrency < 1 {
		concurrency = 1
	}
	maxAttempts := cfg.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	baseDelay := common.ParseDurationOr(cfg.Retry.BaseDelay, time.Second)
	maxDelay := common.ParseDurationOr(cfg.Retry.MaxDelay, 60*time.Second)
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	scrapeTimeout := common.ParseDurationOr(cfg.Scraper.Timeout, 30*time.Second)

	return &Pool{
		queue:         queueMgr,
		jobs:          storage.JobStorage(),
		articles:      storage.ArticleStorage(),
		scraper:       scraper,
		events:        events,
		logger:        logger,
		concurrency:   concurrency,
		pollInterval:  common.ParseDurationOr(cfg.Queue.PollInterval, time.Second),
		maxAttempts:   maxAttempts,
		baseDelay:     baseDelay,
		maxDelay:      maxDelay,
		scrapeTimeout: scrapeTimeout,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start starts the worker goroutines
func (p *Pool) Start() error {
	p.logger.Info().
		Int("workers", p.concurrency).
		Dur("poll_interval", p.pollInterval).
		Int("max_attempts", p.maxAttempts).
		Msg("Starting worker pool")

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return nil
}

// Stop stops the pool and waits for in-flight work to settle
func (p *Pool) Stop() error {
	p.logger.Info().Msg("Stopping worker pool")
	p.cancel()
	p.wg.Wait()
	p.logger.Info().Msg("Worker pool stopped")
	return nil
}

func (p *Pool) worker(workerID int) {
	defer p.wg.Done()

	// Stagger worker starts so the pool does not contend on one tick
	stagger := p.pollInterval / time.Duration(p.concurrency) * time.Duration(workerID)
	if stagger > 0 {
		select {
		case <-p.ctx.Done():
			return
		case <-time.After(stagger):
		}
	}

	p.logger.Debug().Int("worker_id", workerID).Msg("Worker started")

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			p.logger.Debug().Int("worker_id", workerID).Msg("Worker stopped")
			return
		case <-ticker.C:
			p.drainQueue(workerID)
		}
	}
}

// drainQueue processes items until the queue is empty or shutdown begins
func (p *Pool) drainQueue(workerID int) {
	for p.ctx.Err() == nil {
		msg, ack, err := p.queue.Pop(p.ctx)
		if err != nil {
			if !errors.Is(err, models.ErrNoMessage) {
				p.logger.Warn().Err(err).Int("worker_id", workerID).Msg("Failed to pop work item")
			}
			return
		}
		p.process(workerID, msg, ack)
	}
}

func (p *Pool) process(workerID int, msg *models.QueueMessage, ack func() error) {
	item := msg.Item
	started := time.Now()

	// Job gate: items for terminal jobs are discarded unscraped
	var job *models.Job
	err := p.withStoreRetry(func() error {
		var gerr error
		job, gerr = p.jobs.GetJob(p.ctx, item.JobID)
		return gerr
	})
	if err != nil {
		if errors.Is(err, interfaces.ErrJobNotFound) {
			p.logger.Warn().Str("job_id", item.JobID).Msg("Dropping work item for unknown job")
			p.ack(ack, item.ArticleID)
			return
		}
		p.logger.Warn().Err(err).Str("job_id", item.JobID).Msg("Job lookup failed, leaving item for redelivery")
		return
	}
	if job.IsTerminal() {
		p.logger.Debug().
			Str("job_id", job.ID).
			Str("job_status", string(job.Status)).
			Str("article_id", item.ArticleID).
			Msg("Dropping work item for terminal job")
		p.ack(ack, item.ArticleID)
		return
	}

	article, outcome := p.claim(msg)
	switch outcome {
	case claimAlreadyScraped:
		// A concurrent worker finished this URL; counters were already
		// propagated when it landed, nothing left to do.
		p.logger.Debug().Str("article_id", item.ArticleID).Msg("Article already scraped, reusing cached content")
		p.ack(ack, item.ArticleID)
		return
	case claimDrop:
		p.ack(ack, item.ArticleID)
		return
	case claimRetryLater:
		return
	}

	scrapeCtx, cancel := context.WithTimeout(p.ctx, p.scrapeTimeout)
	result, scrapeErr := p.scraper.Scrape(scrapeCtx, item.URL)
	cancel()

	if scrapeErr != nil {
		p.settleFailure(workerID, msg, ack, article, scrapeErr)
		return
	}
	p.settleSuccess(workerID, msg, ack, result, started)
}

// claim moves the article to scraping so no other worker touches it.
// On redelivery (the previous claim's visibility timed out) an article
// stuck in scraping is taken over; on first delivery it means another
// worker owns it and the duplicate item is dropped.
func (p *Pool) claim(msg *models.QueueMessage) (*models.Article, claimOutcome) {
	item := msg.Item
	scraping := models.ArticleStatusScraping
	pending := models.ArticleStatusPending

	var article *models.Article
	err := p.withStoreRetry(func() error {
		var uerr error
		article, uerr = p.articles.UpdateArticle(p.ctx, item.ArticleID, &interfaces.ArticlePatch{
			Status:             &scraping,
			StatusPrecondition: &pending,
		})
		return uerr
	})
	if err == nil {
		return article, claimScrape
	}
	if errors.Is(err, interfaces.ErrArticleNotFound) {
		p.logger.Warn().Str("article_id", item.ArticleID).Msg("Dropping work item for unknown article")
		return nil, claimDrop
	}
	if !errors.Is(err, interfaces.ErrPreconditionFailed) {
		p.logger.Warn().Err(err).Str("article_id", item.ArticleID).Msg("Article claim failed, leaving item for redelivery")
		return nil, claimRetryLater
	}

	current, err := p.articles.GetArticle(p.ctx, item.ArticleID)
	if err != nil {
		p.logger.Warn().Err(err).Str("article_id", item.ArticleID).Msg("Article lookup failed, leaving item for redelivery")
		return nil, claimRetryLater
	}

	switch current.Status {
	case models.ArticleStatusScraped:
		return current, claimAlreadyScraped

	case models.ArticleStatusScraping:
		if msg.ReceiveCount > 1 {
			// Previous holder lost its claim mid-scrape; take over and
			// refresh the article clock so the stale sweep skips it
			var taken *models.Article
			terr := p.withStoreRetry(func() error {
				var uerr error
				taken, uerr = p.articles.UpdateArticle(p.ctx, item.ArticleID, &interfaces.ArticlePatch{
					Status:             &scraping,
					StatusPrecondition: &scraping,
				})
				return uerr
			})
			if terr != nil {
				p.logger.Warn().Err(terr).Str("article_id", item.ArticleID).Msg("Article takeover failed, leaving item for redelivery")
				return nil, claimRetryLater
			}
			return taken, claimScrape
		}
		p.logger.Debug().Str("article_id", item.ArticleID).Msg("Article claimed by another worker, dropping duplicate item")
		return nil, claimDrop

	default:
		p.logger.Debug().
			Str("article_id", item.ArticleID).
			Str("status", string(current.Status)).
			Msg("Article not claimable, dropping item")
		return nil, claimDrop
	}
}

func (p *Pool) settleSuccess(workerID int, msg *models.QueueMessage, ack func() error, result *interfaces.ScrapeResult, started time.Time) {
	item := msg.Item
	scraping := models.ArticleStatusScraping
	scraped := models.ArticleStatusScraped
	now := time.Now()
	zero := 0
	empty := ""

	var transition *interfaces.ArticleTransition
	err := p.withStoreRetry(func() error {
		var terr error
		transition, terr = p.articles.TransitionArticle(p.ctx, item.ArticleID, &interfaces.ArticlePatch{
			Status:             &scraped,
			Title:              &result.Title,
			Content:            &result.Content,
			ScrapedAt:          &now,
			RetryCount:         &zero,
			ErrorMessage:       &empty,
			StatusPrecondition: &scraping,
		})
		return terr
	})
	if err != nil {
		if errors.Is(err, interfaces.ErrPreconditionFailed) {
			p.logger.Debug().Str("article_id", item.ArticleID).Msg("Article moved during scrape, discarding result")
		} else {
			p.logger.Error().Err(err).Str("article_id", item.ArticleID).Msg("Dropping scraped result after storage retries")
		}
		p.ack(ack, item.ArticleID)
		return
	}

	p.publishUpdates(transition)
	p.ack(ack, item.ArticleID)

	p.logger.Info().
		Int("worker_id", workerID).
		Str("job_id", item.JobID).
		Str("article_id", item.ArticleID).
		Str("url", item.URL).
		Int("jobs_updated", len(transition.UpdatedJobs)).
		Dur("duration", time.Since(started)).
		Msg("Article scraped")
}

func (p *Pool) settleFailure(workerID int, msg *models.QueueMessage, ack func() error, article *models.Article, scrapeErr error) {
	item := msg.Item
	retryCount := article.RetryCount + 1
	errMsg := scrapeErr.Error()
	scraping := models.ArticleStatusScraping

	if retryCount < p.maxAttempts {
		delay := p.backoff(retryCount)
		pending := models.ArticleStatusPending
		err := p.withStoreRetry(func() error {
			_, uerr := p.articles.UpdateArticle(p.ctx, item.ArticleID, &interfaces.ArticlePatch{
				Status:             &pending,
				RetryCount:         &retryCount,
				ErrorMessage:       &errMsg,
				StatusPrecondition: &scraping,
			})
			return uerr
		})
		if err != nil {
			p.logger.Error().Err(err).Str("article_id", item.ArticleID).Msg("Failed to stage article for retry, dropping item")
			p.ack(ack, item.ArticleID)
			return
		}

		// Retries jump the line: high band, head end, hidden until the
		// backoff elapses
		retryItem := item
		retryItem.Attempt = retryCount
		if err := p.queue.PushHeadDelayed(p.ctx, models.QueueHigh, &retryItem, delay); err != nil {
			p.logger.Error().Err(err).Str("article_id", item.ArticleID).Msg("Failed to re-enqueue retry")
		}
		p.ack(ack, item.ArticleID)

		p.logger.Warn().
			Err(scrapeErr).
			Int("worker_id", workerID).
			Str("job_id", item.JobID).
			Str("article_id", item.ArticleID).
			Int("attempt", retryCount).
			Dur("retry_delay", delay).
			Msg("Scrape failed, retry scheduled")
		return
	}

	failed := models.ArticleStatusFailed
	var transition *interfaces.ArticleTransition
	err := p.withStoreRetry(func() error {
		var terr error
		transition, terr = p.articles.TransitionArticle(p.ctx, item.ArticleID, &interfaces.ArticlePatch{
			Status:             &failed,
			RetryCount:         &retryCount,
			ErrorMessage:       &errMsg,
			StatusPrecondition: &scraping,
		})
		return terr
	})
	if err != nil {
		if errors.Is(err, interfaces.ErrPreconditionFailed) {
			p.logger.Debug().Str("article_id", item.ArticleID).Msg("Article moved during scrape, discarding failure")
		} else {
			p.logger.Error().Err(err).Str("article_id", item.ArticleID).Msg("Dropping failed result after storage retries")
		}
		p.ack(ack, item.ArticleID)
		return
	}

	p.publishUpdates(transition)
	p.ack(ack, item.ArticleID)

	p.logger.Error().
		Err(scrapeErr).
		Int("worker_id", workerID).
		Str("job_id", item.JobID).
		Str("article_id", item.ArticleID).
		Str("url", item.URL).
		Int("attempts", retryCount).
		Msg("Article failed after exhausting retries")
}

// publishUpdates emits one job_updates event per job whose counters
// moved with this transition
func (p *Pool) publishUpdates(transition *interfaces.ArticleTransition) {
	for _, job := range transition.UpdatedJobs {
		event := interfaces.Event{
			Type:    interfaces.EventJobUpdate,
			Payload: models.NewJobUpdate(job, transition.Article.ID, transition.Article.Status),
		}
		if err := p.events.Publish(p.ctx, event); err != nil {
			p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to publish job update")
		}
	}
}

// backoff computes the delay before retry attempt n: base doubled per
// prior attempt, capped, plus a little jitter so bursts spread out
func (p *Pool) backoff(attempt int) time.Duration {
	delay := p.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.maxDelay {
			delay = p.maxDelay
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

func (p *Pool) ack(ack func() error, articleID string) {
	if err := ack(); err != nil {
		p.logger.Warn().Err(err).Str("article_id", articleID).Msg("Failed to acknowledge work item")
	}
}

// withStoreRetry retries transient storage failures in-place. Definitive
// outcomes (not found, precondition, terminal) pass through untouched.
func (p *Pool) withStoreRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < storeAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if errors.Is(err, interfaces.ErrJobNotFound) ||
			errors.Is(err, interfaces.ErrArticleNotFound) ||
			errors.Is(err, interfaces.ErrPreconditionFailed) ||
			errors.Is(err, interfaces.ErrJobTerminal) {
			return err
		}
		select {
		case <-p.ctx.Done():
			return fmt.Errorf("shutdown during storage retry: %w", err)
		case <-time.After(storeRetryDelay):
		}
	}
	return err
}
