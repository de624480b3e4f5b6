package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Service resolves submission batches against the article cache. Exactly
// one job ends up scheduling the scrape for any URL; everyone else either
// reuses the stored content or watches the in-flight attempt.
type Service struct {
	articles interfaces.ArticleStorage
	logger   arbor.ILogger
}

// NewService creates a new deduplication service
func NewService(articles interfaces.ArticleStorage, logger arbor.ILogger) interfaces.DedupService {
	return &Service{
		articles: articles,
		logger:   logger,
	}
}

// Resolve collapses the batch by normalized URL (first occurrence wins),
// upserts each unique URL and classifies it
func (s *Service) Resolve(ctx context.Context, batch []interfaces.SubmitArticle) ([]interfaces.DedupResult, error) {
	results := make([]interfaces.DedupResult, 0, len(batch))
	seen := make(map[string]bool, len(batch))

	for _, req := range batch {
		normalized, err := common.NormalizeURL(req.URL)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", interfaces.ErrInvalidURL, req.URL, err)
		}
		if seen[normalized] {
			continue
		}
		seen[normalized] = true

		result, err := s.resolveOne(ctx, normalized, req)
		if err != nil {
			return nil, err
		}
		results = append(results, *result)
	}

	return results, nil
}

func (s *Service) resolveOne(ctx context.Context, url string, req interfaces.SubmitArticle) (*interfaces.DedupResult, error) {
	candidate := &models.Article{
		ID:       common.NewArticleID(),
		URL:      url,
		Source:   req.Source,
		Category: req.Category,
		Priority: req.Priority,
	}

	stored, existed, err := s.articles.UpsertArticlePending(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert article for %s: %w", url, err)
	}

	// Every resolving job holds a reference, whatever the classification
	if err := s.articles.IncrementArticleReference(ctx, stored.ID); err != nil {
		return nil, fmt.Errorf("failed to increment reference for %s: %w", stored.ID, err)
	}

	if !existed {
		s.logger.Debug().
			Str("article_id", stored.ID).
			Str("url", url).
			Msg("New article reserved for scraping")
		return &interfaces.DedupResult{Article: stored, Class: interfaces.DedupMissEnqueue}, nil
	}

	switch stored.Status {
	case models.ArticleStatusScraped:
		s.logger.Debug().
			Str("article_id", stored.ID).
			Str("url", url).
			Msg("Cache hit, reusing scraped article")
		return &interfaces.DedupResult{Article: stored, Class: interfaces.DedupHit}, nil

	case models.ArticleStatusFailed:
		return s.resetForRetry(ctx, stored)

	default:
		// PENDING or SCRAPING: some job already has the scrape in flight,
		// attach as a watcher without enqueuing a second work item
		s.logger.Debug().
			Str("article_id", stored.ID).
			Str("url", url).
			Str("status", string(stored.Status)).
			Msg("Article already scheduled, attaching as watcher")
		return &interfaces.DedupResult{Article: stored, Class: interfaces.DedupMissScheduled}, nil
	}
}

// resetForRetry gives a failed article a fresh attempt budget. When two
// jobs race for the same failed article the precondition lets exactly one
// perform the reset and enqueue; the loser becomes a watcher.
func (s *Service) resetForRetry(ctx context.Context, article *models.Article) (*interfaces.DedupResult, error) {
	pending := models.ArticleStatusPending
	failed := models.ArticleStatusFailed
	zero := 0
	empty := ""

	reset, err := s.articles.UpdateArticle(ctx, article.ID, &interfaces.ArticlePatch{
		Status:             &pending,
		RetryCount:         &zero,
		ErrorMessage:       &empty,
		StatusPrecondition: &failed,
	})
	if err != nil {
		if errors.Is(err, interfaces.ErrPreconditionFailed) {
			refreshed, getErr := s.articles.GetArticle(ctx, article.ID)
			if getErr != nil {
				return nil, getErr
			}
			return &interfaces.DedupResult{Article: refreshed, Class: interfaces.DedupMissScheduled}, nil
		}
		return nil, fmt.Errorf("failed to reset article %s for retry: %w", article.ID, err)
	}

	s.logger.Info().
		Str("article_id", reset.ID).
		Str("url", reset.URL).
		Msg("Failed article reset for retry")
	return &interfaces.DedupResult{Article: reset, Class: interfaces.DedupMissEnqueue}, nil
}
