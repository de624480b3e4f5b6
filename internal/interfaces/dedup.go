package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// DedupClass is the classification of one URL within a batch
type DedupClass string

const (
	// DedupHit: the URL resolves to an already scraped article
	DedupHit DedupClass = "hit"
	// DedupMissEnqueue: a scrape must be scheduled for this article
	DedupMissEnqueue DedupClass = "miss_enqueue"
	// DedupMissScheduled: another job already has this article in flight;
	// no new work item is produced
	DedupMissScheduled DedupClass = "miss_scheduled"
)

// DedupResult is the resolution of one unique URL from a batch
type DedupResult struct {
	Article *models.Article
	Class   DedupClass
}

// DedupService resolves a submission batch against the article cache
type DedupService interface {
	// Resolve collapses the batch by URL (first occurrence wins,
	// preserving order), upserts each unique URL, bumps reference counts,
	// and classifies every entry.
	Resolve(ctx context.Context, articles []SubmitArticle) ([]DedupResult, error)
}
