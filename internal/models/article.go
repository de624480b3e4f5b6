package models

import "time"

// ArticleStatus represents the scrape state of an article
type ArticleStatus string

const (
	ArticleStatusPending  ArticleStatus = "pending"
	ArticleStatusScraping ArticleStatus = "scraping"
	ArticleStatusScraped  ArticleStatus = "scraped"
	ArticleStatusFailed   ArticleStatus = "failed"
)

// Article represents a single URL and its scraped content.
// Articles are never deleted; once scraped they act as a content cache
// shared by every job that references the same URL.
type Article struct {
	ID       string `json:"id"`                        // art_{12 hex chars}
	URL      string `json:"url" badgerhold:"unique"`   // Canonical URL, the dedup key
	Source   string `json:"source,omitempty"`          // Free-form origin label, e.g. "reuters"
	Category string `json:"category,omitempty"`        // Free-form grouping label, e.g. "markets"
	Priority int    `json:"priority"`                  // 1..10 inclusive, lower is more urgent

	// Populated only after a successful scrape
	Title   string `json:"title,omitempty"`
	Content string `json:"content,omitempty"` // Extracted article body as markdown

	Status       ArticleStatus `json:"status" badgerhold:"index"`
	ErrorMessage string        `json:"error_message,omitempty"` // Last failure, set when status=failed

	// RetryCount is the number of attempts in the current scrape cycle.
	// Reset to 0 when the article reaches scraped.
	RetryCount int `json:"retry_count"`

	// ReferenceCount is the number of distinct jobs that include this
	// article. It only ever increases.
	ReferenceCount int `json:"reference_count"`

	ScrapedAt *time.Time `json:"scraped_at,omitempty"` // Wall-clock of last successful scrape
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// IsTerminal returns true when the article has finished its scrape cycle
func (a *Article) IsTerminal() bool {
	return a.Status == ArticleStatusScraped || a.Status == ArticleStatusFailed
}
