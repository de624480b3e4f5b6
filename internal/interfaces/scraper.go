package interfaces

import "context"

// ScrapeResult is the outcome of a successful fetch and extraction
type ScrapeResult struct {
	Title   string
	Content string // Extracted article body as markdown
}

// Scraper fetches a URL and extracts readable article content.
// The context carries the per-fetch deadline; implementations must not
// outlive it.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*ScrapeResult, error)
}
