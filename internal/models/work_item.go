package models

// WorkItem is the unit of scrape work flowing through the queue.
// Keep it simple - just enough for a worker to locate the article
// and attribute progress to the submitting job.
type WorkItem struct {
	JobID     string `json:"job_id"`     // References jobs.id
	ArticleID string `json:"article_id"` // References articles.id
	URL       string `json:"url"`        // Canonical URL, saves a lookup on the hot path
	Priority  int    `json:"priority"`   // Original 1..10 priority
	Attempt   int    `json:"attempt"`    // 0-based; incremented on each retry re-enqueue
}
