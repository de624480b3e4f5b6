// -----------------------------------------------------------------------
// API Response Schemas - wire shapes returned by the job endpoints
// -----------------------------------------------------------------------

package models

import "time"

// JobSubmitResponse is returned by POST /api/jobs/submit
type JobSubmitResponse struct {
	JobID          string `json:"job_id"`
	Status         string `json:"status"`
	TotalArticles  int    `json:"total_articles"`
	NewArticles    int    `json:"new_articles"`
	CachedArticles int    `json:"cached_articles"`
	Message        string `json:"message"`
}

// JobStatusResponse is returned by GET /api/jobs/{id}/status and as the
// per-job element of the listing endpoint
type JobStatusResponse struct {
	JobID         string    `json:"job_id"`
	Status        string    `json:"status"`
	TotalArticles int       `json:"total_articles"`
	Completed     int       `json:"completed"`
	Failed        int       `json:"failed"`
	Pending       int       `json:"pending"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ArticleResult is one successfully scraped article in a results payload.
// Cached reports whether the content predates the job, i.e. the job
// reused another submission's scrape.
type ArticleResult struct {
	ArticleID string     `json:"article_id"`
	URL       string     `json:"url"`
	Source    string     `json:"source"`
	Category  string     `json:"category"`
	Title     string     `json:"title,omitempty"`
	Content   string     `json:"content,omitempty"`
	ScrapedAt *time.Time `json:"scraped_at,omitempty"`
	Cached    bool       `json:"cached"`
}

// FailedArticle is one article that exhausted its retries
type FailedArticle struct {
	URL         string     `json:"url"`
	Error       string     `json:"error"`
	AttemptedAt *time.Time `json:"attempted_at,omitempty"`
}

// JobResultsResponse is returned by GET /api/jobs/{id}/results. Articles
// still pending or scraping appear in neither list; the counts cover the
// terminal articles only.
type JobResultsResponse struct {
	JobID          string          `json:"job_id"`
	Status         string          `json:"status"`
	TotalArticles  int             `json:"total_articles"`
	Successful     int             `json:"successful"`
	Failed         int             `json:"failed"`
	Results        []ArticleResult `json:"results"`
	FailedArticles []FailedArticle `json:"failed_articles"`
}

// JobCancelResponse is returned by DELETE /api/jobs/{id}
type JobCancelResponse struct {
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
	RemovedTasks int    `json:"removed_tasks"`
	Message      string `json:"message"`
}

// JobListResponse is the paginated envelope of GET /api/jobs
type JobListResponse struct {
	Jobs       []JobStatusResponse `json:"jobs"`
	TotalCount int                 `json:"total_count"`
	Limit      int                 `json:"limit"`
	Skip       int                 `json:"skip"`
}
