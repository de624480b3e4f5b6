package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	api "github.com/ternarybob/colligo/pkg/models"
)

// JobHandler handles job-related API requests
type JobHandler struct {
	jobService interfaces.JobService
	markdown   goldmark.Markdown
	logger     arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobService interfaces.JobService, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		jobService: jobService,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
		),
		logger: logger,
	}
}

// SubmitJobHandler accepts a batch of article URLs for scraping
// POST /api/jobs/submit
func (h *JobHandler) SubmitJobHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.JobSubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	batch := make([]interfaces.SubmitArticle, 0, len(req.Articles))
	for _, a := range req.Articles {
		batch = append(batch, interfaces.SubmitArticle{
			URL:      a.URL,
			Source:   a.Source,
			Category: a.Category,
			Priority: a.EffectivePriority(),
		})
	}

	job, err := h.jobService.SubmitJob(ctx, req.Name, "api", batch)
	if err != nil {
		h.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to submit job")
		WriteServiceError(w, err)
		return
	}

	message := "Job submitted successfully"
	if job.Status == models.JobStatusCompleted {
		message = "Job completed - all articles from cache"
	}

	WriteJSON(w, http.StatusCreated, api.JobSubmitResponse{
		JobID:          job.ID,
		Status:         string(job.Status),
		TotalArticles:  job.TotalArticles,
		NewArticles:    job.NewArticles,
		CachedArticles: job.CachedArticles,
		Message:        message,
	})
}

// GetJobStatusHandler returns the progress counters of a job
// GET /api/jobs/{id}/status
func (h *JobHandler) GetJobStatusHandler(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}

	job, err := h.jobService.GetJob(r.Context(), jobID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, jobStatusResponse(job))
}

// GetJobResultsHandler returns scraped content and failures for a job
// GET /api/jobs/{id}/results[?format=html]
func (h *JobHandler) GetJobResultsHandler(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}

	results, err := h.jobService.GetJobResults(r.Context(), jobID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	asHTML := r.URL.Query().Get("format") == "html"

	response := api.JobResultsResponse{
		JobID:          results.Job.ID,
		Status:         string(results.Job.Status),
		TotalArticles:  results.Job.TotalArticles,
		Results:        []api.ArticleResult{},
		FailedArticles: []api.FailedArticle{},
	}

	for _, entry := range results.Articles {
		article := entry.Article
		switch article.Status {
		case models.ArticleStatusScraped:
			content := article.Content
			if asHTML {
				rendered, err := h.renderHTML(content)
				if err != nil {
					h.logger.Warn().Err(err).Str("article_id", article.ID).Msg("Markdown rendering failed, returning raw content")
				} else {
					content = rendered
				}
			}
			response.Results = append(response.Results, api.ArticleResult{
				ArticleID: article.ID,
				URL:       article.URL,
				Source:    article.Source,
				Category:  article.Category,
				Title:     article.Title,
				Content:   content,
				ScrapedAt: article.ScrapedAt,
				Cached:    entry.Cached,
			})
		case models.ArticleStatusFailed:
			errMsg := article.ErrorMessage
			if errMsg == "" {
				errMsg = "Unknown error"
			}
			attemptedAt := article.UpdatedAt
			response.FailedArticles = append(response.FailedArticles, api.FailedArticle{
				URL:         article.URL,
				Error:       errMsg,
				AttemptedAt: &attemptedAt,
			})
		}
	}

	response.Successful = len(response.Results)
	response.Failed = len(response.FailedArticles)

	WriteJSON(w, http.StatusOK, response)
}

// CancelJobHandler cancels a job and drains its queued work
// DELETE /api/jobs/{id}
func (h *JobHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}

	removed, err := h.jobService.CancelJob(r.Context(), jobID)
	if err != nil {
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("Cancel rejected")
		WriteServiceError(w, err)
		return
	}

	h.logger.Info().Str("job_id", jobID).Int("removed", removed).Msg("Job cancelled")

	WriteJSON(w, http.StatusOK, api.JobCancelResponse{
		JobID:        jobID,
		Status:       string(models.JobStatusCancelled),
		RemovedTasks: removed,
		Message:      fmt.Sprintf("Job cancelled. Removed %d pending tasks.", removed),
	})
}

// ListJobsHandler returns a paginated job listing
// GET /api/jobs?status_filter=&limit=50&skip=0
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	opts := &interfaces.JobListOptions{
		Status: r.URL.Query().Get("status_filter"),
		Limit:  50,
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			opts.Limit = parsed
		}
	}
	if skipStr := r.URL.Query().Get("skip"); skipStr != "" {
		if parsed, err := strconv.Atoi(skipStr); err == nil && parsed >= 0 {
			opts.Skip = parsed
		}
	}

	jobs, total, err := h.jobService.ListJobs(r.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteServiceError(w, err)
		return
	}

	response := api.JobListResponse{
		Jobs:       make([]api.JobStatusResponse, 0, len(jobs)),
		TotalCount: total,
		Limit:      opts.Limit,
		Skip:       opts.Skip,
	}
	for _, job := range jobs {
		response.Jobs = append(response.Jobs, jobStatusResponse(job))
	}

	WriteJSON(w, http.StatusOK, response)
}

// GetStatsHandler returns job, article and queue counts
// GET /api/jobs/stats
func (h *JobHandler) GetStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobService.Stats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to collect stats")
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, stats)
}

func (h *JobHandler) renderHTML(markdown string) (string, error) {
	if markdown == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := h.markdown.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// jobStatusResponse maps a stored job onto the status wire shape
func jobStatusResponse(job *models.Job) api.JobStatusResponse {
	pending := job.TotalArticles - job.CompletedCount - job.FailedCount
	if pending < 0 {
		pending = 0
	}
	return api.JobStatusResponse{
		JobID:         job.ID,
		Status:        string(job.Status),
		TotalArticles: job.TotalArticles,
		Completed:     job.CompletedCount,
		Failed:        job.FailedCount,
		Pending:       pending,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
	}
}

// jobIDFromPath extracts the job ID from /api/jobs/{id}[/suffix] paths
func jobIDFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 3 || parts[2] == "" {
		WriteError(w, http.StatusBadRequest, "Job ID is required")
		return "", false
	}
	return parts[2], true
}
