package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

func TestUpsertArticlePending(t *testing.T) {
	db := newTestDB(t)
	articles := NewArticleStorage(db, arbor.NewLogger())
	ctx := context.Background()

	// 1. First caller inserts
	first := &models.Article{ID: common.NewArticleID(), URL: "https://example.com/one", Priority: 3}
	stored, existed, err := articles.UpsertArticlePending(ctx, first)
	if err != nil {
		t.Fatalf("Failed to upsert: %v", err)
	}
	if existed {
		t.Error("Expected existed=false on first upsert")
	}
	if stored.Status != models.ArticleStatusPending {
		t.Errorf("Expected pending, got %s", stored.Status)
	}
	if stored.RetryCount != 0 {
		t.Errorf("Expected retry count 0, got %d", stored.RetryCount)
	}
	if stored.CreatedAt.IsZero() || stored.UpdatedAt.IsZero() {
		t.Error("Expected timestamps to be stamped")
	}

	// 2. Second caller with the same URL gets the winner's row back
	second := &models.Article{ID: common.NewArticleID(), URL: "https://example.com/one", Priority: 8}
	got, existed, err := articles.UpsertArticlePending(ctx, second)
	if err != nil {
		t.Fatalf("Failed to upsert duplicate: %v", err)
	}
	if !existed {
		t.Error("Expected existed=true on duplicate upsert")
	}
	if got.ID != stored.ID {
		t.Errorf("Expected winner ID %s, got %s", stored.ID, got.ID)
	}
	if got.Priority != 3 {
		t.Errorf("Expected winner's priority preserved, got %d", got.Priority)
	}
}

func TestGetArticleByURL(t *testing.T) {
	db := newTestDB(t)
	articles := NewArticleStorage(db, arbor.NewLogger())
	ctx := context.Background()

	seeded := seedArticle(t, articles, "https://example.com/lookup", models.ArticleStatusPending)

	got, err := articles.GetArticleByURL(ctx, "https://example.com/lookup")
	if err != nil {
		t.Fatalf("Failed to find article by URL: %v", err)
	}
	if got.ID != seeded.ID {
		t.Errorf("Expected article %s, got %s", seeded.ID, got.ID)
	}

	_, err = articles.GetArticleByURL(ctx, "https://example.com/absent")
	if !errors.Is(err, interfaces.ErrArticleNotFound) {
		t.Errorf("Expected ErrArticleNotFound, got %v", err)
	}
}

func TestGetArticlesMissingFails(t *testing.T) {
	db := newTestDB(t)
	articles := NewArticleStorage(db, arbor.NewLogger())
	ctx := context.Background()

	seeded := seedArticle(t, articles, "https://example.com/batch", models.ArticleStatusPending)

	_, err := articles.GetArticles(ctx, []string{seeded.ID, "art_missing"})
	if !errors.Is(err, interfaces.ErrArticleNotFound) {
		t.Errorf("Expected ErrArticleNotFound, got %v", err)
	}

	got, err := articles.GetArticles(ctx, []string{seeded.ID})
	if err != nil {
		t.Fatalf("Failed to get articles: %v", err)
	}
	if len(got) != 1 || got[0].ID != seeded.ID {
		t.Errorf("Expected one article %s, got %v", seeded.ID, got)
	}
}

func TestUpdateArticlePrecondition(t *testing.T) {
	db := newTestDB(t)
	articles := NewArticleStorage(db, arbor.NewLogger())
	ctx := context.Background()

	seeded := seedArticle(t, articles, "https://example.com/guarded", models.ArticleStatusPending)

	// 1. Mismatched precondition leaves the article untouched
	scraping := models.ArticleStatusScraping
	scraped := models.ArticleStatusScraped
	_, err := articles.UpdateArticle(ctx, seeded.ID, &interfaces.ArticlePatch{
		Status:             &scraped,
		StatusPrecondition: &scraping,
	})
	if !errors.Is(err, interfaces.ErrPreconditionFailed) {
		t.Fatalf("Expected ErrPreconditionFailed, got %v", err)
	}
	got, err := articles.GetArticle(ctx, seeded.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.ArticleStatusPending {
		t.Errorf("Expected article unchanged, got %s", got.Status)
	}

	// 2. Matching precondition applies the patch
	pending := models.ArticleStatusPending
	updated, err := articles.UpdateArticle(ctx, seeded.ID, &interfaces.ArticlePatch{
		Status:             &scraping,
		StatusPrecondition: &pending,
	})
	if err != nil {
		t.Fatalf("Failed to update with matching precondition: %v", err)
	}
	if updated.Status != models.ArticleStatusScraping {
		t.Errorf("Expected scraping, got %s", updated.Status)
	}
}

func TestTransitionArticlePropagatesToJobs(t *testing.T) {
	db := newTestDB(t)
	logger := arbor.NewLogger()
	jobs := NewJobStorage(db, logger)
	articles := NewArticleStorage(db, logger)
	ctx := context.Background()

	shared := seedArticle(t, articles, "https://example.com/shared", models.ArticleStatusPending)
	other := seedArticle(t, articles, "https://example.com/other", models.ArticleStatusPending)

	// jobA waits on two articles, jobB only on the shared one
	jobA := &models.Job{ID: common.NewJobID(), Name: "watcher A", ArticleIDs: []string{shared.ID, other.ID}, TotalArticles: 2}
	if err := jobs.CreateJob(ctx, jobA); err != nil {
		t.Fatal(err)
	}
	jobB := &models.Job{ID: common.NewJobID(), Name: "watcher B", ArticleIDs: []string{shared.ID}, TotalArticles: 1}
	if err := jobs.CreateJob(ctx, jobB); err != nil {
		t.Fatal(err)
	}

	scraped := models.ArticleStatusScraped
	title := "Shared Title"
	content := "# Shared"
	now := time.Now()
	transition, err := articles.TransitionArticle(ctx, shared.ID, &interfaces.ArticlePatch{
		Status:    &scraped,
		Title:     &title,
		Content:   &content,
		ScrapedAt: &now,
	})
	if err != nil {
		t.Fatalf("Failed to transition article: %v", err)
	}

	if transition.Article.Status != models.ArticleStatusScraped {
		t.Errorf("Expected scraped, got %s", transition.Article.Status)
	}
	if transition.Article.Title != title {
		t.Errorf("Expected title applied, got %q", transition.Article.Title)
	}
	if len(transition.UpdatedJobs) != 2 {
		t.Fatalf("Expected 2 updated jobs, got %d", len(transition.UpdatedJobs))
	}

	byID := map[string]*models.Job{}
	for _, j := range transition.UpdatedJobs {
		byID[j.ID] = j
	}
	if a := byID[jobA.ID]; a == nil || a.CompletedCount != 1 || a.Status != models.JobStatusInProgress {
		t.Errorf("Expected jobA at 1/in_progress, got %+v", a)
	}
	if b := byID[jobB.ID]; b == nil || b.CompletedCount != 1 || b.Status != models.JobStatusCompleted {
		t.Errorf("Expected jobB completed, got %+v", b)
	}
	if b := byID[jobB.ID]; b != nil && b.CompletedAt == nil {
		t.Error("Expected CompletedAt on completed jobB")
	}

	// Stored state matches what the transition returned
	storedA, err := jobs.GetJob(ctx, jobA.ID)
	if err != nil {
		t.Fatal(err)
	}
	if storedA.CompletedCount != 1 {
		t.Errorf("Expected stored jobA counter 1, got %d", storedA.CompletedCount)
	}
}

func TestTransitionArticleSkipsTerminalJobs(t *testing.T) {
	db := newTestDB(t)
	logger := arbor.NewLogger()
	jobs := NewJobStorage(db, logger)
	articles := NewArticleStorage(db, logger)
	ctx := context.Background()

	shared := seedArticle(t, articles, "https://example.com/late", models.ArticleStatusPending)

	cancelledJob := &models.Job{ID: common.NewJobID(), Name: "cancelled watcher", ArticleIDs: []string{shared.ID}, TotalArticles: 1}
	if err := jobs.CreateJob(ctx, cancelledJob); err != nil {
		t.Fatal(err)
	}
	if _, err := jobs.SetJobStatus(ctx, cancelledJob.ID, models.JobStatusCancelled, "cancelled in test"); err != nil {
		t.Fatal(err)
	}

	liveJob := &models.Job{ID: common.NewJobID(), Name: "live watcher", ArticleIDs: []string{shared.ID}, TotalArticles: 1}
	if err := jobs.CreateJob(ctx, liveJob); err != nil {
		t.Fatal(err)
	}

	scraped := models.ArticleStatusScraped
	transition, err := articles.TransitionArticle(ctx, shared.ID, &interfaces.ArticlePatch{Status: &scraped})
	if err != nil {
		t.Fatalf("Failed to transition article: %v", err)
	}

	if len(transition.UpdatedJobs) != 1 || transition.UpdatedJobs[0].ID != liveJob.ID {
		t.Fatalf("Expected only the live job updated, got %d", len(transition.UpdatedJobs))
	}

	frozen, err := jobs.GetJob(ctx, cancelledJob.ID)
	if err != nil {
		t.Fatal(err)
	}
	if frozen.CompletedCount != 0 || frozen.Status != models.JobStatusCancelled {
		t.Errorf("Expected cancelled job untouched, got %d/%s", frozen.CompletedCount, frozen.Status)
	}
}

func TestTransitionArticleRevivedFailureCountsOnce(t *testing.T) {
	db := newTestDB(t)
	logger := arbor.NewLogger()
	jobs := NewJobStorage(db, logger)
	articles := NewArticleStorage(db, logger)
	ctx := context.Background()

	flaky := seedArticle(t, articles, "https://example.com/flaky", models.ArticleStatusPending)
	slow := seedArticle(t, articles, "https://example.com/slow", models.ArticleStatusScraping)

	oldJob := &models.Job{ID: common.NewJobID(), Name: "first watcher", ArticleIDs: []string{flaky.ID, slow.ID}, TotalArticles: 2}
	if err := jobs.CreateJob(ctx, oldJob); err != nil {
		t.Fatal(err)
	}

	// flaky exhausts its retries while slow is still being scraped
	failed := models.ArticleStatusFailed
	msg := "connection refused"
	if _, err := articles.TransitionArticle(ctx, flaky.ID, &interfaces.ArticlePatch{Status: &failed, ErrorMessage: &msg}); err != nil {
		t.Fatal(err)
	}

	// A later submission revives the failed article for a fresh attempt
	pending := models.ArticleStatusPending
	empty := ""
	zero := 0
	if _, err := articles.UpdateArticle(ctx, flaky.ID, &interfaces.ArticlePatch{
		Status:             &pending,
		ErrorMessage:       &empty,
		RetryCount:         &zero,
		StatusPrecondition: &failed,
	}); err != nil {
		t.Fatal(err)
	}
	newJob := &models.Job{ID: common.NewJobID(), Name: "second watcher", ArticleIDs: []string{flaky.ID}, TotalArticles: 1}
	if err := jobs.CreateJob(ctx, newJob); err != nil {
		t.Fatal(err)
	}

	// The retry succeeds. Only the reviving job may count it; the first
	// watcher already recorded this article as failed.
	scraped := models.ArticleStatusScraped
	transition, err := articles.TransitionArticle(ctx, flaky.ID, &interfaces.ArticlePatch{Status: &scraped})
	if err != nil {
		t.Fatal(err)
	}
	if len(transition.UpdatedJobs) != 1 || transition.UpdatedJobs[0].ID != newJob.ID {
		t.Fatalf("Expected only the reviving job updated, got %d", len(transition.UpdatedJobs))
	}

	storedOld, err := jobs.GetJob(ctx, oldJob.ID)
	if err != nil {
		t.Fatal(err)
	}
	if storedOld.CompletedCount != 0 || storedOld.FailedCount != 1 {
		t.Errorf("Expected first watcher at 0 completed / 1 failed, got %d/%d", storedOld.CompletedCount, storedOld.FailedCount)
	}
	if storedOld.IsTerminal() {
		t.Errorf("Expected first watcher still in progress, got %s", storedOld.Status)
	}

	storedNew, err := jobs.GetJob(ctx, newJob.ID)
	if err != nil {
		t.Fatal(err)
	}
	if storedNew.CompletedCount != 1 || storedNew.Status != models.JobStatusCompleted {
		t.Errorf("Expected reviving job completed, got %d/%s", storedNew.CompletedCount, storedNew.Status)
	}

	// The first watcher still settles normally once its own outstanding
	// article finishes
	if _, err := articles.TransitionArticle(ctx, slow.ID, &interfaces.ArticlePatch{Status: &scraped}); err != nil {
		t.Fatal(err)
	}
	storedOld, err = jobs.GetJob(ctx, oldJob.ID)
	if err != nil {
		t.Fatal(err)
	}
	if storedOld.CompletedCount != 1 || storedOld.FailedCount != 1 || storedOld.Status != models.JobStatusCompleted {
		t.Errorf("Expected first watcher at 1/1 completed, got %d/%d %s", storedOld.CompletedCount, storedOld.FailedCount, storedOld.Status)
	}
}

func TestTransitionArticleFailureMarksJobFailed(t *testing.T) {
	db := newTestDB(t)
	logger := arbor.NewLogger()
	jobs := NewJobStorage(db, logger)
	articles := NewArticleStorage(db, logger)
	ctx := context.Background()

	only := seedArticle(t, articles, "https://example.com/onlyfail", models.ArticleStatusPending)
	job := &models.Job{ID: common.NewJobID(), Name: "single", ArticleIDs: []string{only.ID}, TotalArticles: 1}
	if err := jobs.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	failed := models.ArticleStatusFailed
	msg := "connection refused"
	transition, err := articles.TransitionArticle(ctx, only.ID, &interfaces.ArticlePatch{
		Status:       &failed,
		ErrorMessage: &msg,
	})
	if err != nil {
		t.Fatalf("Failed to transition article: %v", err)
	}

	if transition.Article.ErrorMessage != msg {
		t.Errorf("Expected error message recorded, got %q", transition.Article.ErrorMessage)
	}
	if len(transition.UpdatedJobs) != 1 {
		t.Fatalf("Expected 1 updated job, got %d", len(transition.UpdatedJobs))
	}
	got := transition.UpdatedJobs[0]
	if got.Status != models.JobStatusFailed {
		t.Errorf("Expected job failed, got %s", got.Status)
	}
	if got.Error != "all articles failed" {
		t.Errorf("Expected all-failed error, got %q", got.Error)
	}
	if got.FailedCount != 1 {
		t.Errorf("Expected FailedCount 1, got %d", got.FailedCount)
	}
}

func TestTransitionArticleNonTerminalNoPropagation(t *testing.T) {
	db := newTestDB(t)
	logger := arbor.NewLogger()
	jobs := NewJobStorage(db, logger)
	articles := NewArticleStorage(db, logger)
	ctx := context.Background()

	a := seedArticle(t, articles, "https://example.com/claimed", models.ArticleStatusPending)
	job := &models.Job{ID: common.NewJobID(), Name: "holder", ArticleIDs: []string{a.ID}, TotalArticles: 1}
	if err := jobs.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	scraping := models.ArticleStatusScraping
	transition, err := articles.TransitionArticle(ctx, a.ID, &interfaces.ArticlePatch{Status: &scraping})
	if err != nil {
		t.Fatalf("Failed to transition article: %v", err)
	}
	if len(transition.UpdatedJobs) != 0 {
		t.Errorf("Expected no job updates for non-terminal transition, got %d", len(transition.UpdatedJobs))
	}

	got, err := jobs.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CompletedCount != 0 || got.FailedCount != 0 {
		t.Errorf("Expected counters untouched, got %d/%d", got.CompletedCount, got.FailedCount)
	}
}

func TestIncrementArticleReference(t *testing.T) {
	db := newTestDB(t)
	articles := NewArticleStorage(db, arbor.NewLogger())
	ctx := context.Background()

	seeded := seedArticle(t, articles, "https://example.com/refs", models.ArticleStatusPending)

	if err := articles.IncrementArticleReference(ctx, seeded.ID); err != nil {
		t.Fatalf("Failed to increment reference: %v", err)
	}
	if err := articles.IncrementArticleReference(ctx, seeded.ID); err != nil {
		t.Fatalf("Failed to increment reference: %v", err)
	}

	got, err := articles.GetArticle(ctx, seeded.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ReferenceCount != 2 {
		t.Errorf("Expected reference count 2, got %d", got.ReferenceCount)
	}

	err = articles.IncrementArticleReference(ctx, "art_missing")
	if !errors.Is(err, interfaces.ErrArticleNotFound) {
		t.Errorf("Expected ErrArticleNotFound, got %v", err)
	}
}

func TestListStaleArticles(t *testing.T) {
	db := newTestDB(t)
	articles := NewArticleStorage(db, arbor.NewLogger())
	ctx := context.Background()

	seedArticle(t, articles, "https://example.com/stuck", models.ArticleStatusScraping)
	seedArticle(t, articles, "https://example.com/waiting", models.ArticleStatusPending)

	// Cutoff in the future catches only the requested status
	stale, err := articles.ListStaleArticles(ctx, models.ArticleStatusScraping, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("Failed to list stale articles: %v", err)
	}
	if len(stale) != 1 || stale[0].URL != "https://example.com/stuck" {
		t.Fatalf("Expected the stuck article, got %d results", len(stale))
	}

	stale, err = articles.ListStaleArticles(ctx, models.ArticleStatusPending, time.Now().Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 || stale[0].URL != "https://example.com/waiting" {
		t.Fatalf("Expected the waiting article, got %d results", len(stale))
	}

	// Cutoff in the past catches nothing
	stale, err = articles.ListStaleArticles(ctx, models.ArticleStatusScraping, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Failed to list stale articles: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("Expected no stale articles, got %d", len(stale))
	}
}

func TestCountArticlesByStatus(t *testing.T) {
	db := newTestDB(t)
	articles := NewArticleStorage(db, arbor.NewLogger())
	ctx := context.Background()

	seedArticle(t, articles, "https://example.com/s1", models.ArticleStatusScraped)
	seedArticle(t, articles, "https://example.com/s2", models.ArticleStatusScraped)
	seedArticle(t, articles, "https://example.com/p1", models.ArticleStatusPending)

	counts, err := articles.CountArticlesByStatus(ctx)
	if err != nil {
		t.Fatalf("Failed to count articles: %v", err)
	}
	if counts[models.ArticleStatusScraped] != 2 {
		t.Errorf("Expected 2 scraped, got %d", counts[models.ArticleStatusScraped])
	}
	if counts[models.ArticleStatusPending] != 1 {
		t.Errorf("Expected 1 pending, got %d", counts[models.ArticleStatusPending])
	}
	if counts[models.ArticleStatusFailed] != 0 {
		t.Errorf("Expected 0 failed, got %d", counts[models.ArticleStatusFailed])
	}
}
