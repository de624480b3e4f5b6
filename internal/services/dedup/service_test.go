package dedup

import (
	"context"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/storage/badger"
)

// Test helper - newTestService wires the dedup service to a throwaway store
func newTestService(t *testing.T) (interfaces.DedupService, interfaces.ArticleStorage) {
	t.Helper()

	logger := arbor.NewLogger()
	mgr, err := badger.NewManager(logger, &common.StorageConfig{DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { mgr.Close() })

	return NewService(mgr.ArticleStorage(), logger), mgr.ArticleStorage()
}

// Test helper - seedWithStatus inserts an article and moves it to a status
func seedWithStatus(t *testing.T, articles interfaces.ArticleStorage, url string, status models.ArticleStatus) *models.Article {
	t.Helper()
	ctx := context.Background()

	stored, existed, err := articles.UpsertArticlePending(ctx, &models.Article{
		ID:       common.NewArticleID(),
		URL:      url,
		Priority: 5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if existed {
		t.Fatalf("Article %s unexpectedly existed", url)
	}

	if status != models.ArticleStatusPending {
		stored, err = articles.UpdateArticle(ctx, stored.ID, &interfaces.ArticlePatch{Status: &status})
		if err != nil {
			t.Fatal(err)
		}
	}
	return stored
}

func TestResolveFreshBatch(t *testing.T) {
	svc, articles := newTestService(t)
	ctx := context.Background()

	results, err := svc.Resolve(ctx, []interfaces.SubmitArticle{
		{URL: "https://example.com/a", Source: "feed", Priority: 2},
		{URL: "https://example.com/b", Source: "feed", Priority: 6},
	})
	if err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	for i, result := range results {
		if result.Class != interfaces.DedupMissEnqueue {
			t.Errorf("Result %d: expected miss_enqueue, got %s", i, result.Class)
		}
		if result.Article.Status != models.ArticleStatusPending {
			t.Errorf("Result %d: expected pending, got %s", i, result.Article.Status)
		}
	}

	// Each resolution holds one reference
	stored, err := articles.GetArticle(ctx, results[0].Article.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.ReferenceCount != 1 {
		t.Errorf("Expected reference count 1, got %d", stored.ReferenceCount)
	}
}

func TestResolveScrapedIsHit(t *testing.T) {
	svc, articles := newTestService(t)
	ctx := context.Background()

	seeded := seedWithStatus(t, articles, "https://example.com/cached", models.ArticleStatusScraped)

	results, err := svc.Resolve(ctx, []interfaces.SubmitArticle{
		{URL: "https://example.com/cached", Priority: 5},
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(results) != 1 || results[0].Class != interfaces.DedupHit {
		t.Fatalf("Expected a single hit, got %+v", results)
	}
	if results[0].Article.ID != seeded.ID {
		t.Errorf("Expected the stored article, got %s", results[0].Article.ID)
	}

	stored, err := articles.GetArticle(ctx, seeded.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != models.ArticleStatusScraped {
		t.Errorf("Expected hit to leave status untouched, got %s", stored.Status)
	}
	if stored.ReferenceCount != 1 {
		t.Errorf("Expected reference count bumped to 1, got %d", stored.ReferenceCount)
	}
}

func TestResolveCollapsesBatchDuplicates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// Same article three ways: exact dup, host case, trailing slash
	results, err := svc.Resolve(ctx, []interfaces.SubmitArticle{
		{URL: "https://example.com/x", Priority: 1},
		{URL: "https://Example.com/x", Priority: 9},
		{URL: "https://example.com/x/", Priority: 4},
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(results) != 1 {
		t.Fatalf("Expected 1 collapsed result, got %d", len(results))
	}
	if results[0].Class != interfaces.DedupMissEnqueue {
		t.Errorf("Expected miss_enqueue, got %s", results[0].Class)
	}
	if results[0].Article.Priority != 1 {
		t.Errorf("Expected first occurrence's priority to win, got %d", results[0].Article.Priority)
	}
}

func TestResolveInFlightIsScheduled(t *testing.T) {
	svc, articles := newTestService(t)
	ctx := context.Background()

	seedWithStatus(t, articles, "https://example.com/pending", models.ArticleStatusPending)
	seedWithStatus(t, articles, "https://example.com/scraping", models.ArticleStatusScraping)

	results, err := svc.Resolve(ctx, []interfaces.SubmitArticle{
		{URL: "https://example.com/pending", Priority: 5},
		{URL: "https://example.com/scraping", Priority: 5},
	})
	if err != nil {
		t.Fatal(err)
	}

	for i, result := range results {
		if result.Class != interfaces.DedupMissScheduled {
			t.Errorf("Result %d: expected miss_scheduled, got %s", i, result.Class)
		}
	}
}

func TestResolveFailedArticleResets(t *testing.T) {
	svc, articles := newTestService(t)
	ctx := context.Background()

	seeded := seedWithStatus(t, articles, "https://example.com/broken", models.ArticleStatusFailed)
	retries := 3
	msg := "gave up"
	if _, err := articles.UpdateArticle(ctx, seeded.ID, &interfaces.ArticlePatch{
		RetryCount:   &retries,
		ErrorMessage: &msg,
	}); err != nil {
		t.Fatal(err)
	}

	results, err := svc.Resolve(ctx, []interfaces.SubmitArticle{
		{URL: "https://example.com/broken", Priority: 5},
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(results) != 1 || results[0].Class != interfaces.DedupMissEnqueue {
		t.Fatalf("Expected miss_enqueue after reset, got %+v", results)
	}

	reset := results[0].Article
	if reset.Status != models.ArticleStatusPending {
		t.Errorf("Expected pending after reset, got %s", reset.Status)
	}
	if reset.RetryCount != 0 {
		t.Errorf("Expected retry count reset to 0, got %d", reset.RetryCount)
	}
	if reset.ErrorMessage != "" {
		t.Errorf("Expected error message cleared, got %q", reset.ErrorMessage)
	}
}

func TestResolveInvalidURL(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Resolve(context.Background(), []interfaces.SubmitArticle{
		{URL: "not a url", Priority: 5},
	})
	if err == nil {
		t.Error("Expected error for invalid URL")
	}
}
