package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
)

const articlePage = `<!DOCTYPE html>
<html>
<head>
  <title>Rates Held Steady</title>
  <script>var tracking = true;</script>
  <style>body { margin: 0; }</style>
</head>
<body>
  <nav><a href="/home">Home</a></nav>
  <article>
    <h1>Rates Held Steady</h1>
    <p>The central bank left rates unchanged on Tuesday.</p>
    <p>Economists called the move <a href="/analysis">widely expected</a>.</p>
  </article>
  <footer>Copyright</footer>
</body>
</html>`

// Test helper - newTestServer serves canned pages for each extraction case
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/article", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(articlePage))
	})
	mux.HandleFunc("/og-title", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><meta property="og:title" content="Social Title"></head><body><p>body text</p></body></html>`))
	})
	mux.HandleFunc("/h1-title", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><h1>Heading Title</h1><p>body text</p></body></html>`))
	})
	mux.HandleFunc("/untitled", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>just a paragraph</p></body></html>`))
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><script>nothing()</script></body></html>`))
	})
	mux.HandleFunc("/data.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"not": "html"}`))
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(articlePage))
	})
	mux.HandleFunc("/huge", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><head><title>Huge Page</title></head><body><p>lead paragraph</p>"))
		filler := strings.Repeat("<p>filler filler filler</p>", 1000)
		w.Write([]byte(filler))
		w.Write([]byte("</body></html>"))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestScraper(t *testing.T, cfg *common.ScraperConfig) *Service {
	t.Helper()
	if cfg == nil {
		cfg = &common.ScraperConfig{Timeout: "5s"}
	}
	service := NewService(cfg, arbor.NewLogger())
	t.Cleanup(func() { service.Close() })
	return service
}

func TestScrapeExtractsTitleAndMarkdown(t *testing.T) {
	server := newTestServer(t)
	service := newTestScraper(t, nil)

	result, err := service.Scrape(context.Background(), server.URL+"/article")
	if err != nil {
		t.Fatalf("Failed to scrape: %v", err)
	}

	if result.Title != "Rates Held Steady" {
		t.Errorf("Expected title from <title>, got %q", result.Title)
	}
	if !strings.Contains(result.Content, "left rates unchanged") {
		t.Errorf("Expected article text in markdown, got %q", result.Content)
	}
	if !strings.Contains(result.Content, "widely expected") {
		t.Errorf("Expected link text preserved, got %q", result.Content)
	}
	if strings.Contains(result.Content, "tracking") || strings.Contains(result.Content, "margin: 0") {
		t.Errorf("Expected script and style stripped, got %q", result.Content)
	}
	if strings.Contains(result.Content, "Copyright") {
		t.Errorf("Expected footer stripped, got %q", result.Content)
	}
}

func TestScrapeTitleFallbacks(t *testing.T) {
	server := newTestServer(t)
	service := newTestScraper(t, nil)
	ctx := context.Background()

	tests := []struct {
		path  string
		title string
	}{
		{"/og-title", "Social Title"},
		{"/h1-title", "Heading Title"},
		{"/untitled", "Untitled"},
	}

	for _, tt := range tests {
		result, err := service.Scrape(ctx, server.URL+tt.path)
		if err != nil {
			t.Fatalf("%s: %v", tt.path, err)
		}
		if result.Title != tt.title {
			t.Errorf("%s: expected title %q, got %q", tt.path, tt.title, result.Title)
		}
	}
}

func TestScrapeEmptyContentFails(t *testing.T) {
	server := newTestServer(t)
	service := newTestScraper(t, nil)

	if _, err := service.Scrape(context.Background(), server.URL+"/empty"); err == nil {
		t.Error("Expected error for page with no readable content")
	}
}

func TestScrapeRejectsNonHTML(t *testing.T) {
	server := newTestServer(t)
	service := newTestScraper(t, nil)

	_, err := service.Scrape(context.Background(), server.URL+"/data.json")
	if err == nil || !strings.Contains(err.Error(), "unsupported content type") {
		t.Errorf("Expected content type rejection, got %v", err)
	}
}

func TestScrapeStatusError(t *testing.T) {
	server := newTestServer(t)
	service := newTestScraper(t, nil)

	_, err := service.Scrape(context.Background(), server.URL+"/does-not-exist")
	if err == nil || !strings.Contains(err.Error(), "unexpected status 404") {
		t.Errorf("Expected 404 error, got %v", err)
	}
}

func TestScrapeHonorsContextDeadline(t *testing.T) {
	server := newTestServer(t)
	service := newTestScraper(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := service.Scrape(ctx, server.URL+"/slow"); err == nil {
		t.Error("Expected deadline error for slow endpoint")
	}
}

func TestScrapeTruncatesOversizedBody(t *testing.T) {
	server := newTestServer(t)
	service := newTestScraper(t, &common.ScraperConfig{
		Timeout:     "5s",
		MaxBodySize: 2048,
	})

	result, err := service.Scrape(context.Background(), server.URL+"/huge")
	if err != nil {
		t.Fatalf("Expected truncated scrape to succeed, got %v", err)
	}
	if result.Title != "Huge Page" {
		t.Errorf("Expected title from the truncated head, got %q", result.Title)
	}
	if len(result.Content) > 4096 {
		t.Errorf("Expected content bounded by the body limit, got %d bytes", len(result.Content))
	}
}
