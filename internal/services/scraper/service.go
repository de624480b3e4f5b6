// -----------------------------------------------------------------------
// Scraper Service - fetches article URLs and extracts their content
// -----------------------------------------------------------------------

package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

const (
	defaultUserAgent   = "colligo/1.0"
	defaultMaxBodySize = 10 * 1024 * 1024
)

// fetcher retrieves the raw HTML behind a URL
type fetcher interface {
	fetch(ctx context.Context, url string) (string, error)
}

// Service implements the article scraper: fetch over HTTP (or a headless
// browser when configured) and extract title plus markdown content.
type Service struct {
	fetcher   fetcher
	extractor *Extractor
	browser   *browserFetcher
	logger    arbor.ILogger
}

// NewService creates a scraper from config. With use_browser set, pages
// are rendered in headless Chrome before extraction.
func NewService(cfg *common.ScraperConfig, logger arbor.ILogger) *Service {
	service := &Service{
		extractor: NewExtractor(logger),
		logger:    logger,
	}

	if cfg.UseBrowser {
		service.browser = newBrowserFetcher(cfg, logger)
		service.fetcher = service.browser
		logger.Info().Msg("Scraper using headless browser rendering")
	} else {
		service.fetcher = newHTTPFetcher(cfg)
	}

	return service
}

// Scrape fetches the URL and extracts article content from it
func (s *Service) Scrape(ctx context.Context, url string) (*interfaces.ScrapeResult, error) {
	html, err := s.fetcher.fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}

	result, err := s.extractor.Extract(html, url)
	if err != nil {
		return nil, fmt.Errorf("extraction failed: %w", err)
	}
	return result, nil
}

// Close releases the browser when one was started
func (s *Service) Close() error {
	if s.browser != nil {
		s.browser.close()
	}
	return nil
}

// httpFetcher is the plain HTTP fetch path
type httpFetcher struct {
	client      *http.Client
	userAgent   string
	maxBodySize int
}

func newHTTPFetcher(cfg *common.ScraperConfig) *httpFetcher {
	timeout := common.ParseDurationOr(cfg.Timeout, 30*time.Second)
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	maxBodySize := cfg.MaxBodySize
	if maxBodySize <= 0 {
		maxBodySize = defaultMaxBodySize
	}

	return &httpFetcher{
		client:      &http.Client{Timeout: timeout},
		userAgent:   userAgent,
		maxBodySize: maxBodySize,
	}
}

func (f *httpFetcher) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(strings.ToLower(contentType), "text/html") &&
		!strings.HasPrefix(strings.ToLower(contentType), "application/xhtml") {
		return "", fmt.Errorf("unsupported content type: %s", contentType)
	}

	// Oversized pages are truncated, not failed
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(f.maxBodySize)))
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	return string(body), nil
}
