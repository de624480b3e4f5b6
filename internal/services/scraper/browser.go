// -----------------------------------------------------------------------
// Browser Fetcher - renders pages in headless Chrome before extraction
// -----------------------------------------------------------------------

package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
)

// browserFetcher holds one Chrome allocator shared by every fetch; each
// fetch runs in its own tab context.
type browserFetcher struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	wait        time.Duration
	logger      arbor.ILogger
}

func newBrowserFetcher(cfg *common.ScraperConfig, logger arbor.ILogger) *browserFetcher {
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	wait := common.ParseDurationOr(cfg.BrowserWait, 2*time.Second)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(userAgent),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &browserFetcher{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		wait:        wait,
		logger:      logger,
	}
}

func (f *browserFetcher) fetch(ctx context.Context, url string) (string, error) {
	tabCtx, cancelTab := chromedp.NewContext(f.allocCtx)
	defer cancelTab()

	// Carry the caller's deadline into the tab
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		tabCtx, cancelDeadline = context.WithDeadline(tabCtx, deadline)
		defer cancelDeadline()
	}

	var html string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.Sleep(f.wait),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", fmt.Errorf("browser render failed: %w", err)
	}

	f.logger.Debug().
		Str("url", url).
		Int("html_size", len(html)).
		Msg("Page rendered in browser")

	return html, nil
}

func (f *browserFetcher) close() {
	f.allocCancel()
}
