// -----------------------------------------------------------------------
// Extractor - pulls title and readable markdown out of fetched HTML
// -----------------------------------------------------------------------

package scraper

import (
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// Extractor parses scraped HTML into article content
type Extractor struct {
	logger arbor.ILogger
}

// NewExtractor creates a new content extractor
func NewExtractor(logger arbor.ILogger) *Extractor {
	return &Extractor{
		logger: logger,
	}
}

// Extract parses the HTML, picks a title, isolates the main content
// area and converts it to markdown
func (e *Extractor) Extract(html, sourceURL string) (*interfaces.ScrapeResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	title := e.extractTitle(doc)

	// Strip chrome before conversion
	doc.Find("script, style, nav, footer, aside").Remove()

	content := doc.Find("main, article, .content, .main-content, #content, #main, body").First()
	if content.Length() == 0 {
		content = doc.Selection
	}

	cleaned, err := content.Html()
	if err != nil {
		return nil, fmt.Errorf("failed to isolate content: %w", err)
	}

	converter := md.NewConverter(sourceURL, true, nil)
	markdown, err := converter.ConvertString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("failed to convert to markdown: %w", err)
	}
	markdown = strings.TrimSpace(markdown)

	if markdown == "" {
		return nil, fmt.Errorf("no readable content at %s", sourceURL)
	}

	e.logger.Debug().
		Str("source_url", sourceURL).
		Str("title", title).
		Int("content_size", len(markdown)).
		Msg("Content extracted")

	return &interfaces.ScrapeResult{
		Title:   title,
		Content: markdown,
	}, nil
}

// extractTitle extracts the page title from various sources
func (e *Extractor) extractTitle(doc *goquery.Document) string {
	if title := doc.Find("title").First().Text(); title != "" {
		return strings.TrimSpace(title)
	}

	if ogTitle, exists := doc.Find("meta[property='og:title']").Attr("content"); exists && ogTitle != "" {
		return strings.TrimSpace(ogTitle)
	}

	if h1 := doc.Find("h1").First().Text(); h1 != "" {
		return strings.TrimSpace(h1)
	}

	if twitterTitle, exists := doc.Find("meta[name='twitter:title']").Attr("content"); exists && twitterTitle != "" {
		return strings.TrimSpace(twitterTitle)
	}

	return "Untitled"
}
