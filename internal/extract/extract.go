// Package extract turns article URLs into clean text content.
package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

const (
	requestTimeout = 30 * time.Second
	maxBodyBytes   = 5 << 20 // articles, not downloads
	userAgent      = "mailbrief/1.0 (+newsletter ingestion)"
)

// Result is the shape the ingestion pipeline depends on. FinalURL differs
// from the requested URL when the link was a tracking redirect.
type Result struct {
	Title         string
	Content       string // cleaned HTML
	TextContent   string // plain text
	PublishedDate *time.Time
	FinalURL      string
}

// Extractor fetches and extracts a single article.
type Extractor interface {
	Extract(ctx context.Context, rawURL string) (*Result, error)
}

// ReadabilityExtractor is the production Extractor: a plain GET that
// follows redirects (capturing the final URL), then readability over the
// fetched document.
type ReadabilityExtractor struct {
	client *http.Client
}

// NewReadabilityExtractor creates the production extractor.
func NewReadabilityExtractor() *ReadabilityExtractor {
	return &ReadabilityExtractor{
		client: &http.Client{Timeout: requestTimeout},
	}
}

// Extract fetches rawURL and returns the extracted article, or nil when
// the page holds no readable article content.
func (e *ReadabilityExtractor) Extract(ctx context.Context, rawURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid article url %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch %s: status %d", rawURL, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.Contains(contentType, "html") {
		return nil, nil // images, PDFs etc. are not article pages
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	parsedFinal, err := url.Parse(finalURL)
	if err != nil {
		return nil, fmt.Errorf("unparseable final url %s: %w", finalURL, err)
	}

	body := io.LimitReader(resp.Body, maxBodyBytes)
	article, err := readability.FromReader(body, parsedFinal)
	if err != nil {
		return nil, fmt.Errorf("readability extraction failed for %s: %w", finalURL, err)
	}

	if strings.TrimSpace(article.TextContent) == "" {
		return nil, nil
	}

	return &Result{
		Title:         strings.TrimSpace(article.Title),
		Content:       article.Content,
		TextContent:   strings.TrimSpace(article.TextContent),
		PublishedDate: article.PublishedTime,
		FinalURL:      finalURL,
	}, nil
}
