package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
)

// PageMetadata is what a submitted URL's page reveals about itself.
type PageMetadata struct {
	Title       string
	Description string
	Author      string
	PublishedAt time.Time
}

// MetadataExtractor fetches a page and pulls title, description, author and
// publish time from OpenGraph and standard meta tags.
type MetadataExtractor struct {
	client *http.Client
}

// NewMetadataExtractor creates an extractor over the given client.
func NewMetadataExtractor(client *http.Client) *MetadataExtractor {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &MetadataExtractor{client: client}
}

// Extract fetches the URL and parses its metadata. The publish timestamp falls
// back to the fetch time when the page carries none.
func (m *MetadataExtractor) Extract(ctx context.Context, url string) (PageMetadata, error) {
	meta := PageMetadata{PublishedAt: time.Now().UTC()}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return meta, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "feedpulse/1.0 (+https://github.com/feedpulse/feedpulse)")

	resp, err := m.client.Do(req)
	if err != nil {
		return meta, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return meta, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return meta, fmt.Errorf("parse page: %w", err)
	}

	meta.Title = firstNonEmpty(
		metaContent(doc, `meta[property="og:title"]`),
		metaContent(doc, `meta[name="twitter:title"]`),
		strings.TrimSpace(doc.Find("title").First().Text()),
	)
	meta.Description = firstNonEmpty(
		metaContent(doc, `meta[property="og:description"]`),
		metaContent(doc, `meta[name="description"]`),
	)
	meta.Author = firstNonEmpty(
		metaContent(doc, `meta[name="author"]`),
		metaContent(doc, `meta[property="article:author"]`),
	)

	raw := firstNonEmpty(
		metaContent(doc, `meta[property="article:published_time"]`),
		metaContent(doc, `meta[name="date"]`),
		metaContent(doc, `meta[itemprop="datePublished"]`),
	)
	if raw != "" {
		if t, err := dateparse.ParseAny(raw); err == nil {
			meta.PublishedAt = t.UTC()
		}
	}

	return meta, nil
}

func metaContent(doc *goquery.Document, selector string) string {
	content, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(content)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
