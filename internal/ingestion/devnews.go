package ingestion

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/feedpulse/feedpulse/internal/models"
)

// DevNewsAdapter fetches stories from Hacker News style search APIs
// (Algolia's hn.algolia.com schema). The source URL is the full query URL,
// e.g. https://hn.algolia.com/api/v1/search_by_date?tags=story&query=go.
type DevNewsAdapter struct {
	client *http.Client
}

// NewDevNewsAdapter creates a devnews adapter using the shared HTTP client.
func NewDevNewsAdapter(client *http.Client) *DevNewsAdapter {
	return &DevNewsAdapter{client: client}
}

// Kind returns the source kind this adapter handles.
func (a *DevNewsAdapter) Kind() models.SourceKind { return models.SourceKindDevNews }

type devNewsResponse struct {
	Hits []devNewsHit `json:"hits"`
}

type devNewsHit struct {
	ObjectID  string   `json:"objectID"`
	Title     string   `json:"title"`
	URL       string   `json:"url"`
	Author    string   `json:"author"`
	StoryText string   `json:"story_text"`
	CreatedAt string   `json:"created_at"`
	Tags      []string `json:"_tags"`
}

// Fetch retrieves stories from the API. Hits without a title are skipped.
func (a *DevNewsAdapter) Fetch(ctx context.Context, source models.Source) ([]models.FeedItem, error) {
	body, err := getBody(ctx, a.client, source.ID, source.URL)
	if err != nil {
		return nil, err
	}

	var resp devNewsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewFetchError(FetchParseError, source.ID, err)
	}

	now := time.Now().UTC()
	items := make([]models.FeedItem, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		title := strings.TrimSpace(hit.Title)
		if title == "" {
			continue
		}

		link := strings.TrimSpace(hit.URL)
		if link == "" && hit.ObjectID != "" {
			// Ask HN and text posts have no external URL.
			link = "https://news.ycombinator.com/item?id=" + hit.ObjectID
		}
		if link == "" {
			continue
		}

		published := now
		if t, err := time.Parse(time.RFC3339, hit.CreatedAt); err == nil {
			published = t
		}

		item := models.FeedItem{
			SourceID:         source.ID,
			SourceURL:        source.URL,
			Title:            title,
			URL:              link,
			Content:          stripHTML(hit.StoryText),
			Author:           strings.TrimSpace(hit.Author),
			PublishedAt:      published,
			ProcessingStatus: models.ProcessingStatusPending,
		}
		for _, tag := range hit.Tags {
			if tag != "" && !strings.HasPrefix(tag, "author_") && !strings.HasPrefix(tag, "story_") {
				item.AddTag(tag)
			}
		}
		items = append(items, item)
	}

	return items, nil
}
