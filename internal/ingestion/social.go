package ingestion

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/feedpulse/feedpulse/internal/models"
)

// SocialAdapter fetches Mastodon-style public timelines. The source URL is the
// timeline endpoint, e.g. https://fosstodon.org/api/v1/timelines/tag/golang.
type SocialAdapter struct {
	client *http.Client
}

// NewSocialAdapter creates a social adapter using the shared HTTP client.
func NewSocialAdapter(client *http.Client) *SocialAdapter {
	return &SocialAdapter{client: client}
}

// Kind returns the source kind this adapter handles.
func (a *SocialAdapter) Kind() models.SourceKind { return models.SourceKindSocial }

type socialStatus struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	URI     string `json:"uri"`
	Content string `json:"content"`
	Account struct {
		Username    string `json:"username"`
		DisplayName string `json:"display_name"`
	} `json:"account"`
	CreatedAt string `json:"created_at"`
	Tags      []struct {
		Name string `json:"name"`
	} `json:"tags"`
	Card *struct {
		Title string `json:"title"`
	} `json:"card"`
}

// Fetch retrieves statuses from the timeline. Statuses without a resolvable
// URL or with empty content are skipped.
func (a *SocialAdapter) Fetch(ctx context.Context, source models.Source) ([]models.FeedItem, error) {
	body, err := getBody(ctx, a.client, source.ID, source.URL)
	if err != nil {
		return nil, err
	}

	var statuses []socialStatus
	if err := json.Unmarshal(body, &statuses); err != nil {
		return nil, NewFetchError(FetchParseError, source.ID, err)
	}

	now := time.Now().UTC()
	items := make([]models.FeedItem, 0, len(statuses))
	for _, st := range statuses {
		link := st.URL
		if link == "" {
			link = st.URI
		}
		if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
			continue
		}

		content := stripHTML(st.Content)
		if content == "" {
			continue
		}

		title := content
		if st.Card != nil && strings.TrimSpace(st.Card.Title) != "" {
			title = strings.TrimSpace(st.Card.Title)
		}
		title = firstLine(title, 140)

		author := st.Account.DisplayName
		if author == "" {
			author = st.Account.Username
		}

		published := now
		if t, err := time.Parse(time.RFC3339, st.CreatedAt); err == nil {
			published = t
		}

		item := models.FeedItem{
			SourceID:         source.ID,
			SourceURL:        source.URL,
			Title:            title,
			URL:              link,
			Content:          content,
			Author:           author,
			PublishedAt:      published,
			ProcessingStatus: models.ProcessingStatusPending,
		}
		for _, tag := range st.Tags {
			if tag.Name != "" {
				item.AddTag(strings.ToLower(tag.Name))
			}
		}
		items = append(items, item)
	}

	return items, nil
}

// firstLine truncates text to its first line, capped at max runes.
func firstLine(text string, max int) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	runes := []rune(text)
	if len(runes) > max {
		return strings.TrimSpace(string(runes[:max])) + "…"
	}
	return strings.TrimSpace(text)
}
