package ingestion

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/feedpulse/feedpulse/internal/models"
)

// FeedAdapter fetches RSS 2.0 and Atom feeds.
type FeedAdapter struct {
	client *http.Client
}

// NewFeedAdapter creates a feed adapter using the shared HTTP client.
func NewFeedAdapter(client *http.Client) *FeedAdapter {
	return &FeedAdapter{client: client}
}

// Kind returns the source kind this adapter handles.
func (a *FeedAdapter) Kind() models.SourceKind { return models.SourceKindFeed }

// rss represents the RSS 2.0 feed structure.
type rss struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Title string    `xml:"title"`
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string   `xml:"title"`
	Link        string   `xml:"link"`
	Description string   `xml:"description"`
	Creator     string   `xml:"creator"` // dc:creator
	Author      string   `xml:"author"`
	PubDate     string   `xml:"pubDate"`
	GUID        string   `xml:"guid"`
	Categories  []string `xml:"category"`
}

// atomFeed represents the Atom feed structure.
type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title     string     `xml:"title"`
	Links     []atomLink `xml:"link"`
	Content   string     `xml:"content"`
	Summary   string     `xml:"summary"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
	ID        string     `xml:"id"`
	Author    struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Categories []struct {
		Term string `xml:"term,attr"`
	} `xml:"category"`
}

type atomLink struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
}

// Fetch retrieves and parses one feed. Entries that are malformed (no usable
// URL) are skipped, not fatal.
func (a *FeedAdapter) Fetch(ctx context.Context, source models.Source) ([]models.FeedItem, error) {
	body, err := getBody(ctx, a.client, source.ID, source.URL)
	if err != nil {
		return nil, err
	}

	items, err := parseFeed(source.ID, body)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	out := make([]models.FeedItem, 0, len(items))
	for _, it := range items {
		link := strings.TrimSpace(it.Link)
		if link == "" {
			link = strings.TrimSpace(it.GUID)
		}
		if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
			continue
		}

		author := strings.TrimSpace(it.Creator)
		if author == "" {
			author = strings.TrimSpace(it.Author)
		}

		item := models.FeedItem{
			SourceID:         source.ID,
			SourceURL:        source.URL,
			Title:            strings.TrimSpace(it.Title),
			URL:              link,
			Content:          stripHTML(it.Description),
			Author:           author,
			PublishedAt:      parsePubDate(it.PubDate, now),
			ProcessingStatus: models.ProcessingStatusPending,
		}
		for _, c := range it.Categories {
			if tag := strings.TrimSpace(c); tag != "" {
				item.AddTag(strings.ToLower(tag))
			}
		}
		out = append(out, item)
	}

	return out, nil
}

// parseFeed tries RSS 2.0 first, then Atom, converting Atom entries into the
// unified rssItem shape for processing.
func parseFeed(sourceID string, body []byte) ([]rssItem, error) {
	var doc rss
	rssErr := xml.Unmarshal(body, &doc)
	if rssErr == nil && len(doc.Channel.Items) > 0 {
		return doc.Channel.Items, nil
	}

	var atom atomFeed
	atomErr := xml.Unmarshal(body, &atom)
	if atomErr == nil && len(atom.Entries) > 0 {
		items := make([]rssItem, 0, len(atom.Entries))
		for _, e := range atom.Entries {
			desc := e.Summary
			if desc == "" {
				desc = e.Content
			}
			published := e.Published
			if published == "" {
				published = e.Updated
			}
			it := rssItem{
				Title:       e.Title,
				Link:        pickAtomLink(e.Links),
				Description: desc,
				Author:      e.Author.Name,
				PubDate:     published,
				GUID:        e.ID,
			}
			for _, c := range e.Categories {
				it.Categories = append(it.Categories, c.Term)
			}
			items = append(items, it)
		}
		return items, nil
	}

	if rssErr != nil || atomErr != nil {
		return nil, NewFetchError(FetchParseError, sourceID,
			fmt.Errorf("not parseable as RSS (%v) or Atom (%v)", rssErr, atomErr))
	}
	return nil, NewFetchError(FetchParseError, sourceID, fmt.Errorf("feed contains no items"))
}

// pickAtomLink prefers the alternate link, falling back to the first href.
func pickAtomLink(links []atomLink) string {
	for _, l := range links {
		if l.Rel == "alternate" || l.Rel == "" {
			return l.Href
		}
	}
	if len(links) > 0 {
		return links[0].Href
	}
	return ""
}

// feedDateFormats covers the date shapes seen across RSS and Atom feeds.
var feedDateFormats = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	"Mon, 02 Jan 2006 15:04:05 -0700",
	"Mon, 02 Jan 2006 15:04:05 MST",
	"2006-01-02T15:04:05Z07:00",
}

// parsePubDate attempts the known formats, falling back to the fetch time.
func parsePubDate(raw string, fallback time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	for _, format := range feedDateFormats {
		if t, err := time.Parse(format, raw); err == nil {
			return t
		}
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04:05", raw, time.UTC); err == nil {
		return t
	}
	return fallback
}

var (
	tagPattern   = regexp.MustCompile(`<[^>]*>`)
	spacePattern = regexp.MustCompile(`[ \t]+`)
)

// stripHTML removes markup and collapses whitespace in feed descriptions.
func stripHTML(text string) string {
	for _, br := range []string{"<p>", "</p>", "<br>", "<br/>", "<br />"} {
		text = strings.ReplaceAll(text, br, "\n")
	}
	text = tagPattern.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	text = strings.ReplaceAll(text, "&quot;", `"`)
	text = strings.ReplaceAll(text, "&#39;", "'")
	text = spacePattern.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
