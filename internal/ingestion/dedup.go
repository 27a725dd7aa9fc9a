package ingestion

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/feedpulse/feedpulse/internal/models"
)

// Deduplicator removes duplicate items within and across sources. The primary
// fingerprint is the normalized URL; a secondary title fingerprint catches
// syndicated content republished under different URLs.
type Deduplicator struct {
	// WeightOf resolves the weight of an item's source; duplicates are
	// resolved in favor of the higher-weight source. Nil means all sources
	// weigh 1.0.
	WeightOf func(sourceID string) float64
}

// NewDeduplicator creates a deduplicator with the given weight resolver.
func NewDeduplicator(weightOf func(sourceID string) float64) *Deduplicator {
	return &Deduplicator{WeightOf: weightOf}
}

// Dedupe returns the unique items and the number removed. Survivor selection
// is stable: for a duplicate group the item from the higher-weight source
// wins; on equal weight the earliest published wins; a URL comparison breaks
// any remaining tie so repeated runs pick the same survivor.
func (d *Deduplicator) Dedupe(items []models.FeedItem) ([]models.FeedItem, int) {
	type slot struct {
		item  models.FeedItem
		order int // first-seen position, to keep output ordering stable
	}

	byFingerprint := make(map[string]*slot)
	// Secondary index: title fingerprint -> primary fingerprint it belongs to.
	titleAlias := make(map[string]string)
	var order []string

	for _, item := range items {
		fp := URLFingerprint(item.URL)
		if fp == "" {
			fp = "title:" + TitleFingerprint(item.Title)
		}

		// A different URL carrying the same title is still a duplicate.
		if tfp := TitleFingerprint(item.Title); tfp != "" {
			if primary, ok := titleAlias[tfp]; ok && primary != fp {
				fp = primary
			} else {
				titleAlias[tfp] = fp
			}
		}

		existing, ok := byFingerprint[fp]
		if !ok {
			byFingerprint[fp] = &slot{item: item, order: len(order)}
			order = append(order, fp)
			continue
		}
		if d.wins(item, existing.item) {
			existing.item = item
		}
	}

	unique := make([]models.FeedItem, 0, len(order))
	for _, fp := range order {
		unique = append(unique, byFingerprint[fp].item)
	}
	return unique, len(items) - len(unique)
}

// wins reports whether candidate should replace incumbent as the survivor.
func (d *Deduplicator) wins(candidate, incumbent models.FeedItem) bool {
	cw, iw := d.weight(candidate.SourceID), d.weight(incumbent.SourceID)
	if cw != iw {
		return cw > iw
	}
	if !candidate.PublishedAt.Equal(incumbent.PublishedAt) {
		return candidate.PublishedAt.Before(incumbent.PublishedAt)
	}
	return candidate.URL < incumbent.URL
}

func (d *Deduplicator) weight(sourceID string) float64 {
	if d.WeightOf == nil {
		return 1.0
	}
	return d.WeightOf(sourceID)
}

// URLFingerprint normalizes a URL down to scheme, host and path. Query
// strings, fragments and trailing slashes are stripped; host casing and a
// leading www. are ignored.
func URLFingerprint(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")
	path := strings.TrimSuffix(u.Path, "/")
	return strings.ToLower(u.Scheme) + "://" + host + path
}

var titleSpace = regexp.MustCompile(`\s+`)

// TitleFingerprint lowercases and collapses whitespace in a title. Short
// titles are too ambiguous to treat as identity and yield no fingerprint.
func TitleFingerprint(title string) string {
	t := titleSpace.ReplaceAllString(strings.ToLower(strings.TrimSpace(title)), " ")
	if len(t) < 12 {
		return ""
	}
	return t
}
