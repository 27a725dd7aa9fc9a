package models

import (
	"time"
)

// ProcessingStatus tracks an item's position in the enrichment lifecycle.
// Transitions only move forward: pending -> processing -> processed|failed.
type ProcessingStatus string

const (
	ProcessingStatusPending    ProcessingStatus = "pending"
	ProcessingStatusProcessing ProcessingStatus = "processing"
	ProcessingStatusProcessed  ProcessingStatus = "processed"
	ProcessingStatusFailed     ProcessingStatus = "failed"
)

// rank orders statuses so regressions can be rejected.
func (s ProcessingStatus) rank() int {
	switch s {
	case ProcessingStatusPending:
		return 0
	case ProcessingStatusProcessing:
		return 1
	case ProcessingStatusProcessed, ProcessingStatusFailed:
		return 2
	default:
		return -1
	}
}

// CanTransitionTo reports whether moving to next is a forward transition.
func (s ProcessingStatus) CanTransitionTo(next ProcessingStatus) bool {
	if s == next {
		return true
	}
	return next.rank() > s.rank()
}

// FeedItem is the normalized unit of content flowing through the pipeline.
// URL is the natural identity used for deduplication and idempotent storage;
// ID is a surrogate assigned when the item is first persisted.
type FeedItem struct {
	ID               string           `json:"id,omitempty"`
	SourceID         string           `json:"source_id"`
	SourceURL        string           `json:"source_url,omitempty"`
	Title            string           `json:"title"`
	URL              string           `json:"url"`
	Content          string           `json:"content,omitempty"`
	Author           string           `json:"author,omitempty"`
	PublishedAt      time.Time        `json:"published_at"`
	Tags             []string         `json:"tags,omitempty"`
	RelevanceScore   float64          `json:"relevance_score"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
	AIProcessed      bool             `json:"ai_processed"`
	AISummary        string           `json:"ai_summary,omitempty"`
	AITags           []string         `json:"ai_tags,omitempty"`
	Insights         string           `json:"insights,omitempty"`
	CreatedAt        time.Time        `json:"created_at,omitempty"`
	UpdatedAt        time.Time        `json:"updated_at,omitempty"`
}

// AddTag appends a tag preserving ordered-set semantics (no duplicates,
// insertion order kept).
func (i *FeedItem) AddTag(tag string) {
	for _, t := range i.Tags {
		if t == tag {
			return
		}
	}
	i.Tags = append(i.Tags, tag)
}

// AdvanceStatus moves the item to next if that is a forward transition and
// reports whether the move was applied.
func (i *FeedItem) AdvanceStatus(next ProcessingStatus) bool {
	if !i.ProcessingStatus.CanTransitionTo(next) {
		return false
	}
	i.ProcessingStatus = next
	return true
}

// DisplayName returns a human-readable identifier for logs.
func (i *FeedItem) DisplayName() string {
	if i.Title != "" {
		return i.Title
	}
	return i.URL
}
