package models

import "time"

// FetchResult is the outcome of one (profile, source) fetch attempt. It is
// transient diagnostic data, never persisted.
type FetchResult struct {
	SourceID   string `json:"source_id"`
	Success    bool   `json:"success"`
	ItemCount  int    `json:"item_count"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// AggregationResult is the outcome of one aggregation run for a profile.
// The aggregator owns the value it returns; nothing mutates it afterwards.
type AggregationResult struct {
	ProfileID          string        `json:"profile_id"`
	ProfileName        string        `json:"profile_name"`
	TotalItems         int           `json:"total_items"`
	ProcessedItems     int           `json:"processed_items"`
	AvgRelevanceScore  float64       `json:"avg_relevance_score"`
	DuplicatesRemoved  int           `json:"duplicates_removed"`
	FetchResults       []FetchResult `json:"fetch_results"`
	ProcessedFeedItems []FeedItem    `json:"processed_feed_items,omitempty"`
	AIEnabled          bool          `json:"ai_enabled"`
	Cached             bool          `json:"cached"`
	CacheAgeSeconds    *int64        `json:"cache_age_seconds,omitempty"`
	Notes              []string      `json:"notes,omitempty"`
	GeneratedAt        time.Time     `json:"generated_at"`
}

// WithoutItems returns a shallow copy with the item payload stripped, for
// callers that only want counts and diagnostics.
func (r AggregationResult) WithoutItems() AggregationResult {
	r.ProcessedFeedItems = nil
	return r
}
