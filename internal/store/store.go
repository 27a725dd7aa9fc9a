// Package store defines the boundary to the durable item store. The pipeline
// treats the store as opaque: CRUD plus URL search, all idempotent-safe under
// retry.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/feedpulse/feedpulse/internal/models"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("store: not found")

// ItemPatch is a partial update to a stored item. Nil fields are untouched.
type ItemPatch struct {
	ProcessingStatus *models.ProcessingStatus
	AIProcessed      *bool
	AISummary        *string
	AITags           []string
	Insights         *string
	RelevanceScore   *float64
}

// Engagement is one fire-and-forget user interaction with an item.
type Engagement struct {
	ItemID    string    `json:"item_id"`
	ProfileID string    `json:"profile_id"`
	Action    string    `json:"action"` // view|click|read|unread
	At        time.Time `json:"at"`
}

// Store is the persistence interface the pipeline consumes. Implementations
// must make creates idempotent (keyed by URL for items, by id for sources) so
// retries never produce duplicates.
type Store interface {
	// SearchItemByURL returns the item with the exact URL, or ErrNotFound.
	SearchItemByURL(ctx context.Context, url string) (*models.FeedItem, error)

	// GetSourceByID returns a persisted source definition, or ErrNotFound.
	GetSourceByID(ctx context.Context, id string) (*models.Source, error)

	// CreateSource persists a source if absent; creating an existing id is a
	// no-op.
	CreateSource(ctx context.Context, s models.Source) error

	// UpsertFeedItem inserts the item keyed by URL, assigning a surrogate ID
	// on first insert, or refreshes mutable fields on conflict. Reports
	// whether a new row was created.
	UpsertFeedItem(ctx context.Context, item *models.FeedItem) (bool, error)

	// UpdateFeedItem applies a partial update to an item by id.
	UpdateFeedItem(ctx context.Context, id string, patch ItemPatch) error

	// ListItemsBySource returns the most recent items for a source.
	ListItemsBySource(ctx context.Context, sourceID string, limit int) ([]models.FeedItem, error)

	// ListPendingItems returns up to limit items awaiting enrichment,
	// optionally restricted to the given source ids (nil means all).
	ListPendingItems(ctx context.Context, sourceIDs []string, limit int) ([]models.FeedItem, error)

	// CountPendingItems counts items awaiting enrichment.
	CountPendingItems(ctx context.Context, sourceIDs []string) (int, error)

	// RecordEngagement appends one engagement event.
	RecordEngagement(ctx context.Context, e Engagement) error
}
