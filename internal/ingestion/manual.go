package ingestion

import (
	"context"
	"fmt"

	"github.com/feedpulse/feedpulse/internal/models"
)

// ManualAdapter serves user-submitted items. There is nothing to fetch over
// the network; submitted items already live in the store and are replayed into
// the run so they compete with feed items for relevance.
type ManualAdapter struct {
	store ManualItemLister
}

// NewManualAdapter creates a manual adapter over the store.
func NewManualAdapter(store ManualItemLister) *ManualAdapter {
	return &ManualAdapter{store: store}
}

// Kind returns the source kind this adapter handles.
func (a *ManualAdapter) Kind() models.SourceKind { return models.SourceKindManual }

const manualReplayLimit = 50

// Fetch lists recent items previously submitted for this source.
func (a *ManualAdapter) Fetch(ctx context.Context, source models.Source) ([]models.FeedItem, error) {
	if a.store == nil {
		return nil, NewFetchError(FetchUnreachable, source.ID, fmt.Errorf("no store configured"))
	}
	items, err := a.store.ListItemsBySource(ctx, source.ID, manualReplayLimit)
	if err != nil {
		return nil, ClassifyFetchError(source.ID, err)
	}
	return items, nil
}
