package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/feedpulse/feedpulse/internal/models"
)

// MemoryStore is a mutex-guarded in-memory Store. It backs tests and
// deployments without a DATABASE_URL; contents do not survive a restart.
type MemoryStore struct {
	mu          sync.RWMutex
	itemsByURL  map[string]*models.FeedItem
	itemsByID   map[string]*models.FeedItem
	sources     map[string]models.Source
	engagements []Engagement
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		itemsByURL: make(map[string]*models.FeedItem),
		itemsByID:  make(map[string]*models.FeedItem),
		sources:    make(map[string]models.Source),
	}
}

// SearchItemByURL returns the item with the exact URL.
func (s *MemoryStore) SearchItemByURL(ctx context.Context, url string) (*models.FeedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.itemsByURL[url]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *item
	return &clone, nil
}

// GetSourceByID returns a persisted source.
func (s *MemoryStore) GetSourceByID(ctx context.Context, id string) (*models.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src, ok := s.sources[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &src, nil
}

// CreateSource persists a source with create-if-absent semantics.
func (s *MemoryStore) CreateSource(ctx context.Context, src models.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sources[src.ID]; ok {
		return nil
	}
	s.sources[src.ID] = src
	return nil
}

// UpsertFeedItem inserts or refreshes the item keyed by URL. Enrichment data
// already stored is never cleared by an incoming item without it, and status
// never regresses from a terminal state.
func (s *MemoryStore) UpsertFeedItem(ctx context.Context, item *models.FeedItem) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if item.ProcessingStatus == "" {
		item.ProcessingStatus = models.ProcessingStatusPending
	}

	existing, ok := s.itemsByURL[item.URL]
	if !ok {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		item.CreatedAt = now
		item.UpdatedAt = now
		clone := *item
		s.itemsByURL[item.URL] = &clone
		s.itemsByID[item.ID] = &clone
		return true, nil
	}

	existing.Title = item.Title
	existing.Content = item.Content
	existing.Author = item.Author
	existing.Tags = item.Tags
	if item.RelevanceScore > existing.RelevanceScore {
		existing.RelevanceScore = item.RelevanceScore
	}
	existing.AdvanceStatus(item.ProcessingStatus)
	existing.AIProcessed = existing.AIProcessed || item.AIProcessed
	if item.AISummary != "" {
		existing.AISummary = item.AISummary
	}
	if len(item.AITags) > 0 {
		existing.AITags = item.AITags
	}
	if item.Insights != "" {
		existing.Insights = item.Insights
	}
	existing.UpdatedAt = now

	item.ID = existing.ID
	return false, nil
}

// UpdateFeedItem applies a partial update by id.
func (s *MemoryStore) UpdateFeedItem(ctx context.Context, id string, patch ItemPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.itemsByID[id]
	if !ok {
		return ErrNotFound
	}

	if patch.ProcessingStatus != nil {
		item.ProcessingStatus = *patch.ProcessingStatus
	}
	if patch.AIProcessed != nil {
		item.AIProcessed = *patch.AIProcessed
	}
	if patch.AISummary != nil {
		item.AISummary = *patch.AISummary
	}
	if patch.AITags != nil {
		item.AITags = patch.AITags
	}
	if patch.Insights != nil {
		item.Insights = *patch.Insights
	}
	if patch.RelevanceScore != nil {
		item.RelevanceScore = *patch.RelevanceScore
	}
	item.UpdatedAt = time.Now().UTC()
	return nil
}

// ListItemsBySource returns the most recent items for a source.
func (s *MemoryStore) ListItemsBySource(ctx context.Context, sourceID string, limit int) ([]models.FeedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var items []models.FeedItem
	for _, it := range s.itemsByURL {
		if it.SourceID == sourceID {
			items = append(items, *it)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].PublishedAt.After(items[j].PublishedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// ListPendingItems returns items awaiting enrichment, oldest first.
func (s *MemoryStore) ListPendingItems(ctx context.Context, sourceIDs []string, limit int) ([]models.FeedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	allowed := sourceSet(sourceIDs)
	var items []models.FeedItem
	for _, it := range s.itemsByURL {
		if !isPending(it) {
			continue
		}
		if allowed != nil && !allowed[it.SourceID] {
			continue
		}
		items = append(items, *it)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].PublishedAt.Before(items[j].PublishedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// CountPendingItems counts items awaiting enrichment.
func (s *MemoryStore) CountPendingItems(ctx context.Context, sourceIDs []string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	allowed := sourceSet(sourceIDs)
	count := 0
	for _, it := range s.itemsByURL {
		if !isPending(it) {
			continue
		}
		if allowed != nil && !allowed[it.SourceID] {
			continue
		}
		count++
	}
	return count, nil
}

// RecordEngagement appends one engagement event.
func (s *MemoryStore) RecordEngagement(ctx context.Context, e Engagement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	s.engagements = append(s.engagements, e)
	return nil
}

// Engagements returns a copy of all recorded events. Test hook.
func (s *MemoryStore) Engagements() []Engagement {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Engagement, len(s.engagements))
	copy(out, s.engagements)
	return out
}

func isPending(it *models.FeedItem) bool {
	return it.ProcessingStatus == models.ProcessingStatusPending && !it.AIProcessed
}

func sourceSet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
