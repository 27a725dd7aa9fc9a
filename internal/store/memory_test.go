package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/feedpulse/feedpulse/internal/models"
)

func TestUpsertFeedItemIdempotentByURL(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	item := models.FeedItem{
		SourceID:    "src",
		Title:       "original title",
		URL:         "https://example.com/post",
		PublishedAt: time.Now().UTC(),
	}

	created, err := s.UpsertFeedItem(ctx, &item)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if !created {
		t.Fatal("first upsert did not create")
	}
	if item.ID == "" {
		t.Fatal("no surrogate id assigned")
	}
	firstID := item.ID

	again := models.FeedItem{
		SourceID:    "src",
		Title:       "refreshed title",
		URL:         "https://example.com/post",
		PublishedAt: item.PublishedAt,
	}
	created, err = s.UpsertFeedItem(ctx, &again)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if created {
		t.Error("second upsert reported created")
	}
	if again.ID != firstID {
		t.Errorf("surrogate id changed: %q then %q", firstID, again.ID)
	}

	got, err := s.SearchItemByURL(ctx, "https://example.com/post")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if got.Title != "refreshed title" {
		t.Errorf("title = %q, want refreshed", got.Title)
	}
}

func TestUpsertPreservesEnrichment(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	enriched := models.FeedItem{
		SourceID:         "src",
		URL:              "https://example.com/post",
		PublishedAt:      time.Now().UTC(),
		AIProcessed:      true,
		AISummary:        "the summary",
		AITags:           []string{"go"},
		ProcessingStatus: models.ProcessingStatusProcessed,
		RelevanceScore:   0.8,
	}
	if _, err := s.UpsertFeedItem(ctx, &enriched); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// A plain re-fetch of the same URL carries no AI data.
	refetch := models.FeedItem{
		SourceID:         "src",
		URL:              "https://example.com/post",
		PublishedAt:      enriched.PublishedAt,
		ProcessingStatus: models.ProcessingStatusPending,
		RelevanceScore:   0.3,
	}
	if _, err := s.UpsertFeedItem(ctx, &refetch); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	got, err := s.SearchItemByURL(ctx, "https://example.com/post")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !got.AIProcessed || got.AISummary != "the summary" {
		t.Error("re-fetch cleared enrichment data")
	}
	if got.ProcessingStatus != models.ProcessingStatusProcessed {
		t.Errorf("status regressed to %q", got.ProcessingStatus)
	}
	if got.RelevanceScore != 0.8 {
		t.Errorf("relevance dropped to %f", got.RelevanceScore)
	}
}

func TestSearchItemByURLNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.SearchItemByURL(context.Background(), "https://example.com/missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateSourceIsCreateIfAbsent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first := models.Source{ID: "manual", Name: "Manual", Kind: models.SourceKindManual, Weight: 1.0}
	if err := s.CreateSource(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Second create with a different name is a no-op.
	if err := s.CreateSource(ctx, models.Source{ID: "manual", Name: "Other", Weight: 2.0}); err != nil {
		t.Fatalf("re-create: %v", err)
	}

	got, err := s.GetSourceByID(ctx, "manual")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Manual" {
		t.Errorf("name = %q, original was overwritten", got.Name)
	}
}

func TestPendingItemQueries(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	for i, spec := range []struct {
		sourceID string
		status   models.ProcessingStatus
	}{
		{"a", models.ProcessingStatusPending},
		{"a", models.ProcessingStatusProcessed},
		{"b", models.ProcessingStatusPending},
		{"b", models.ProcessingStatusPending},
	} {
		item := models.FeedItem{
			SourceID:         spec.sourceID,
			URL:              "https://example.com/" + string(rune('w'+i)),
			PublishedAt:      base.Add(time.Duration(i) * time.Hour),
			ProcessingStatus: spec.status,
			AIProcessed:      spec.status == models.ProcessingStatusProcessed,
		}
		if _, err := s.UpsertFeedItem(ctx, &item); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}

	all, err := s.ListPendingItems(ctx, nil, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("pending = %d, want 3", len(all))
	}
	// Oldest first.
	if !all[0].PublishedAt.Equal(base) {
		t.Errorf("first pending published %v, want %v", all[0].PublishedAt, base)
	}

	onlyB, err := s.ListPendingItems(ctx, []string{"b"}, 10)
	if err != nil {
		t.Fatalf("list b: %v", err)
	}
	if len(onlyB) != 2 {
		t.Errorf("pending for b = %d, want 2", len(onlyB))
	}

	count, err := s.CountPendingItems(ctx, []string{"a"})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("count for a = %d, want 1", count)
	}
}

func TestUpdateFeedItemPatch(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	item := models.FeedItem{SourceID: "src", URL: "https://example.com/p", PublishedAt: time.Now()}
	if _, err := s.UpsertFeedItem(ctx, &item); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	status := models.ProcessingStatusProcessed
	processed := true
	summary := "patched summary"
	if err := s.UpdateFeedItem(ctx, item.ID, ItemPatch{
		ProcessingStatus: &status,
		AIProcessed:      &processed,
		AISummary:        &summary,
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _ := s.SearchItemByURL(ctx, "https://example.com/p")
	if got.AISummary != "patched summary" || !got.AIProcessed {
		t.Error("patch not applied")
	}
	// Untouched fields stay.
	if got.SourceID != "src" {
		t.Errorf("sourceID = %q", got.SourceID)
	}

	if err := s.UpdateFeedItem(ctx, "no-such-id", ItemPatch{AISummary: &summary}); !errors.Is(err, ErrNotFound) {
		t.Errorf("update missing item err = %v, want ErrNotFound", err)
	}
}

func TestRecordEngagement(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.RecordEngagement(ctx, Engagement{ItemID: "i1", ProfileID: "p1", Action: "click"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	events := s.Engagements()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].At.IsZero() {
		t.Error("timestamp not defaulted")
	}
}
