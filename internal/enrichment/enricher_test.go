package enrichment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/feedpulse/feedpulse/internal/models"
)

// stubProvider fails for URLs in failFor and succeeds otherwise.
type stubProvider struct {
	failFor map[string]error
	tags    []string
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Summarize(ctx context.Context, item models.FeedItem) (*Enrichment, error) {
	if err, ok := p.failFor[item.URL]; ok {
		return nil, err
	}
	return &Enrichment{
		Summary:    "summary of " + item.Title,
		Tags:       p.tags,
		Confidence: 0.9,
		Model:      "stub",
	}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testProfile() models.Profile {
	return models.Profile{
		ID:    "p",
		Focus: models.ProfileFocus{Keywords: []string{"golang", "database"}},
	}
}

func TestProcessBatchIsolatesFailures(t *testing.T) {
	provider := &stubProvider{
		failFor: map[string]error{"https://example.com/bad": errors.New("provider exploded")},
	}
	e := New(provider, Options{Concurrency: 2, RatePerSec: 100}, testLogger())

	items := []models.FeedItem{
		{Title: "good one", URL: "https://example.com/good", ProcessingStatus: models.ProcessingStatusPending},
		{Title: "bad one", URL: "https://example.com/bad", ProcessingStatus: models.ProcessingStatusPending},
		{Title: "another good", URL: "https://example.com/good2", ProcessingStatus: models.ProcessingStatusPending},
	}

	result := e.ProcessBatch(context.Background(), items, testProfile())

	if len(result.Processed) != 2 {
		t.Fatalf("processed = %d, want 2", len(result.Processed))
	}
	if len(result.Failed) != 1 {
		t.Fatalf("failed = %d, want 1", len(result.Failed))
	}

	for _, item := range result.Processed {
		if !item.AIProcessed {
			t.Errorf("%s: aiProcessed not set", item.URL)
		}
		if item.ProcessingStatus != models.ProcessingStatusProcessed {
			t.Errorf("%s: status = %q, want processed", item.URL, item.ProcessingStatus)
		}
		if item.AISummary == "" {
			t.Errorf("%s: no summary", item.URL)
		}
	}

	failed := result.Failed[0]
	if failed.Item.URL != "https://example.com/bad" {
		t.Errorf("failed item = %q", failed.Item.URL)
	}
	if failed.Item.ProcessingStatus != models.ProcessingStatusFailed {
		t.Errorf("failed status = %q, want failed", failed.Item.ProcessingStatus)
	}
	if failed.Item.AIProcessed {
		t.Error("failed item marked aiProcessed")
	}
	if failed.Reason != ReasonProviderError {
		t.Errorf("reason = %q, want %q", failed.Reason, ReasonProviderError)
	}
}

func TestProcessBatchClassifiesTimeout(t *testing.T) {
	provider := &stubProvider{
		failFor: map[string]error{"https://example.com/slow": context.DeadlineExceeded},
	}
	e := New(provider, Options{Concurrency: 1, RatePerSec: 100}, testLogger())

	result := e.ProcessBatch(context.Background(), []models.FeedItem{
		{Title: "slow", URL: "https://example.com/slow"},
	}, testProfile())

	if len(result.Failed) != 1 {
		t.Fatalf("failed = %d, want 1", len(result.Failed))
	}
	if result.Failed[0].Reason != ReasonTimeout {
		t.Errorf("reason = %q, want %q", result.Failed[0].Reason, ReasonTimeout)
	}
}

func TestRefineScoreMonotonicUpward(t *testing.T) {
	profile := testProfile()

	tests := []struct {
		name        string
		score       float64
		aiTags      []string
		wantAtLeast float64
	}{
		{"matching tags add bonus", 0.5, []string{"golang"}, 0.55},
		{"bonus capped", 0.5, []string{"golang", "database", "golang", "database"}, 0.65},
		{"no matches no change", 0.5, []string{"gardening"}, 0.5},
		{"never exceeds one", 0.99, []string{"golang", "database"}, 0.99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := refineScore(tt.score, tt.aiTags, profile)
			if got < tt.score {
				t.Errorf("refined %f below input %f", got, tt.score)
			}
			if got < tt.wantAtLeast {
				t.Errorf("refined = %f, want >= %f", got, tt.wantAtLeast)
			}
			if got > 1 {
				t.Errorf("refined = %f above 1", got)
			}
		})
	}
}

func TestEnrichedItemGainsAITags(t *testing.T) {
	provider := &stubProvider{tags: []string{"golang", "runtime"}}
	e := New(provider, Options{Concurrency: 1, RatePerSec: 100}, testLogger())

	result := e.ProcessBatch(context.Background(), []models.FeedItem{
		{Title: "scheduler deep dive", URL: "https://example.com/sched", Tags: []string{"golang"}},
	}, testProfile())

	if len(result.Processed) != 1 {
		t.Fatalf("processed = %d, want 1", len(result.Processed))
	}
	item := result.Processed[0]
	if len(item.AITags) != 2 {
		t.Errorf("aiTags = %v", item.AITags)
	}
	// AI tags merge into tags without duplicating existing ones.
	want := []string{"golang", "runtime"}
	if len(item.Tags) != len(want) {
		t.Fatalf("tags = %v, want %v", item.Tags, want)
	}
	for i := range want {
		if item.Tags[i] != want[i] {
			t.Errorf("tags[%d] = %q, want %q", i, item.Tags[i], want[i])
		}
	}
}

func TestMockProviderOutput(t *testing.T) {
	p := NewMockProvider()
	enr, err := p.Summarize(context.Background(), models.FeedItem{
		Title:   "Profiling Go services",
		Content: "Profiling finds hot paths. Allocation profiles show memory churn. Tracing completes the picture.",
	})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if enr.Summary == "" {
		t.Error("empty summary")
	}
	if enr.Model != "mock" {
		t.Errorf("model = %q", enr.Model)
	}
	if enr.Confidence <= 0 || enr.Confidence >= 1 {
		t.Errorf("confidence = %f", enr.Confidence)
	}
}
