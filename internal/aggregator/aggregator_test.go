package aggregator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/feedpulse/feedpulse/internal/cache"
	"github.com/feedpulse/feedpulse/internal/config"
	"github.com/feedpulse/feedpulse/internal/enrichment"
	"github.com/feedpulse/feedpulse/internal/ingestion"
	"github.com/feedpulse/feedpulse/internal/metrics"
	"github.com/feedpulse/feedpulse/internal/scoring"
	"github.com/feedpulse/feedpulse/internal/store"
)

func rssBody(title, link string) string {
	return fmt.Sprintf(`<?xml version="1.0"?>
<rss version="2.0"><channel><title>t</title>
<item><title>%s</title><link>%s</link>
<description>golang scheduler internals</description>
<pubDate>Mon, 02 Feb 2026 10:00:00 +0000</pubDate></item>
</channel></rss>`, title, link)
}

func catalogFor(t *testing.T, urlA, urlB string) *config.Loader {
	t.Helper()
	content := fmt.Sprintf(`
sources:
  - id: primary
    kind: feed
    url: %s
    enabled: true
    weight: 2.0
  - id: mirror
    kind: feed
    url: %s
    enabled: true
    weight: 1.0
profiles:
  - id: eng
    name: Engineering
    enabled: true
    source_ids: [primary, mirror]
    focus:
      keywords: [golang, scheduler]
    processing:
      min_relevance_score: 0.05
      generate_summary: true
`, urlA, urlB)

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	loader, err := config.NewLoader(path, logger)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	return loader
}

func newTestAggregator(t *testing.T, loader *config.Loader, enricher *enrichment.Enricher, quota int) (*Aggregator, *store.MemoryStore) {
	t.Helper()
	collector, err := metrics.NewCollector()
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	memStore := store.NewMemoryStore()

	agg := New(Deps{
		Loader:   loader,
		Registry: ingestion.NewRegistry(ingestion.RegistryDeps{Store: memStore}),
		Scorer:   scoring.NewScorer(),
		Enricher: enricher,
		Cache:    cache.New(time.Hour, quota, collector),
		Store:    memStore,
		Metrics:  collector,
		Logger:   logger,
		Pipeline: config.PipelineConfig{
			FetchTimeout:     500 * time.Millisecond,
			FetchConcurrency: 4,
			RunTimeout:       5 * time.Second,
		},
	})
	return agg, memStore
}

func TestRunDeduplicatesAcrossSources(t *testing.T) {
	// Both sources carry the same story URL; the higher-weight source's
	// rendition must survive.
	srvA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(rssBody("Understanding Go Schedulers", "https://example.com/foo")))
	}))
	defer srvA.Close()
	srvB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(rssBody("Understanding Go Schedulers (mirror)", "https://example.com/foo?utm_source=mirror")))
	}))
	defer srvB.Close()

	loader := catalogFor(t, srvA.URL, srvB.URL)
	agg, memStore := newTestAggregator(t, loader, nil, 10)

	result, err := agg.Run(context.Background(), "eng", Options{IncludeItems: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.TotalItems != 2 {
		t.Errorf("totalItems = %d, want 2", result.TotalItems)
	}
	if result.DuplicatesRemoved != 1 {
		t.Errorf("duplicatesRemoved = %d, want 1", result.DuplicatesRemoved)
	}
	if len(result.ProcessedFeedItems) != 1 {
		t.Fatalf("items = %d, want 1", len(result.ProcessedFeedItems))
	}

	survivor := result.ProcessedFeedItems[0]
	if survivor.SourceID != "primary" {
		t.Errorf("survivor source = %q, want primary", survivor.SourceID)
	}
	if strings.Contains(survivor.Title, "mirror") {
		t.Errorf("survivor title = %q, mirror rendition won", survivor.Title)
	}

	// The survivor was persisted under its URL.
	if _, err := memStore.SearchItemByURL(context.Background(), survivor.URL); err != nil {
		t.Errorf("survivor not persisted: %v", err)
	}
}

func TestRunToleratesOneSourceTimeout(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(rssBody("Understanding Go Schedulers", "https://example.com/ok")))
	}))
	defer healthy.Close()
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer slow.Close()

	loader := catalogFor(t, healthy.URL, slow.URL)
	agg, _ := newTestAggregator(t, loader, nil, 10)

	result, err := agg.Run(context.Background(), "eng", Options{IncludeItems: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(result.ProcessedFeedItems) != 1 {
		t.Fatalf("items = %d, want 1 from healthy source", len(result.ProcessedFeedItems))
	}

	var failures int
	for _, fr := range result.FetchResults {
		if !fr.Success {
			failures++
			if fr.Error == "" {
				t.Error("failed fetch carries no error detail")
			}
		}
	}
	if failures != 1 {
		t.Errorf("failed fetches = %d, want 1", failures)
	}
}

func TestRunUnknownProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(rssBody("Understanding Go Schedulers", "https://example.com/x")))
	}))
	defer srv.Close()

	loader := catalogFor(t, srv.URL, srv.URL)
	agg, _ := newTestAggregator(t, loader, nil, 10)

	_, err := agg.Run(context.Background(), "nope", Options{})
	if err == nil {
		t.Fatal("expected error for unknown profile")
	}
}

func TestRunServesCachedResult(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(rssBody("Understanding Go Schedulers", "https://example.com/foo")))
	}))
	defer srv.Close()

	loader := catalogFor(t, srv.URL, srv.URL)
	agg, _ := newTestAggregator(t, loader, nil, 10)

	first, err := agg.Run(context.Background(), "eng", Options{})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Cached {
		t.Error("first run reported cached")
	}

	fetchesAfterFirst := hits
	second, err := agg.Run(context.Background(), "eng", Options{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !second.Cached {
		t.Error("second run not served from cache")
	}
	if second.CacheAgeSeconds == nil {
		t.Error("cached result has no age")
	}
	if hits != fetchesAfterFirst {
		t.Errorf("cached run still fetched (%d -> %d)", fetchesAfterFirst, hits)
	}
}

func TestRunQuotaExhaustedFallsBackToStale(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(rssBody("Understanding Go Schedulers", "https://example.com/foo")))
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	enricher := enrichment.New(enrichment.NewMockProvider(), enrichment.Options{
		Concurrency: 1, RatePerSec: 100,
	}, logger)

	loader := catalogFor(t, srv.URL, srv.URL)
	agg, _ := newTestAggregator(t, loader, enricher, 1)

	first, err := agg.Run(context.Background(), "eng", Options{AIEnabled: true, IncludeItems: true})
	if err != nil {
		t.Fatalf("first AI run: %v", err)
	}
	if !first.AIEnabled {
		t.Fatal("first run did not use AI")
	}

	// The quota is spent; a forced refresh must fall back to the stale AI
	// result instead of running enrichment again.
	second, err := agg.Run(context.Background(), "eng", Options{AIEnabled: true, ForceRefresh: true})
	if err != nil {
		t.Fatalf("second AI run: %v", err)
	}
	if !second.Cached {
		t.Error("fallback result not marked cached")
	}
	found := false
	for _, note := range second.Notes {
		if strings.Contains(strings.ToLower(note), "quota") {
			found = true
		}
	}
	if !found {
		t.Errorf("no quota note in %v", second.Notes)
	}
}

func TestRunWithoutProviderDegradesToNonAI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(rssBody("Understanding Go Schedulers", "https://example.com/foo")))
	}))
	defer srv.Close()

	loader := catalogFor(t, srv.URL, srv.URL)
	agg, _ := newTestAggregator(t, loader, nil, 10)

	result, err := agg.Run(context.Background(), "eng", Options{AIEnabled: true, IncludeItems: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.AIEnabled {
		t.Error("run claims AI without a provider")
	}
	if len(result.Notes) == 0 {
		t.Error("degraded run carries no note")
	}
	for _, item := range result.ProcessedFeedItems {
		if item.AIProcessed {
			t.Errorf("%s marked aiProcessed without a provider", item.URL)
		}
	}
}

func TestRunOrderingDeterministic(t *testing.T) {
	body := `<?xml version="1.0"?>
<rss version="2.0"><channel><title>t</title>
<item><title>Golang scheduler deep dive</title><link>https://example.com/a</link>
<description>golang scheduler golang scheduler</description></item>
<item><title>Weekly roundup</title><link>https://example.com/b</link>
<description>golang mentioned once</description></item>
</channel></rss>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	loader := catalogFor(t, srv.URL, srv.URL)
	agg, _ := newTestAggregator(t, loader, nil, 10)

	result, err := agg.Run(context.Background(), "eng", Options{IncludeItems: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.ProcessedFeedItems) < 2 {
		t.Fatalf("items = %d, want at least 2", len(result.ProcessedFeedItems))
	}
	for i := 1; i < len(result.ProcessedFeedItems); i++ {
		if result.ProcessedFeedItems[i].RelevanceScore > result.ProcessedFeedItems[i-1].RelevanceScore {
			t.Errorf("items not in descending relevance order at %d", i)
		}
	}
}
