package api

import (
	"context"
	"encoding/json"
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

	"github.com/feedpulse/feedpulse/internal/aggregator"
	"github.com/feedpulse/feedpulse/internal/auth"
	"github.com/feedpulse/feedpulse/internal/cache"
	"github.com/feedpulse/feedpulse/internal/config"
	"github.com/feedpulse/feedpulse/internal/enrichment"
	"github.com/feedpulse/feedpulse/internal/ingestion"
	"github.com/feedpulse/feedpulse/internal/metrics"
	"github.com/feedpulse/feedpulse/internal/models"
	"github.com/feedpulse/feedpulse/internal/scoring"
	"github.com/feedpulse/feedpulse/internal/store"
)

type testEnv struct {
	handler *Handler
	mux     *http.ServeMux
	store   *store.MemoryStore
	tracker *Tracker
}

func newTestEnv(t *testing.T, feedURL string) *testEnv {
	t.Helper()

	content := fmt.Sprintf(`
sources:
  - id: blog
    kind: feed
    url: %s
    enabled: true
    weight: 1.0
profiles:
  - id: eng
    name: Engineering
    enabled: true
    source_ids: [blog]
    focus:
      keywords: [golang]
    processing:
      min_relevance_score: 0.0
      generate_summary: true
`, feedURL)
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	loader, err := config.NewLoader(path, logger)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	collector, err := metrics.NewCollector()
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	memStore := store.NewMemoryStore()
	resultCache := cache.New(time.Hour, 10, collector)
	scorer := scoring.NewScorer()
	enricher := enrichment.New(enrichment.NewMockProvider(), enrichment.Options{
		Concurrency: 1, RatePerSec: 100,
	}, logger)

	agg := aggregator.New(aggregator.Deps{
		Loader:   loader,
		Registry: ingestion.NewRegistry(ingestion.RegistryDeps{Store: memStore}),
		Scorer:   scorer,
		Enricher: enricher,
		Cache:    resultCache,
		Store:    memStore,
		Metrics:  collector,
		Logger:   logger,
		Pipeline: config.PipelineConfig{
			FetchTimeout:     time.Second,
			FetchConcurrency: 2,
			RunTimeout:       5 * time.Second,
		},
	})

	tracker := NewTracker(memStore, 4, collector, logger)
	tracker.Start()
	t.Cleanup(tracker.Stop)

	handler := NewHandler(HandlerDeps{
		Aggregator: agg,
		Loader:     loader,
		Store:      memStore,
		Cache:      resultCache,
		Scorer:     scorer,
		Enricher:   enricher,
		Extractor:  NewMetadataExtractor(nil),
		Tracker:    tracker,
		Logger:     logger,
	})

	hash, err := auth.HashPassword("secret")
	if err != nil {
		t.Fatal(err)
	}
	authConfig := auth.Config{
		JWTSecret:         "test-secret",
		AdminPasswordHash: hash,
		TokenDuration:     time.Hour,
	}

	mux := http.NewServeMux()
	SetupRoutes(mux, handler, authConfig)

	return &testEnv{handler: handler, mux: mux, store: memStore, tracker: tracker}
}

func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<?xml version="1.0"?>
<rss version="2.0"><channel><title>t</title>
<item><title>Golang news</title><link>https://example.com/news</link>
<description>golang content</description></item>
</channel></rss>`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAggregateHandlerUnknownProfile(t *testing.T) {
	env := newTestEnv(t, feedServer(t).URL)

	req := httptest.NewRequest(http.MethodGet, "/api/aggregate?profile=nope", nil)
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestAggregateHandlerMissingProfileParam(t *testing.T) {
	env := newTestEnv(t, feedServer(t).URL)

	req := httptest.NewRequest(http.MethodGet, "/api/aggregate", nil)
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAggregateHandlerReturnsResult(t *testing.T) {
	env := newTestEnv(t, feedServer(t).URL)

	req := httptest.NewRequest(http.MethodGet, "/api/aggregate?profile=eng&ai=false", nil)
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var result models.AggregationResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.ProfileID != "eng" {
		t.Errorf("profileID = %q", result.ProfileID)
	}
	if result.TotalItems != 1 {
		t.Errorf("totalItems = %d, want 1", result.TotalItems)
	}
	if result.AIEnabled {
		t.Error("ai=false run reported AI enabled")
	}
}

func TestSubmitURLValidation(t *testing.T) {
	env := newTestEnv(t, feedServer(t).URL)

	for _, raw := range []string{"ftp://example.com/x", "not-a-url", "", "/relative"} {
		body := fmt.Sprintf(`{"url": %q}`, raw)
		req := httptest.NewRequest(http.MethodPost, "/api/submit-url", strings.NewReader(body))
		rec := httptest.NewRecorder()
		env.mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("url %q: status = %d, want 400", raw, rec.Code)
		}
	}
}

func TestSubmitURLIdempotent(t *testing.T) {
	env := newTestEnv(t, feedServer(t).URL)

	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head>
<meta property="og:title" content="Submitted Page"/>
<meta property="og:description" content="about golang"/>
</head><body>hi</body></html>`))
	}))
	defer page.Close()

	submit := func() (*httptest.ResponseRecorder, submitURLResponse) {
		body := fmt.Sprintf(`{"url": %q, "profile_id": "eng"}`, page.URL)
		req := httptest.NewRequest(http.MethodPost, "/api/submit-url", strings.NewReader(body))
		rec := httptest.NewRecorder()
		env.mux.ServeHTTP(rec, req)

		var resp submitURLResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return rec, resp
	}

	rec, first := submit()
	if rec.Code != http.StatusCreated {
		t.Fatalf("first submit status = %d, body %s", rec.Code, rec.Body.String())
	}
	if first.AlreadyExists {
		t.Error("first submit reported already_exists")
	}
	if first.Item.Title != "Submitted Page" {
		t.Errorf("title = %q, metadata not extracted", first.Item.Title)
	}
	if first.Item.SourceID != manualSourceID {
		t.Errorf("sourceID = %q", first.Item.SourceID)
	}
	// The profile wants enrichment and the mock provider is wired.
	if !first.Item.AIProcessed {
		t.Error("submitted item not enriched")
	}

	rec, second := submit()
	if rec.Code != http.StatusOK {
		t.Fatalf("second submit status = %d", rec.Code)
	}
	if !second.AlreadyExists {
		t.Error("second submit did not short-circuit")
	}
	if second.Item.ID != first.Item.ID {
		t.Errorf("item id changed: %q then %q", first.Item.ID, second.Item.ID)
	}

	// The synthetic manual source exists in the store.
	src, err := env.store.GetSourceByID(context.Background(), manualSourceID)
	if err != nil {
		t.Fatalf("manual source: %v", err)
	}
	if src.Kind != models.SourceKindManual {
		t.Errorf("manual source kind = %q", src.Kind)
	}
}

func TestSubmitURLUnreachablePageStillStored(t *testing.T) {
	env := newTestEnv(t, feedServer(t).URL)

	body := `{"url": "http://127.0.0.1:1/unreachable"}`
	request := httptest.NewRequest(http.MethodPost, "/api/submit-url", strings.NewReader(body))
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, request)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	var resp submitURLResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	// Without metadata the URL itself serves as the title.
	if resp.Item.Title != "http://127.0.0.1:1/unreachable" {
		t.Errorf("title = %q", resp.Item.Title)
	}
}

func TestTrackHandler(t *testing.T) {
	env := newTestEnv(t, feedServer(t).URL)

	body := `{"item_id": "i1", "profile_id": "eng", "action": "click"}`
	request := httptest.NewRequest(http.MethodPost, "/api/track", strings.NewReader(body))
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, request)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	// The writer is asynchronous; poll briefly for the event to land.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(env.store.Engagements()) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("engagement never persisted")
}

func TestTrackHandlerRejectsBadAction(t *testing.T) {
	env := newTestEnv(t, feedServer(t).URL)

	body := `{"item_id": "i1", "action": "explode"}`
	request := httptest.NewRequest(http.MethodPost, "/api/track", strings.NewReader(body))
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, request)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStatusHandler(t *testing.T) {
	env := newTestEnv(t, feedServer(t).URL)

	request := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, request)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q", resp.Status)
	}
	if resp.ActiveProfiles != 1 {
		t.Errorf("activeProfiles = %d, want 1", resp.ActiveProfiles)
	}
	if resp.AIProvider != "mock" {
		t.Errorf("aiProvider = %q", resp.AIProvider)
	}
}

func TestSyncRequiresAuth(t *testing.T) {
	env := newTestEnv(t, feedServer(t).URL)

	body := `{"operation": "ai_batch_process"}`
	request := httptest.NewRequest(http.MethodPost, "/api/sync", strings.NewReader(body))
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, request)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestLoginAndSync(t *testing.T) {
	env := newTestEnv(t, feedServer(t).URL)

	// Wrong password is rejected.
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"password": "wrong"}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	env.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"password": "secret"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d", rec.Code)
	}
	var login struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &login); err != nil || login.Token == "" {
		t.Fatalf("no token in login response: %v", err)
	}

	// Seed a pending item for the batch to pick up.
	item := models.FeedItem{
		SourceID:    "blog",
		Title:       "Pending golang article",
		URL:         "https://example.com/pending",
		Content:     "Something about golang. It has sentences for the mock provider.",
		PublishedAt: time.Now().UTC(),
	}
	if _, err := env.store.UpsertFeedItem(context.Background(), &item); err != nil {
		t.Fatal(err)
	}

	request := httptest.NewRequest(http.MethodPost, "/api/sync",
		strings.NewReader(`{"operation": "ai_batch_process", "batch_size": 5}`))
	request.Header.Set("Authorization", "Bearer "+login.Token)
	rec = httptest.NewRecorder()
	env.mux.ServeHTTP(rec, request)

	if rec.Code != http.StatusOK {
		t.Fatalf("sync status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		ProcessedCount       int `json:"processed_count"`
		FailedCount          int `json:"failed_count"`
		RemainingUnprocessed int `json:"remaining_unprocessed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ProcessedCount != 1 || resp.FailedCount != 0 {
		t.Errorf("processed=%d failed=%d, want 1 and 0", resp.ProcessedCount, resp.FailedCount)
	}
	if resp.RemainingUnprocessed != 0 {
		t.Errorf("remaining = %d, want 0", resp.RemainingUnprocessed)
	}

	stored, err := env.store.SearchItemByURL(context.Background(), "https://example.com/pending")
	if err != nil {
		t.Fatal(err)
	}
	if !stored.AIProcessed || stored.ProcessingStatus != models.ProcessingStatusProcessed {
		t.Errorf("item not marked processed: %+v", stored.ProcessingStatus)
	}
}

func TestSyncRejectsUnknownOperation(t *testing.T) {
	env := newTestEnv(t, feedServer(t).URL)
	token := loginToken(t, env)

	request := httptest.NewRequest(http.MethodPost, "/api/sync",
		strings.NewReader(`{"operation": "drop_everything"}`))
	request.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, request)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func loginToken(t *testing.T, env *testEnv) string {
	t.Helper()
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"password": "secret"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d", rec.Code)
	}
	var login struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &login); err != nil {
		t.Fatal(err)
	}
	return login.Token
}
