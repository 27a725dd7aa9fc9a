// Package aggregator orchestrates one aggregation run: fetch from the
// profile's sources, dedupe, score, optionally enrich, persist and cache.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/feedpulse/feedpulse/internal/cache"
	"github.com/feedpulse/feedpulse/internal/config"
	"github.com/feedpulse/feedpulse/internal/enrichment"
	"github.com/feedpulse/feedpulse/internal/ingestion"
	"github.com/feedpulse/feedpulse/internal/metrics"
	"github.com/feedpulse/feedpulse/internal/models"
	"github.com/feedpulse/feedpulse/internal/scoring"
	"github.com/feedpulse/feedpulse/internal/store"
)

// ErrUnknownProfile is returned when the requested profile id is not in the
// catalog.
var ErrUnknownProfile = errors.New("unknown profile")

// Options selects the behavior of one Run call.
type Options struct {
	AIEnabled    bool // request enrichment (still subject to profile policy and quota)
	ForceRefresh bool // bypass the cache read, never the quota
	IncludeItems bool // carry the item payload in the result
}

// Aggregator wires the pipeline stages together. All fields are set at
// construction and read-only afterwards; a single Aggregator serves concurrent
// requests.
type Aggregator struct {
	loader   *config.Loader
	registry ingestion.Registry
	scorer   *scoring.Scorer
	enricher *enrichment.Enricher // nil when no provider is configured
	cache    *cache.CacheAndQuota
	store    store.Store
	metrics  *metrics.Collector
	logger   *slog.Logger
	pipeline config.PipelineConfig
	now      func() time.Time
}

// Deps carries the aggregator's collaborators.
type Deps struct {
	Loader   *config.Loader
	Registry ingestion.Registry
	Scorer   *scoring.Scorer
	Enricher *enrichment.Enricher
	Cache    *cache.CacheAndQuota
	Store    store.Store
	Metrics  *metrics.Collector
	Logger   *slog.Logger
	Pipeline config.PipelineConfig
}

// New creates an aggregator.
func New(deps Deps) *Aggregator {
	return &Aggregator{
		loader:   deps.Loader,
		registry: deps.Registry,
		scorer:   deps.Scorer,
		enricher: deps.Enricher,
		cache:    deps.Cache,
		store:    deps.Store,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		pipeline: deps.Pipeline,
		now:      time.Now,
	}
}

// Run produces an aggregation result for the profile. Resolution order:
// cached result within TTL (unless ForceRefresh), then a fresh run. AI-enabled
// fresh runs consume one unit of the daily quota; when the quota is exhausted
// the call falls back to a stale AI result if one exists, otherwise to a fresh
// non-AI run, in both cases with an explanatory note.
func (a *Aggregator) Run(ctx context.Context, profileID string, opts Options) (models.AggregationResult, error) {
	profile, ok := a.loader.ProfileByID(profileID)
	if !ok {
		return models.AggregationResult{}, fmt.Errorf("%w: %s", ErrUnknownProfile, profileID)
	}

	aiMode := opts.AIEnabled && profile.Processing.WantsEnrichment()
	var notes []string
	if aiMode && a.enricher == nil {
		aiMode = false
		notes = append(notes, "no AI provider configured; returning non-AI results")
	}

	if !opts.ForceRefresh {
		if entry, ok := a.cache.Get(profile.ID, aiMode); ok {
			a.metrics.ObserveRun("cached", 0)
			return a.fromCache(entry, opts), nil
		}
	}

	result, err := a.cache.Do(profile.ID, aiMode, func() (models.AggregationResult, error) {
		// A concurrent caller may have refreshed the entry while this one
		// waited for the flight slot.
		if !opts.ForceRefresh {
			if entry, ok := a.cache.Get(profile.ID, aiMode); ok {
				a.metrics.ObserveRun("cached", 0)
				return a.fromCache(entry, Options{IncludeItems: true}), nil
			}
		}
		return a.freshRun(ctx, profile, aiMode, notes)
	})
	if err != nil {
		return models.AggregationResult{}, err
	}

	if !opts.IncludeItems {
		result = result.WithoutItems()
	}
	return result, nil
}

// freshRun executes the pipeline, applying the quota when AI is requested.
func (a *Aggregator) freshRun(ctx context.Context, profile models.Profile, aiMode bool, notes []string) (models.AggregationResult, error) {
	if aiMode && !a.cache.TryConsume(cache.DayKey(a.now())) {
		if entry, ok := a.cache.GetStale(profile.ID, true); ok {
			a.metrics.ObserveCache("stale_serve")
			a.metrics.ObserveRun("stale", 0)
			result := entry.Result
			result.Cached = true
			age := int64(entry.Age(a.now()).Seconds())
			result.CacheAgeSeconds = &age
			result.Notes = append(result.Notes, "AI quota exhausted; serving last AI-enriched results")
			return result, nil
		}
		aiMode = false
		notes = append(notes, "AI quota exhausted; returning non-AI results")
	}

	start := a.now()
	result, err := a.runPipeline(ctx, profile, aiMode)
	if err != nil {
		return models.AggregationResult{}, err
	}
	result.Notes = append(notes, result.Notes...)

	runKind := "fresh"
	if len(notes) > 0 {
		runKind = "degraded"
	}
	a.metrics.ObserveRun(runKind, a.now().Sub(start))

	a.cache.Put(profile.ID, aiMode, result)
	return result, nil
}

// fromCache converts a cache entry into a served result.
func (a *Aggregator) fromCache(entry *cache.Entry, opts Options) models.AggregationResult {
	result := entry.Result
	result.Cached = true
	age := int64(entry.Age(a.now()).Seconds())
	result.CacheAgeSeconds = &age
	if !opts.IncludeItems {
		result = result.WithoutItems()
	}
	return result
}

// runPipeline performs fetch, dedupe, score, enrich and persist for one
// profile under the run budget.
func (a *Aggregator) runPipeline(ctx context.Context, profile models.Profile, aiMode bool) (models.AggregationResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, a.pipeline.RunTimeout)
	defer cancel()

	sources := a.profileSources(profile)
	items, fetchResults := a.fetchAll(runCtx, sources)
	totalItems := len(items)

	deduper := ingestion.NewDeduplicator(func(sourceID string) float64 {
		if s, ok := a.loader.SourceByID(sourceID); ok {
			return s.Weight
		}
		return 1.0
	})
	unique, duplicates := deduper.Dedupe(items)

	kept := make([]models.FeedItem, 0, len(unique))
	for _, item := range unique {
		weight := 1.0
		if s, ok := a.loader.SourceByID(item.SourceID); ok {
			weight = s.Weight
		}
		item.RelevanceScore = a.scorer.Score(item, profile, weight)
		if item.RelevanceScore < profile.Processing.MinRelevanceScore {
			continue
		}
		kept = append(kept, item)
	}
	a.metrics.ObservePipeline(len(kept), duplicates)

	var notes []string
	final := kept
	if aiMode && len(kept) > 0 {
		batch := a.enricher.ProcessBatch(runCtx, kept, profile)
		for range batch.Processed {
			a.metrics.ObserveEnrichment("processed")
		}
		final = batch.Processed
		for _, f := range batch.Failed {
			a.metrics.ObserveEnrichment("failed")
			final = append(final, f.Item)
		}
		if n := len(batch.Failed); n > 0 {
			notes = append(notes, fmt.Sprintf("%d item(s) failed enrichment", n))
		}
	}

	a.persist(runCtx, final)

	sort.SliceStable(final, func(i, j int) bool {
		if final[i].RelevanceScore != final[j].RelevanceScore {
			return final[i].RelevanceScore > final[j].RelevanceScore
		}
		return final[i].PublishedAt.After(final[j].PublishedAt)
	})

	var sum float64
	for _, item := range final {
		sum += item.RelevanceScore
	}
	avg := 0.0
	if len(final) > 0 {
		avg = sum / float64(len(final))
	}

	a.logger.Info("aggregation run complete",
		"profile", profile.ID,
		"sources", len(sources),
		"total_items", totalItems,
		"duplicates_removed", duplicates,
		"processed_items", len(final),
		"ai_enabled", aiMode,
	)

	return models.AggregationResult{
		ProfileID:          profile.ID,
		ProfileName:        profile.Name,
		TotalItems:         totalItems,
		ProcessedItems:     len(final),
		AvgRelevanceScore:  avg,
		DuplicatesRemoved:  duplicates,
		FetchResults:       fetchResults,
		ProcessedFeedItems: final,
		AIEnabled:          aiMode,
		Notes:              notes,
		GeneratedAt:        a.now().UTC(),
	}, nil
}

// profileSources resolves the profile's enabled sources from the catalog.
func (a *Aggregator) profileSources(profile models.Profile) []models.Source {
	var out []models.Source
	for _, id := range profile.SourceIDs {
		if s, ok := a.loader.SourceByID(id); ok && s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// fetchAll fans the sources out over a bounded worker pool. One source's
// failure never aborts the run; it becomes a FetchResult diagnostic.
func (a *Aggregator) fetchAll(ctx context.Context, sources []models.Source) ([]models.FeedItem, []models.FetchResult) {
	itemsBySource := make([][]models.FeedItem, len(sources))
	results := make([]models.FetchResult, len(sources))
	sem := make(chan struct{}, a.pipeline.FetchConcurrency)
	var wg sync.WaitGroup

	for i, src := range sources {
		wg.Add(1)
		go func(idx int, source models.Source) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			itemsBySource[idx], results[idx] = a.fetchOne(ctx, source)
		}(i, src)
	}
	wg.Wait()

	var items []models.FeedItem
	for _, batch := range itemsBySource {
		items = append(items, batch...)
	}
	return items, results
}

func (a *Aggregator) fetchOne(ctx context.Context, source models.Source) ([]models.FeedItem, models.FetchResult) {
	start := a.now()
	result := models.FetchResult{SourceID: source.ID}

	adapter, ok := a.registry.Lookup(source.Kind)
	if !ok {
		result.Error = fmt.Sprintf("no adapter for source kind %q", source.Kind)
		a.metrics.ObserveFetch(string(source.Kind), "unsupported")
		return nil, result
	}

	fetchCtx, cancel := context.WithTimeout(ctx, a.pipeline.FetchTimeout)
	defer cancel()

	items, err := adapter.Fetch(fetchCtx, source)
	result.DurationMs = a.now().Sub(start).Milliseconds()
	if err != nil {
		fe := ingestion.ClassifyFetchError(source.ID, err)
		result.Error = fe.Error()
		a.metrics.ObserveFetch(string(source.Kind), strings.ToLower(string(fe.Kind)))
		a.logger.Warn("source fetch failed",
			"source", source.ID,
			"kind", source.Kind,
			"class", fe.Kind,
			"error", err,
		)
		return nil, result
	}

	for i := range items {
		items[i].SourceID = source.ID
		if items[i].SourceURL == "" {
			items[i].SourceURL = source.URL
		}
		if items[i].ProcessingStatus == "" {
			items[i].ProcessingStatus = models.ProcessingStatusPending
		}
	}

	result.Success = true
	result.ItemCount = len(items)
	a.metrics.ObserveFetch(string(source.Kind), "success")
	return items, result
}

// persist upserts the run's items. Storage failures are logged and do not fail
// the run; the result was already computed.
func (a *Aggregator) persist(ctx context.Context, items []models.FeedItem) {
	for i := range items {
		if _, err := a.store.UpsertFeedItem(ctx, &items[i]); err != nil {
			a.logger.Error("persist item failed",
				"url", items[i].URL,
				"error", err,
			)
		}
	}
}

// Enricher exposes the configured enricher, nil when absent.
func (a *Aggregator) Enricher() *enrichment.Enricher { return a.enricher }
