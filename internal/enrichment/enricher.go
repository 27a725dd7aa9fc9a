package enrichment

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/feedpulse/feedpulse/internal/models"
)

// FailedItem reports one item that could not be enriched and why. The item is
// returned as it stood before the attempt, with only its status advanced to
// failed; prior data is untouched.
type FailedItem struct {
	Item   models.FeedItem `json:"item"`
	Reason EnrichReason    `json:"reason"`
	Error  string          `json:"error,omitempty"`
}

// BatchResult is the outcome of enriching one batch.
type BatchResult struct {
	Processed []models.FeedItem
	Failed    []FailedItem
}

// Options bounds a batch run.
type Options struct {
	Concurrency int           // concurrent provider calls
	RatePerSec  float64       // shared request rate across the batch
	ItemTimeout time.Duration // per-item provider budget
}

// DefaultOptions returns conservative provider-friendly bounds.
func DefaultOptions() Options {
	return Options{
		Concurrency: 3,
		RatePerSec:  2,
		ItemTimeout: 45 * time.Second,
	}
}

// Enricher runs batches of items through a provider with bounded concurrency
// and a shared rate limit.
type Enricher struct {
	provider Provider
	limiter  *rate.Limiter
	opts     Options
	logger   *slog.Logger
}

// New creates an enricher over the given provider.
func New(provider Provider, opts Options, logger *slog.Logger) *Enricher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultOptions().Concurrency
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = DefaultOptions().RatePerSec
	}
	if opts.ItemTimeout <= 0 {
		opts.ItemTimeout = DefaultOptions().ItemTimeout
	}
	return &Enricher{
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Concurrency),
		opts:     opts,
		logger:   logger,
	}
}

// Provider returns the underlying provider.
func (e *Enricher) Provider() Provider { return e.provider }

// ProcessBatch enriches items independently: one item's failure never fails
// the batch. Successful items come back with aiProcessed set, status
// processed, and their relevance refined upward when AI tags match the
// profile focus — never downward below the score that admitted them.
func (e *Enricher) ProcessBatch(ctx context.Context, items []models.FeedItem, profile models.Profile) BatchResult {
	results := make([]models.FeedItem, len(items))
	failures := make([]*FailedItem, len(items))

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.opts.Concurrency)

	for i := range items {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			item := items[idx]
			item.AdvanceStatus(models.ProcessingStatusProcessing)

			enriched, err := e.enrichOne(ctx, item, profile)
			if err != nil {
				item.AdvanceStatus(models.ProcessingStatusFailed)
				failures[idx] = &FailedItem{
					Item:   item,
					Reason: ClassifyError(err),
					Error:  err.Error(),
				}
				return
			}
			results[idx] = *enriched
		}(i)
	}
	wg.Wait()

	out := BatchResult{}
	for i := range items {
		if failures[i] != nil {
			out.Failed = append(out.Failed, *failures[i])
			continue
		}
		out.Processed = append(out.Processed, results[i])
	}

	e.logger.Info("enrichment batch complete",
		"provider", e.provider.Name(),
		"processed", len(out.Processed),
		"failed", len(out.Failed),
	)
	return out
}

// enrichOne runs a single item through the provider under the shared rate
// limit and the per-item timeout.
func (e *Enricher) enrichOne(ctx context.Context, item models.FeedItem, profile models.Profile) (*models.FeedItem, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.opts.ItemTimeout)
	defer cancel()

	enr, err := e.provider.Summarize(callCtx, item)
	if err != nil {
		return nil, err
	}

	item.AISummary = enr.Summary
	item.AITags = enr.Tags
	item.Insights = enr.Insights
	if len(enr.KeyPoints) > 0 && item.Insights == "" {
		item.Insights = strings.Join(enr.KeyPoints, "; ")
	}
	item.AIProcessed = true
	item.AdvanceStatus(models.ProcessingStatusProcessed)
	for _, t := range enr.Tags {
		item.AddTag(t)
	}
	item.RelevanceScore = refineScore(item.RelevanceScore, enr.Tags, profile)

	return &item, nil
}

// Per-matching-tag bonus and its cap for post-enrichment refinement.
const (
	tagBonus    = 0.05
	tagBonusCap = 0.15
)

// refineScore nudges relevance upward when AI-assigned tags overlap the
// profile keywords. Refinement is monotonic: the result is never below the
// pre-enrichment score, so an already-included item cannot drop out.
func refineScore(score float64, aiTags []string, profile models.Profile) float64 {
	keywords := make(map[string]bool, len(profile.Focus.Keywords))
	for _, kw := range profile.Focus.Keywords {
		keywords[strings.ToLower(strings.TrimSpace(kw))] = true
	}

	var bonus float64
	for _, tag := range aiTags {
		if keywords[strings.ToLower(strings.TrimSpace(tag))] {
			bonus += tagBonus
		}
	}
	if bonus > tagBonusCap {
		bonus = tagBonusCap
	}

	refined := score + bonus
	if refined > 1 {
		refined = 1
	}
	if refined < score {
		return score
	}
	return refined
}
