// Package enrichment attaches AI-generated summaries, key points, tags and
// insights to feed items through a pluggable provider abstraction.
package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/feedpulse/feedpulse/internal/config"
	"github.com/feedpulse/feedpulse/internal/models"
)

// Enrichment is what a provider produces for one item.
type Enrichment struct {
	Summary          string   `json:"summary"`
	KeyPoints        []string `json:"key_points"`
	Insights         string   `json:"insights,omitempty"`
	Tags             []string `json:"tags"`
	Confidence       float64  `json:"confidence"`
	Model            string   `json:"model"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
}

// Provider is the capability interface every AI backend implements. Selection
// happens once at startup by configuration and key availability, not by
// probing objects at run time.
type Provider interface {
	// Name identifies the provider in logs and diagnostics.
	Name() string

	// Summarize produces an enrichment for a single item.
	Summarize(ctx context.Context, item models.FeedItem) (*Enrichment, error)
}

// ErrNoProviderAvailable is returned when no provider has usable credentials.
var ErrNoProviderAvailable = errors.New("no enrichment provider available")

// NewDefaultProvider resolves the first ready provider: OpenAI if its key is
// set, then Anthropic, then the rule-based mock when explicitly requested.
func NewDefaultProvider(cfg config.ProviderConfig, logger *slog.Logger) (Provider, error) {
	switch {
	case cfg.UseMock:
		logger.Info("using mock enrichment provider")
		return NewMockProvider(), nil
	case cfg.OpenAIKey != "":
		logger.Info("using openai enrichment provider", "model", cfg.OpenAIModel)
		return NewOpenAIProvider(cfg.OpenAIKey, cfg.OpenAIModel, logger), nil
	case cfg.AnthropicKey != "":
		logger.Info("using anthropic enrichment provider", "model", cfg.AnthropicModel)
		return NewAnthropicProvider(cfg.AnthropicKey, cfg.AnthropicModel, logger), nil
	default:
		return nil, ErrNoProviderAvailable
	}
}

// EnrichReason classifies per-item enrichment failures.
type EnrichReason string

const (
	ReasonProviderError EnrichReason = "ProviderError"
	ReasonTimeout       EnrichReason = "Timeout"
	ReasonQuotaExceeded EnrichReason = "QuotaExceeded"
)

// ClassifyError maps a provider failure onto the reason taxonomy.
func ClassifyError(err error) EnrichReason {
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return ReasonTimeout
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota"):
		return ReasonQuotaExceeded
	default:
		return ReasonProviderError
	}
}

const systemPrompt = `You are a concise technical editor. Given an article, respond with a JSON object:
{"summary": "2-3 sentence summary", "key_points": ["up to 4 short bullet points"], "insights": "one sentence on why this matters, or empty", "tags": ["3-6 lowercase topic tags"], "confidence": 0.0-1.0 how confident you are in the summary}
Respond with JSON only.`

// buildPrompt renders the item for the model. Content is truncated so a large
// article cannot blow the token budget.
func buildPrompt(item models.FeedItem) string {
	content := item.Content
	if len(content) > 6000 {
		content = content[:6000]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", item.Title)
	if item.Author != "" {
		fmt.Fprintf(&b, "Author: %s\n", item.Author)
	}
	if len(item.Tags) > 0 {
		fmt.Fprintf(&b, "Existing tags: %s\n", strings.Join(item.Tags, ", "))
	}
	fmt.Fprintf(&b, "URL: %s\n\n%s", item.URL, content)
	return b.String()
}

// parseEnrichment decodes the model's JSON reply, tolerating markdown fences.
func parseEnrichment(raw string) (*Enrichment, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	// Some models wrap JSON in prose; take the outermost object.
	if start := strings.IndexByte(raw, '{'); start > 0 {
		if end := strings.LastIndexByte(raw, '}'); end > start {
			raw = raw[start : end+1]
		}
	}

	var e Enrichment
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("parse enrichment response: %w", err)
	}
	if e.Summary == "" {
		return nil, fmt.Errorf("enrichment response missing summary")
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		e.Confidence = 0.5
	}
	for i, t := range e.Tags {
		e.Tags[i] = strings.ToLower(strings.TrimSpace(t))
	}
	return &e, nil
}
