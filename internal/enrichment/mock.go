package enrichment

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/feedpulse/feedpulse/internal/models"
)

// MockProvider produces rule-based enrichments without any API calls. Used in
// tests and when AI_PROVIDER=mock.
type MockProvider struct{}

// NewMockProvider creates a mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Name identifies the provider.
func (p *MockProvider) Name() string { return "mock" }

// Summarize builds an enrichment from the item text alone.
func (p *MockProvider) Summarize(ctx context.Context, item models.FeedItem) (*Enrichment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	sentences := splitSentences(item.Content)
	summary := item.Title
	if len(sentences) > 0 {
		summary = strings.Join(sentences[:min(2, len(sentences))], " ")
	}

	keyPoints := sentences[:min(3, len(sentences))]

	return &Enrichment{
		Summary:          truncate(summary, 400),
		KeyPoints:        keyPoints,
		Tags:             frequentWords(item.Title+" "+item.Content, 4),
		Confidence:       0.4,
		Model:            "mock",
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

var sentenceEnd = regexp.MustCompile(`[.!?]\s+`)

func splitSentences(text string) []string {
	parts := sentenceEnd.Split(strings.TrimSpace(text), -1)
	out := make([]string, 0, len(parts))
	for _, s := range parts {
		if s = strings.TrimSpace(s); len(s) > 10 {
			out = append(out, s)
		}
	}
	return out
}

var wordPattern = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+-]{4,}`)

// frequentWords returns the n most frequent longer words as ersatz tags.
func frequentWords(text string, n int) []string {
	counts := make(map[string]int)
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		counts[w]++
	}
	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > n {
		words = words[:n]
	}
	return words
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
