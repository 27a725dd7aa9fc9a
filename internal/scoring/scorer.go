// Package scoring computes how relevant an item is to a profile's focus.
package scoring

import (
	"math"
	"regexp"
	"strings"

	"github.com/feedpulse/feedpulse/internal/models"
)

// Scorer combines keyword overlap with source weight. Scoring is a pure
// function of its inputs: no state, no I/O.
type Scorer struct {
	// SaturationCount caps how many occurrences of one keyword still add
	// signal; matches beyond it are ignored (diminishing returns).
	SaturationCount int
	// TitleBoost makes a keyword hit in the title count this many times a
	// body hit.
	TitleBoost int
	// WeightDamping scales how far source weight can move the score. Weight
	// boosts topical items but cannot create relevance for off-topic ones.
	WeightDamping float64
}

// NewScorer returns a scorer with the default tuning.
func NewScorer() *Scorer {
	return &Scorer{
		SaturationCount: 3,
		TitleBoost:      2,
		WeightDamping:   0.25,
	}
}

// Score returns the item's relevance to the profile in [0,1]. sourceWeight is
// the weight of the item's originating source (>0).
func (s *Scorer) Score(item models.FeedItem, profile models.Profile, sourceWeight float64) float64 {
	keywords := profile.Focus.Keywords
	if len(keywords) == 0 {
		return 0
	}

	title := strings.ToLower(item.Title)
	body := strings.ToLower(item.Content)
	tags := make(map[string]bool, len(item.Tags))
	for _, t := range item.Tags {
		tags[strings.ToLower(t)] = true
	}

	var total float64
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}

		hits := countTerm(title, kw)*s.TitleBoost + countTerm(body, kw)
		if tags[kw] {
			hits++
		}
		if hits > s.SaturationCount {
			hits = s.SaturationCount
		}
		total += float64(hits) / float64(s.SaturationCount)
	}

	base := total / float64(len(keywords))
	if base <= 0 {
		// Source weight alone never produces relevance.
		return 0
	}
	if base > 1 {
		base = 1
	}

	// Multiplicative dampening: weight 2.0 with damping 0.25 scales by 1.25.
	factor := 1 + s.WeightDamping*(sourceWeight-1)
	if factor < 0 {
		factor = 0
	}

	return clamp01(base * factor)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// countTerm counts whole-word, case-folded occurrences of term in text.
// Multi-word keywords fall back to substring counting.
func countTerm(text, term string) int {
	if text == "" || term == "" {
		return 0
	}
	if strings.ContainsRune(term, ' ') {
		return strings.Count(text, term)
	}
	re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`)
	if err != nil {
		return strings.Count(text, term)
	}
	return len(re.FindAllStringIndex(text, -1))
}
