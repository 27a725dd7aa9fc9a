package models

// SourceKind identifies which adapter handles a source. The set is closed:
// adapters are dispatched through a lookup table keyed by kind.
type SourceKind string

const (
	SourceKindFeed    SourceKind = "feed"    // RSS/Atom feeds
	SourceKindGitHub  SourceKind = "github"  // GitHub repository releases
	SourceKindDevNews SourceKind = "devnews" // developer-news APIs (Hacker News et al.)
	SourceKindSocial  SourceKind = "social"  // Mastodon-style public timelines
	SourceKindManual  SourceKind = "manual"  // user-submitted URLs, backed by the store
)

// Source is a configured external content origin. Definitions are owned by the
// config loader and read-only to the pipeline at run time; the one exception is
// the synthetic manual source created on the first URL submission.
type Source struct {
	ID                   string     `yaml:"id" json:"id" validate:"required"`
	Name                 string     `yaml:"name" json:"name"`
	Kind                 SourceKind `yaml:"kind" json:"kind" validate:"required,oneof=feed github devnews social manual"`
	URL                  string     `yaml:"url" json:"url"`
	Enabled              bool       `yaml:"enabled" json:"enabled"`
	FetchIntervalSeconds int        `yaml:"fetch_interval_seconds" json:"fetch_interval_seconds"`
	Weight               float64    `yaml:"weight" json:"weight" validate:"gt=0"`
}

// Profile is a named audience configuration selecting which sources feed it and
// the enrichment/filter policy applied to their items.
type Profile struct {
	ID         string           `yaml:"id" json:"id" validate:"required"`
	Name       string           `yaml:"name" json:"name"`
	Enabled    bool             `yaml:"enabled" json:"enabled"`
	SourceIDs  []string         `yaml:"source_ids" json:"source_ids"`
	Focus      ProfileFocus     `yaml:"focus" json:"focus"`
	Processing ProcessingPolicy `yaml:"processing" json:"processing"`
}

// ProfileFocus describes what the profile's audience cares about.
type ProfileFocus struct {
	Description string   `yaml:"description" json:"description"`
	Keywords    []string `yaml:"keywords" json:"keywords"`
}

// ProcessingPolicy controls filtering and enrichment for a profile.
type ProcessingPolicy struct {
	MinRelevanceScore float64 `yaml:"min_relevance_score" json:"min_relevance_score" validate:"gte=0,lte=1"`
	GenerateSummary   bool    `yaml:"generate_summary" json:"generate_summary"`
	EnhanceTags       bool    `yaml:"enhance_tags" json:"enhance_tags"`
}

// WantsEnrichment reports whether the policy asks for any AI processing.
func (p ProcessingPolicy) WantsEnrichment() bool {
	return p.GenerateSummary || p.EnhanceTags
}

// HasSource reports whether the profile references the given source id.
func (p Profile) HasSource(sourceID string) bool {
	for _, id := range p.SourceIDs {
		if id == sourceID {
			return true
		}
	}
	return false
}
