// Package ingestion fetches and normalizes items from configured sources and
// removes duplicates before scoring.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/feedpulse/feedpulse/internal/models"
)

// FetchErrorKind classifies source fetch failures. Failures at this
// granularity are contained per source and reported as diagnostics; they never
// fail an aggregation run.
type FetchErrorKind string

const (
	FetchTimeout     FetchErrorKind = "Timeout"
	FetchUnreachable FetchErrorKind = "Unreachable"
	FetchParseError  FetchErrorKind = "ParseError"
	FetchRateLimited FetchErrorKind = "RateLimited"
)

// FetchError wraps a failure from a single source fetch with its class.
type FetchError struct {
	Kind     FetchErrorKind
	SourceID string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.SourceID, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError builds a classified fetch error.
func NewFetchError(kind FetchErrorKind, sourceID string, err error) *FetchError {
	return &FetchError{Kind: kind, SourceID: sourceID, Err: err}
}

// ClassifyFetchError maps an arbitrary fetch failure onto the taxonomy. An
// error that is already a FetchError passes through unchanged.
func ClassifyFetchError(sourceID string, err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewFetchError(FetchTimeout, sourceID, err)
	case isTimeout(err):
		return NewFetchError(FetchTimeout, sourceID, err)
	case isRateLimited(err):
		return NewFetchError(FetchRateLimited, sourceID, err)
	case isNetworkErr(err):
		return NewFetchError(FetchUnreachable, sourceID, err)
	default:
		return NewFetchError(FetchParseError, sourceID, err)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isNetworkErr(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host")
}

func isRateLimited(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit")
}

// statusError converts an unexpected HTTP status into the right fetch class.
func statusError(sourceID string, status int) *FetchError {
	err := fmt.Errorf("unexpected status code: %d", status)
	switch {
	case status == http.StatusTooManyRequests:
		return NewFetchError(FetchRateLimited, sourceID, err)
	case status >= 500:
		return NewFetchError(FetchUnreachable, sourceID, err)
	default:
		return NewFetchError(FetchParseError, sourceID, err)
	}
}

// Adapter fetches and normalizes raw items for one source kind. Contract:
// a single malformed entry is skipped, never fatal; the per-call timeout comes
// from the context the caller supplies; the Source value is never mutated.
type Adapter interface {
	// Kind returns the source kind this adapter handles.
	Kind() models.SourceKind

	// Fetch retrieves items from the source. Items come back normalized:
	// trimmed title and content, absolute URL, best-effort author and publish
	// timestamp (fetch time when the origin provides none).
	Fetch(ctx context.Context, source models.Source) ([]models.FeedItem, error)
}

// Registry dispatches sources to adapters by kind.
type Registry map[models.SourceKind]Adapter

// Lookup returns the adapter for a kind.
func (r Registry) Lookup(kind models.SourceKind) (Adapter, bool) {
	a, ok := r[kind]
	return a, ok
}

// ManualItemLister is the slice of the store the manual adapter needs.
type ManualItemLister interface {
	ListItemsBySource(ctx context.Context, sourceID string, limit int) ([]models.FeedItem, error)
}

// RegistryDeps carries what the default adapters need.
type RegistryDeps struct {
	HTTPClient  *http.Client
	GitHubToken string
	Store       ManualItemLister
}

// NewRegistry builds the default adapter lookup table.
func NewRegistry(deps RegistryDeps) Registry {
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return Registry{
		models.SourceKindFeed:    NewFeedAdapter(client),
		models.SourceKindGitHub:  NewGitHubAdapter(deps.GitHubToken),
		models.SourceKindDevNews: NewDevNewsAdapter(client),
		models.SourceKindSocial:  NewSocialAdapter(client),
		models.SourceKindManual:  NewManualAdapter(deps.Store),
	}
}

const fetchUserAgent = "feedpulse/1.0 (+https://github.com/feedpulse/feedpulse)"

// getBody performs a GET with the shared user agent and returns the body.
func getBody(ctx context.Context, client *http.Client, sourceID, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, NewFetchError(FetchParseError, sourceID, err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, ClassifyFetchError(sourceID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(sourceID, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ClassifyFetchError(sourceID, err)
	}
	return body, nil
}
