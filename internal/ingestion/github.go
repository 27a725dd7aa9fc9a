package ingestion

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/feedpulse/feedpulse/internal/models"
)

// GitHubAdapter fetches repository releases as feed items. The source URL
// names the repository, e.g. https://github.com/golang/go.
type GitHubAdapter struct {
	client *github.Client
}

// NewGitHubAdapter creates a GitHub adapter. An empty token yields an
// unauthenticated client subject to the lower API rate limits.
func NewGitHubAdapter(token string) *GitHubAdapter {
	if token == "" {
		return &GitHubAdapter{client: github.NewClient(nil)}
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &GitHubAdapter{client: github.NewClient(oauth2.NewClient(context.Background(), ts))}
}

// Kind returns the source kind this adapter handles.
func (a *GitHubAdapter) Kind() models.SourceKind { return models.SourceKindGitHub }

const githubReleasePageSize = 20

// Fetch lists the most recent releases of the configured repository.
func (a *GitHubAdapter) Fetch(ctx context.Context, source models.Source) ([]models.FeedItem, error) {
	owner, repo, err := splitRepoURL(source.URL)
	if err != nil {
		return nil, NewFetchError(FetchParseError, source.ID, err)
	}

	releases, resp, err := a.client.Repositories.ListReleases(ctx, owner, repo, &github.ListOptions{
		PerPage: githubReleasePageSize,
	})
	if err != nil {
		if _, ok := err.(*github.RateLimitError); ok {
			return nil, NewFetchError(FetchRateLimited, source.ID, err)
		}
		if resp != nil && resp.StatusCode == 403 {
			return nil, NewFetchError(FetchRateLimited, source.ID, err)
		}
		return nil, ClassifyFetchError(source.ID, err)
	}

	now := time.Now().UTC()
	items := make([]models.FeedItem, 0, len(releases))
	for _, rel := range releases {
		if rel.GetHTMLURL() == "" {
			continue
		}

		title := strings.TrimSpace(rel.GetName())
		if title == "" {
			title = rel.GetTagName()
		}
		title = fmt.Sprintf("%s/%s: %s", owner, repo, title)

		published := now
		if ts := rel.GetPublishedAt(); !ts.IsZero() {
			published = ts.Time
		}

		item := models.FeedItem{
			SourceID:         source.ID,
			SourceURL:        source.URL,
			Title:            title,
			URL:              rel.GetHTMLURL(),
			Content:          strings.TrimSpace(rel.GetBody()),
			Author:           rel.GetAuthor().GetLogin(),
			PublishedAt:      published,
			ProcessingStatus: models.ProcessingStatusPending,
		}
		item.AddTag("release")
		item.AddTag(repo)
		items = append(items, item)
	}

	return items, nil
}

// splitRepoURL extracts owner and repo from a github.com URL.
func splitRepoURL(raw string) (owner, repo string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid repository url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository url must look like https://github.com/owner/repo, got %q", raw)
	}
	return parts[0], parts[1], nil
}
