package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/feedpulse/feedpulse/internal/models"
)

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Connect opens and pings a PostgreSQL connection pool.
func Connect(ctx context.Context, url string) (*sql.DB, error) {
	if url == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// EnsureSchema creates the tables the store needs if they do not exist yet.
// Safe to run on every startup.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sources (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			url TEXT NOT NULL DEFAULT '',
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			fetch_interval_seconds INTEGER NOT NULL DEFAULT 0,
			weight DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS feed_items (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			source_url TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL UNIQUE,
			content TEXT NOT NULL DEFAULT '',
			author TEXT NOT NULL DEFAULT '',
			published_at TIMESTAMPTZ NOT NULL,
			tags TEXT[] NOT NULL DEFAULT '{}',
			relevance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			processing_status TEXT NOT NULL DEFAULT 'pending',
			ai_processed BOOLEAN NOT NULL DEFAULT FALSE,
			ai_summary TEXT NOT NULL DEFAULT '',
			ai_tags TEXT[] NOT NULL DEFAULT '{}',
			insights TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_feed_items_source ON feed_items (source_id, published_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_feed_items_status ON feed_items (processing_status)`,
		`CREATE TABLE IF NOT EXISTS engagements (
			id BIGSERIAL PRIMARY KEY,
			item_id TEXT NOT NULL,
			profile_id TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

const itemColumns = `id, source_id, source_url, title, url, content, author,
	published_at, tags, relevance_score, processing_status, ai_processed,
	ai_summary, ai_tags, insights, created_at, updated_at`

func scanItem(row interface{ Scan(...any) error }) (*models.FeedItem, error) {
	var item models.FeedItem
	var status string
	err := row.Scan(
		&item.ID,
		&item.SourceID,
		&item.SourceURL,
		&item.Title,
		&item.URL,
		&item.Content,
		&item.Author,
		&item.PublishedAt,
		pq.Array(&item.Tags),
		&item.RelevanceScore,
		&status,
		&item.AIProcessed,
		&item.AISummary,
		pq.Array(&item.AITags),
		&item.Insights,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.ProcessingStatus = models.ProcessingStatus(status)
	return &item, nil
}

// SearchItemByURL returns the item with the exact URL.
func (s *PostgresStore) SearchItemByURL(ctx context.Context, url string) (*models.FeedItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM feed_items WHERE url = $1`, url)

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("search item by url: %w", err)
	}
	return item, nil
}

// GetSourceByID returns a persisted source.
func (s *PostgresStore) GetSourceByID(ctx context.Context, id string) (*models.Source, error) {
	var src models.Source
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, kind, url, enabled, fetch_interval_seconds, weight
		 FROM sources WHERE id = $1`, id).Scan(
		&src.ID, &src.Name, &src.Kind, &src.URL, &src.Enabled,
		&src.FetchIntervalSeconds, &src.Weight,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get source: %w", err)
	}
	return &src, nil
}

// CreateSource persists a source with create-if-absent semantics.
func (s *PostgresStore) CreateSource(ctx context.Context, src models.Source) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (id, name, kind, url, enabled, fetch_interval_seconds, weight)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		src.ID, src.Name, string(src.Kind), src.URL, src.Enabled,
		src.FetchIntervalSeconds, src.Weight,
	)
	if err != nil {
		return fmt.Errorf("create source: %w", err)
	}
	return nil
}

// UpsertFeedItem inserts the item keyed by URL or refreshes mutable fields on
// conflict. Enrichment fields are only overwritten when the incoming item
// carries them, so a plain re-fetch never clears prior AI data.
func (s *PostgresStore) UpsertFeedItem(ctx context.Context, item *models.FeedItem) (bool, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.ProcessingStatus == "" {
		item.ProcessingStatus = models.ProcessingStatusPending
	}
	now := time.Now().UTC()

	var id string
	var created bool
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO feed_items (`+itemColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		 ON CONFLICT (url) DO UPDATE SET
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			author = EXCLUDED.author,
			tags = EXCLUDED.tags,
			relevance_score = GREATEST(feed_items.relevance_score, EXCLUDED.relevance_score),
			processing_status = CASE
				WHEN feed_items.processing_status IN ('processed','failed') THEN feed_items.processing_status
				ELSE EXCLUDED.processing_status
			END,
			ai_processed = feed_items.ai_processed OR EXCLUDED.ai_processed,
			ai_summary = CASE WHEN EXCLUDED.ai_summary <> '' THEN EXCLUDED.ai_summary ELSE feed_items.ai_summary END,
			ai_tags = CASE WHEN array_length(EXCLUDED.ai_tags, 1) > 0 THEN EXCLUDED.ai_tags ELSE feed_items.ai_tags END,
			insights = CASE WHEN EXCLUDED.insights <> '' THEN EXCLUDED.insights ELSE feed_items.insights END,
			updated_at = EXCLUDED.updated_at
		 RETURNING id, (xmax = 0)`,
		item.ID, item.SourceID, item.SourceURL, item.Title, item.URL,
		item.Content, item.Author, item.PublishedAt, pq.Array(item.Tags),
		item.RelevanceScore, string(item.ProcessingStatus), item.AIProcessed,
		item.AISummary, pq.Array(item.AITags), item.Insights, now, now,
	).Scan(&id, &created)
	if err != nil {
		return false, fmt.Errorf("upsert item: %w", err)
	}

	// On conflict the surviving surrogate id is the existing row's.
	item.ID = id
	return created, nil
}

// UpdateFeedItem applies a partial update by id.
func (s *PostgresStore) UpdateFeedItem(ctx context.Context, id string, patch ItemPatch) error {
	sets := []string{"updated_at = NOW()"}
	args := []any{id}
	next := 2

	add := func(expr string, val any) {
		sets = append(sets, fmt.Sprintf(expr, next))
		args = append(args, val)
		next++
	}

	if patch.ProcessingStatus != nil {
		add("processing_status = $%d", string(*patch.ProcessingStatus))
	}
	if patch.AIProcessed != nil {
		add("ai_processed = $%d", *patch.AIProcessed)
	}
	if patch.AISummary != nil {
		add("ai_summary = $%d", *patch.AISummary)
	}
	if patch.AITags != nil {
		add("ai_tags = $%d", pq.Array(patch.AITags))
	}
	if patch.Insights != nil {
		add("insights = $%d", *patch.Insights)
	}
	if patch.RelevanceScore != nil {
		add("relevance_score = $%d", *patch.RelevanceScore)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE feed_items SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListItemsBySource returns the most recent items for a source.
func (s *PostgresStore) ListItemsBySource(ctx context.Context, sourceID string, limit int) ([]models.FeedItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM feed_items
		 WHERE source_id = $1
		 ORDER BY published_at DESC
		 LIMIT $2`, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list items by source: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// ListPendingItems returns items awaiting enrichment, oldest first.
func (s *PostgresStore) ListPendingItems(ctx context.Context, sourceIDs []string, limit int) ([]models.FeedItem, error) {
	query := `SELECT ` + itemColumns + ` FROM feed_items
		 WHERE processing_status = 'pending' AND NOT ai_processed`
	args := []any{}
	if len(sourceIDs) > 0 {
		query += ` AND source_id = ANY($1)`
		args = append(args, pq.Array(sourceIDs))
	}
	query += fmt.Sprintf(` ORDER BY published_at ASC LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// CountPendingItems counts items awaiting enrichment.
func (s *PostgresStore) CountPendingItems(ctx context.Context, sourceIDs []string) (int, error) {
	query := `SELECT COUNT(*) FROM feed_items
		 WHERE processing_status = 'pending' AND NOT ai_processed`
	args := []any{}
	if len(sourceIDs) > 0 {
		query += ` AND source_id = ANY($1)`
		args = append(args, pq.Array(sourceIDs))
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending items: %w", err)
	}
	return count, nil
}

// RecordEngagement appends one engagement event.
func (s *PostgresStore) RecordEngagement(ctx context.Context, e Engagement) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO engagements (item_id, profile_id, action, occurred_at)
		 VALUES ($1, $2, $3, $4)`,
		e.ItemID, e.ProfileID, e.Action, e.At,
	)
	if err != nil {
		return fmt.Errorf("record engagement: %w", err)
	}
	return nil
}

func collectItems(rows *sql.Rows) ([]models.FeedItem, error) {
	var items []models.FeedItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}
