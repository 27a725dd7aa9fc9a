package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/feedpulse/feedpulse/internal/aggregator"
	"github.com/feedpulse/feedpulse/internal/auth"
	"github.com/feedpulse/feedpulse/internal/cache"
	"github.com/feedpulse/feedpulse/internal/config"
	"github.com/feedpulse/feedpulse/internal/enrichment"
	"github.com/feedpulse/feedpulse/internal/models"
	"github.com/feedpulse/feedpulse/internal/scoring"
	"github.com/feedpulse/feedpulse/internal/store"
)

// manualSourceID is the synthetic source backing user-submitted URLs. It is
// created in the store on first submission, not configured in the catalog.
const manualSourceID = "manual"

const (
	defaultSyncBatchSize = 10
	maxSyncBatchSize     = 50
)

// Handler serves the aggregation API.
type Handler struct {
	aggregator *aggregator.Aggregator
	loader     *config.Loader
	store      store.Store
	cache      *cache.CacheAndQuota
	scorer     *scoring.Scorer
	enricher   *enrichment.Enricher // nil when no provider is configured
	extractor  *MetadataExtractor
	tracker    *Tracker
	logger     *slog.Logger
	startTime  time.Time
}

// HandlerDeps carries the handler's collaborators.
type HandlerDeps struct {
	Aggregator *aggregator.Aggregator
	Loader     *config.Loader
	Store      store.Store
	Cache      *cache.CacheAndQuota
	Scorer     *scoring.Scorer
	Enricher   *enrichment.Enricher
	Extractor  *MetadataExtractor
	Tracker    *Tracker
	Logger     *slog.Logger
}

// NewHandler creates the API handler.
func NewHandler(deps HandlerDeps) *Handler {
	return &Handler{
		aggregator: deps.Aggregator,
		loader:     deps.Loader,
		store:      deps.Store,
		cache:      deps.Cache,
		scorer:     deps.Scorer,
		enricher:   deps.Enricher,
		extractor:  deps.Extractor,
		tracker:    deps.Tracker,
		logger:     deps.Logger,
		startTime:  time.Now(),
	}
}

// AggregateHandler handles GET /api/aggregate
func (h *Handler) AggregateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	profileID := q.Get("profile")
	if profileID == "" {
		http.Error(w, "profile query parameter required", http.StatusBadRequest)
		return
	}

	opts := aggregator.Options{
		AIEnabled:    parseBool(q.Get("ai"), true),
		ForceRefresh: parseBool(q.Get("refresh"), false),
		IncludeItems: parseBool(q.Get("includeItems"), true),
	}

	result, err := h.aggregator.Run(r.Context(), profileID, opts)
	if err != nil {
		if errors.Is(err, aggregator.ErrUnknownProfile) {
			http.Error(w, "Profile not found", http.StatusNotFound)
			return
		}
		h.logger.Error("aggregation failed", "profile", profileID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// SubmitURLHandler handles POST /api/submit-url
func (h *Handler) SubmitURLHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		URL       string `json:"url"`
		ProfileID string `json:"profile_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	parsed, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		http.Error(w, "url must be an absolute http(s) URL", http.StatusBadRequest)
		return
	}
	submitted := parsed.String()

	// Resubmitting a known URL is a no-op.
	if existing, err := h.store.SearchItemByURL(r.Context(), submitted); err == nil {
		writeJSON(w, http.StatusOK, submitURLResponse{
			AlreadyExists: true,
			Item:          *existing,
		})
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		h.logger.Error("url lookup failed", "url", submitted, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if err := h.store.CreateSource(r.Context(), models.Source{
		ID:      manualSourceID,
		Name:    "Manual submissions",
		Kind:    models.SourceKindManual,
		Enabled: true,
		Weight:  1.0,
	}); err != nil {
		h.logger.Error("create manual source failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	item := models.FeedItem{
		SourceID:         manualSourceID,
		Title:            submitted,
		URL:              submitted,
		PublishedAt:      time.Now().UTC(),
		ProcessingStatus: models.ProcessingStatusPending,
	}

	// Metadata extraction is best effort; a page that cannot be read still
	// yields a stored item under its URL.
	meta, err := h.extractor.Extract(r.Context(), submitted)
	if err != nil {
		h.logger.Warn("metadata extraction failed", "url", submitted, "error", err)
	} else {
		if meta.Title != "" {
			item.Title = meta.Title
		}
		item.Content = meta.Description
		item.Author = meta.Author
		item.PublishedAt = meta.PublishedAt
	}

	profile, hasProfile := h.loader.ProfileByID(req.ProfileID)
	if hasProfile {
		item.RelevanceScore = h.scorer.Score(item, profile, 1.0)
		if h.enricher != nil && profile.Processing.WantsEnrichment() {
			batch := h.enricher.ProcessBatch(r.Context(), []models.FeedItem{item}, profile)
			if len(batch.Processed) == 1 {
				item = batch.Processed[0]
			} else if len(batch.Failed) == 1 {
				item = batch.Failed[0].Item
			}
		}
	}

	created, err := h.store.UpsertFeedItem(r.Context(), &item)
	if err != nil {
		h.logger.Error("store submitted item failed", "url", submitted, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, submitURLResponse{
		AlreadyExists: !created,
		Item:          item,
	})
}

// TrackHandler handles POST /api/track
func (h *Handler) TrackHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ItemID    string `json:"item_id"`
		ProfileID string `json:"profile_id"`
		Action    string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ItemID == "" {
		http.Error(w, "item_id required", http.StatusBadRequest)
		return
	}
	switch req.Action {
	case "view", "click", "read", "unread":
	default:
		http.Error(w, "action must be one of: view, click, read, unread", http.StatusBadRequest)
		return
	}

	queued := h.tracker.Enqueue(store.Engagement{
		ItemID:    req.ItemID,
		ProfileID: req.ProfileID,
		Action:    req.Action,
		At:        time.Now().UTC(),
	})

	// Tracking is fire and forget; a full queue is not the caller's problem.
	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted": true,
		"queued":   queued,
	})
}

// SyncHandler handles POST /api/sync
func (h *Handler) SyncHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Operation string `json:"operation"`
		ProfileID string `json:"profile_id"`
		BatchSize int    `json:"batch_size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Operation != "ai_batch_process" {
		http.Error(w, "operation must be ai_batch_process", http.StatusBadRequest)
		return
	}
	if h.enricher == nil {
		http.Error(w, "No AI provider configured", http.StatusServiceUnavailable)
		return
	}

	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = defaultSyncBatchSize
	}
	if batchSize > maxSyncBatchSize {
		batchSize = maxSyncBatchSize
	}

	var profile models.Profile
	var sourceIDs []string
	if req.ProfileID != "" {
		p, ok := h.loader.ProfileByID(req.ProfileID)
		if !ok {
			http.Error(w, "Profile not found", http.StatusNotFound)
			return
		}
		profile = p
		sourceIDs = p.SourceIDs
	}

	start := time.Now()
	items, err := h.store.ListPendingItems(r.Context(), sourceIDs, batchSize)
	if err != nil {
		h.logger.Error("list pending items failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var processed, failed int
	if len(items) > 0 {
		batch := h.enricher.ProcessBatch(r.Context(), items, profile)
		processed = len(batch.Processed)
		failed = len(batch.Failed)

		for _, item := range batch.Processed {
			h.persistEnriched(r, item)
		}
		for _, f := range batch.Failed {
			failedStatus := models.ProcessingStatusFailed
			if err := h.store.UpdateFeedItem(r.Context(), f.Item.ID, store.ItemPatch{
				ProcessingStatus: &failedStatus,
			}); err != nil {
				h.logger.Error("mark item failed", "id", f.Item.ID, "error", err)
			}
		}
	}

	remaining, err := h.store.CountPendingItems(r.Context(), sourceIDs)
	if err != nil {
		h.logger.Error("count pending items failed", "error", err)
		remaining = -1
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"operation":             req.Operation,
		"processed_count":       processed,
		"failed_count":          failed,
		"remaining_unprocessed": remaining,
		"duration_ms":           time.Since(start).Milliseconds(),
	})
}

func (h *Handler) persistEnriched(r *http.Request, item models.FeedItem) {
	processedStatus := models.ProcessingStatusProcessed
	aiProcessed := true
	if err := h.store.UpdateFeedItem(r.Context(), item.ID, store.ItemPatch{
		ProcessingStatus: &processedStatus,
		AIProcessed:      &aiProcessed,
		AISummary:        &item.AISummary,
		AITags:           item.AITags,
		Insights:         &item.Insights,
		RelevanceScore:   &item.RelevanceScore,
	}); err != nil {
		h.logger.Error("persist enriched item failed", "id", item.ID, "error", err)
	}
}

// StatusHandler handles GET /api/status
func (h *Handler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	pending, err := h.store.CountPendingItems(r.Context(), nil)
	if err != nil {
		h.logger.Error("count pending items failed", "error", err)
		pending = -1
	}

	providerName := "none"
	if h.enricher != nil {
		providerName = h.enricher.Provider().Name()
	}

	uptime := time.Since(h.startTime)
	writeJSON(w, http.StatusOK, statusResponse{
		Status:           "ok",
		UptimeSeconds:    int64(uptime.Seconds()),
		ActiveProfiles:   len(h.loader.ActiveProfiles()),
		EnabledSources:   len(h.loader.EnabledSources()),
		PendingItems:     pending,
		AIProvider:       providerName,
		AIQuotaRemaining: h.cache.QuotaRemaining(cache.DayKey(time.Now())),
	})
}

// HealthHandler handles GET /health
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ReloadHandler handles POST /api/config/reload
func (h *Handler) ReloadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.loader.Reload(); err != nil {
		h.logger.Error("catalog reload failed", "error", err)
		http.Error(w, fmt.Sprintf("reload failed: %v", err), http.StatusUnprocessableEntity)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"reloaded": true,
		"sources":  len(h.loader.Sources()),
		"profiles": len(h.loader.ActiveProfiles()),
	})
}

// AuthHandler issues tokens for the admin endpoints.
type AuthHandler struct {
	config auth.Config
	logger *slog.Logger
}

// NewAuthHandler creates the auth handler.
func NewAuthHandler(config auth.Config, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{config: config, logger: logger}
}

// Login handles POST /api/auth/login
func (a *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if !auth.CheckPassword(req.Password, a.config.AdminPasswordHash) {
		a.logger.Warn("failed login attempt", "remote", r.RemoteAddr)
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateToken("admin", a.config.JWTSecret, a.config.TokenDuration)
	if err != nil {
		a.logger.Error("token generation failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_in": int64(a.config.TokenDuration.Seconds()),
	})
}

// Response types
type submitURLResponse struct {
	AlreadyExists bool            `json:"already_exists"`
	Item          models.FeedItem `json:"item"`
}

type statusResponse struct {
	Status           string `json:"status"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	ActiveProfiles   int    `json:"active_profiles"`
	EnabledSources   int    `json:"enabled_sources"`
	PendingItems     int    `json:"pending_items"`
	AIProvider       string `json:"ai_provider"`
	AIQuotaRemaining int    `json:"ai_quota_remaining"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func parseBool(raw string, fallback bool) bool {
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}
