// Package cache holds aggregation results under a TTL and enforces the
// per-period quota on fresh AI-enabled runs. The cache and the quota counter
// are shared across concurrent requests; all access is synchronized here so
// callers never see partial state.
package cache

import (
	"sync"
	"time"

	"github.com/feedpulse/feedpulse/internal/models"
)

// Entry is one cached aggregation result. AI-enabled and AI-disabled results
// are cached separately since enrichment changes content.
type Entry struct {
	ProfileID string
	AIMode    bool
	Result    models.AggregationResult
	StoredAt  time.Time
	TTL       time.Duration
}

// Age returns how long ago the entry was stored.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// Expired reports whether the entry is past its TTL.
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.StoredAt.Add(e.TTL))
}

type cacheKey struct {
	profileID string
	aiMode    bool
}

// DayKey returns the quota period key for t: the UTC calendar day.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Metrics is the subset of the metrics collector the cache reports to.
type Metrics interface {
	ObserveCache(event string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveCache(string) {}

// CacheAndQuota is the shared cache + quota component. Quota counts fresh
// AI-enabled runs per period (one increment per run, not per item) and resets
// when the period key rolls over.
type CacheAndQuota struct {
	ttl     time.Duration
	limit   int
	metrics Metrics
	now     func() time.Time

	mu       sync.Mutex
	entries  map[cacheKey]*Entry
	period   string
	count    int
	inflight map[cacheKey]*flight
}

type flight struct {
	done   chan struct{}
	result models.AggregationResult
	err    error
}

// New creates a cache with the given TTL and per-period quota limit.
func New(ttl time.Duration, quotaLimit int, metrics Metrics) *CacheAndQuota {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &CacheAndQuota{
		ttl:      ttl,
		limit:    quotaLimit,
		metrics:  metrics,
		now:      time.Now,
		entries:  make(map[cacheKey]*Entry),
		inflight: make(map[cacheKey]*flight),
	}
}

// SetClock overrides the time source. Test hook.
func (c *CacheAndQuota) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Get returns the live entry for (profileID, aiMode) if one exists and is
// within its TTL.
func (c *CacheAndQuota) Get(profileID string, aiMode bool) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[cacheKey{profileID, aiMode}]
	if !ok || e.Expired(c.now()) {
		c.metrics.ObserveCache("miss")
		return nil, false
	}
	c.metrics.ObserveCache("hit")
	clone := *e
	return &clone, true
}

// GetStale returns the entry regardless of expiry. Used for the
// stale-but-available fallback when quota is exhausted.
func (c *CacheAndQuota) GetStale(profileID string, aiMode bool) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[cacheKey{profileID, aiMode}]
	if !ok {
		return nil, false
	}
	clone := *e
	return &clone, true
}

// Put stores a fresh result for (profileID, aiMode), superseding any prior
// entry.
func (c *CacheAndQuota) Put(profileID string, aiMode bool, result models.AggregationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[cacheKey{profileID, aiMode}] = &Entry{
		ProfileID: profileID,
		AIMode:    aiMode,
		Result:    result,
		StoredAt:  c.now(),
		TTL:       c.ttl,
	}
}

// TryConsume attempts to take one unit of quota for the given period key.
// A change of period key resets the counter. Returns false when the period's
// limit is already spent.
func (c *CacheAndQuota) TryConsume(periodKey string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.period != periodKey {
		c.period = periodKey
		c.count = 0
	}
	if c.count >= c.limit {
		c.metrics.ObserveCache("quota_rejected")
		return false
	}
	c.count++
	return true
}

// QuotaRemaining reports the unspent quota for the period.
func (c *CacheAndQuota) QuotaRemaining(periodKey string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.period != periodKey {
		return c.limit
	}
	if c.limit < c.count {
		return 0
	}
	return c.limit - c.count
}

// Do collapses concurrent fresh runs for the same key: the first caller
// executes fn while later callers for the same (profileID, aiMode) block and
// receive that run's result, preventing duplicate fetch storms.
func (c *CacheAndQuota) Do(profileID string, aiMode bool, fn func() (models.AggregationResult, error)) (models.AggregationResult, error) {
	key := cacheKey{profileID, aiMode}

	c.mu.Lock()
	if f, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		<-f.done
		return f.result, f.err
	}
	f := &flight{done: make(chan struct{})}
	c.inflight[key] = f
	c.mu.Unlock()

	f.result, f.err = fn()

	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
	close(f.done)

	return f.result, f.err
}
