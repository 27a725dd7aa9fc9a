package api

import (
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/feedpulse/feedpulse/internal/store"
)

type countingMetrics struct {
	drops atomic.Int64
}

func (c *countingMetrics) ObserveTrackingDrop() { c.drops.Add(1) }

func TestTrackerDropsWhenFull(t *testing.T) {
	metrics := &countingMetrics{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	// Not started, so nothing drains the queue.
	tracker := NewTracker(store.NewMemoryStore(), 2, metrics, logger)

	if !tracker.Enqueue(store.Engagement{ItemID: "a", Action: "view"}) {
		t.Fatal("first enqueue rejected")
	}
	if !tracker.Enqueue(store.Engagement{ItemID: "b", Action: "view"}) {
		t.Fatal("second enqueue rejected")
	}
	if tracker.Enqueue(store.Engagement{ItemID: "c", Action: "view"}) {
		t.Error("enqueue on full queue accepted")
	}
	if got := metrics.drops.Load(); got != 1 {
		t.Errorf("drops = %d, want 1", got)
	}
}

func TestTrackerDrainsOnStop(t *testing.T) {
	metrics := &countingMetrics{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	memStore := store.NewMemoryStore()
	tracker := NewTracker(memStore, 8, metrics, logger)
	tracker.Start()

	for i := 0; i < 5; i++ {
		tracker.Enqueue(store.Engagement{ItemID: "x", Action: "view", At: time.Now()})
	}
	tracker.Stop()

	if got := len(memStore.Engagements()); got != 5 {
		t.Errorf("persisted = %d, want 5", got)
	}
}
