package api

import (
	"context"
	"log/slog"
	"sync"

	"github.com/feedpulse/feedpulse/internal/store"
)

// TrackerMetrics is the slice of the metrics collector the tracker reports to.
type TrackerMetrics interface {
	ObserveTrackingDrop()
}

// Tracker persists engagement events off the request path. Events flow through
// a bounded queue; when the queue is full the event is dropped and counted,
// never blocking the caller.
type Tracker struct {
	store   store.Store
	logger  *slog.Logger
	metrics TrackerMetrics

	queue chan store.Engagement
	stop  chan struct{}
	wg    sync.WaitGroup
}

// NewTracker creates a tracker with the given queue capacity.
func NewTracker(s store.Store, capacity int, metrics TrackerMetrics, logger *slog.Logger) *Tracker {
	if capacity <= 0 {
		capacity = 256
	}
	return &Tracker{
		store:   s,
		logger:  logger,
		metrics: metrics,
		queue:   make(chan store.Engagement, capacity),
		stop:    make(chan struct{}),
	}
}

// Start launches the background writer.
func (t *Tracker) Start() {
	t.wg.Add(1)
	go t.run()
}

// Stop drains the writer and waits for it to finish.
func (t *Tracker) Stop() {
	close(t.stop)
	t.wg.Wait()
}

// Enqueue accepts an engagement event. Returns false when the queue is full;
// the event is dropped and the drop is counted.
func (t *Tracker) Enqueue(e store.Engagement) bool {
	select {
	case t.queue <- e:
		return true
	default:
		t.metrics.ObserveTrackingDrop()
		t.logger.Warn("engagement queue full, event dropped",
			"item_id", e.ItemID,
			"action", e.Action,
		)
		return false
	}
}

func (t *Tracker) run() {
	defer t.wg.Done()
	for {
		select {
		case e := <-t.queue:
			t.record(e)
		case <-t.stop:
			// Drain what is already queued before exiting.
			for {
				select {
				case e := <-t.queue:
					t.record(e)
				default:
					return
				}
			}
		}
	}
}

func (t *Tracker) record(e store.Engagement) {
	if err := t.store.RecordEngagement(context.Background(), e); err != nil {
		t.logger.Error("record engagement failed",
			"item_id", e.ItemID,
			"action", e.Action,
			"error", err,
		)
	}
}
