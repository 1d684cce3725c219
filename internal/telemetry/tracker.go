// Package telemetry keeps per-stream ingest metrics in memory and fans
// updates out to live subscribers. Nothing here survives a restart.
package telemetry

import (
	"sort"
	"sync"
	"time"

	"driftcast/internal/models"
)

// Update carries the fields reported by an ingest probe. Nil fields keep
// their previous value.
type Update struct {
	Bitrate   *float64
	Bandwidth *float64
	Latency   *float64
}

// Event is one pushed sample, tagged with its stream key.
type Event struct {
	StreamKey string              `json:"streamKey"`
	Sample    models.MetricSample `json:"sample"`
}

const subscriberBuffer = 16

// Tracker is the in-memory metric store and broadcast hub.
type Tracker struct {
	mu          sync.RWMutex
	samples     map[string]models.MetricSample
	subscribers map[chan Event]struct{}
	now         func() time.Time
}

// NewTracker constructs an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		samples:     make(map[string]models.MetricSample),
		subscribers: make(map[chan Event]struct{}),
		now:         time.Now,
	}
}

// SetClock overrides the time source, used by tests.
func (t *Tracker) SetClock(now func() time.Time) {
	if now != nil {
		t.now = now
	}
}

// Record merges the update into the stream's sample, stamps it, and pushes
// the result to all subscribers. Slow subscribers miss events rather than
// blocking the ingest path.
func (t *Tracker) Record(streamKey string, update Update) models.MetricSample {
	t.mu.Lock()
	sample := t.samples[streamKey]
	if update.Bitrate != nil {
		sample.Bitrate = *update.Bitrate
	}
	if update.Bandwidth != nil {
		sample.Bandwidth = *update.Bandwidth
	}
	if update.Latency != nil {
		sample.Latency = *update.Latency
	}
	sample.LastUpdated = t.now().UTC()
	t.samples[streamKey] = sample

	event := Event{StreamKey: streamKey, Sample: sample}
	for subscriber := range t.subscribers {
		select {
		case subscriber <- event:
		default:
		}
	}
	t.mu.Unlock()
	return sample
}

// Get returns the sample for one stream key.
func (t *Tracker) Get(streamKey string) (models.MetricSample, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sample, ok := t.samples[streamKey]
	return sample, ok
}

// All returns every tracked sample keyed by stream, in stable key order.
func (t *Tracker) All() []Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	events := make([]Event, 0, len(t.samples))
	for key, sample := range t.samples {
		events = append(events, Event{StreamKey: key, Sample: sample})
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].StreamKey < events[j].StreamKey
	})
	return events
}

// Reset drops the sample for a stream, typically when its broadcast ends.
func (t *Tracker) Reset(streamKey string) {
	t.mu.Lock()
	delete(t.samples, streamKey)
	t.mu.Unlock()
}

// Subscribe registers a live event feed. The returned cancel function must be
// called to release the subscription.
func (t *Tracker) Subscribe() (<-chan Event, func()) {
	events := make(chan Event, subscriberBuffer)
	t.mu.Lock()
	t.subscribers[events] = struct{}{}
	t.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subscribers, events)
			t.mu.Unlock()
			close(events)
		})
	}
	return events, cancel
}

// SubscriberCount reports active subscriptions, used by tests.
func (t *Tracker) SubscriberCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subscribers)
}
