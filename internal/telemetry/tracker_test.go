package telemetry

import (
	"testing"
	"time"
)

func floatPtr(v float64) *float64 {
	return &v
}

func TestRecordMergesPartialUpdates(t *testing.T) {
	tracker := NewTracker()
	stamp := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	tracker.SetClock(func() time.Time { return stamp })

	tracker.Record("live_abc", Update{Bitrate: floatPtr(4500), Bandwidth: floatPtr(5000)})
	sample := tracker.Record("live_abc", Update{Latency: floatPtr(120)})

	if sample.Bitrate != 4500 || sample.Bandwidth != 5000 || sample.Latency != 120 {
		t.Fatalf("merge lost fields: %+v", sample)
	}
	if !sample.LastUpdated.Equal(stamp) {
		t.Fatalf("LastUpdated = %v, want %v", sample.LastUpdated, stamp)
	}

	got, ok := tracker.Get("live_abc")
	if !ok || got != sample {
		t.Fatalf("Get returned %+v, ok=%v", got, ok)
	}
}

func TestGetUnknownKey(t *testing.T) {
	tracker := NewTracker()
	if _, ok := tracker.Get("live_missing"); ok {
		t.Fatal("unknown key reported a sample")
	}
}

func TestResetDropsSample(t *testing.T) {
	tracker := NewTracker()
	tracker.Record("live_abc", Update{Bitrate: floatPtr(1000)})
	tracker.Reset("live_abc")
	if _, ok := tracker.Get("live_abc"); ok {
		t.Fatal("sample survived reset")
	}
}

func TestSubscribersReceiveEvents(t *testing.T) {
	tracker := NewTracker()
	events, cancel := tracker.Subscribe()
	defer cancel()

	tracker.Record("live_abc", Update{Bitrate: floatPtr(2500)})

	select {
	case event := <-events:
		if event.StreamKey != "live_abc" || event.Sample.Bitrate != 2500 {
			t.Fatalf("unexpected event: %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestSlowSubscriberDropsEventsWithoutBlocking(t *testing.T) {
	tracker := NewTracker()
	_, cancel := tracker.Subscribe()
	defer cancel()

	// Never read; the buffer fills and further records must not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*3; i++ {
			tracker.Record("live_abc", Update{Bitrate: floatPtr(float64(i))})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("record blocked on a slow subscriber")
	}
}

func TestCancelRemovesSubscriber(t *testing.T) {
	tracker := NewTracker()
	_, cancel := tracker.Subscribe()
	if tracker.SubscriberCount() != 1 {
		t.Fatalf("subscriber count = %d", tracker.SubscriberCount())
	}
	cancel()
	cancel() // second cancel is a no-op
	if tracker.SubscriberCount() != 0 {
		t.Fatalf("subscriber count after cancel = %d", tracker.SubscriberCount())
	}
}

func TestAllReturnsStableOrder(t *testing.T) {
	tracker := NewTracker()
	tracker.Record("live_bbb", Update{Bitrate: floatPtr(1)})
	tracker.Record("live_aaa", Update{Bitrate: floatPtr(2)})

	all := tracker.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(all))
	}
	if all[0].StreamKey != "live_aaa" || all[1].StreamKey != "live_bbb" {
		t.Fatalf("unexpected order: %s, %s", all[0].StreamKey, all[1].StreamKey)
	}
}
