package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestPublishLifecycleCounters(t *testing.T) {
	recorder := New()
	recorder.PublishAccepted()
	recorder.PublishAccepted()
	recorder.PublishRejected()
	recorder.PublishEnded()

	if got := recorder.PublishEventCount("accepted"); got != 2 {
		t.Fatalf("accepted = %d", got)
	}
	if got := recorder.PublishEventCount("rejected"); got != 1 {
		t.Fatalf("rejected = %d", got)
	}
	if got := recorder.ActivePublishers(); got != 1 {
		t.Fatalf("active gauge = %d, want 1", got)
	}
}

func TestGaugeNeverGoesNegative(t *testing.T) {
	recorder := New()
	recorder.PublishEnded()
	recorder.PublishEnded()
	if got := recorder.ActivePublishers(); got != 0 {
		t.Fatalf("gauge = %d, want 0", got)
	}
}

func TestTranscodeCounters(t *testing.T) {
	recorder := New()
	recorder.TranscodeStarted("transcode-hls")
	recorder.TranscodeFinished("transcode-hls", "Complete")
	if got := recorder.JobEventCount("transcode-hls", "complete"); got != 1 {
		t.Fatalf("complete = %d", got)
	}
	if got := recorder.JobEventCount("transcode-hls", "started"); got != 1 {
		t.Fatalf("started = %d", got)
	}
}

func TestHandlerRendersSortedLines(t *testing.T) {
	recorder := New()
	recorder.ObserveRequest("get", "/api/streams/live", 200, 30*time.Millisecond)
	recorder.ObserveModeration("approved")
	recorder.NotifyFailed()

	response := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(response, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := response.Body.String()

	for _, want := range []string{
		`http_requests_total{method="GET",path="/api/streams/live",status="200"} 1`,
		`moderation_outcomes_total{outcome="approved"} 1`,
		`notify_failures_total 1`,
		`active_publishers 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}

	lines := strings.Split(strings.TrimSpace(body), "\n")
	for i := 1; i < len(lines); i++ {
		if lines[i] < lines[i-1] {
			t.Fatalf("lines not sorted at %d: %q < %q", i, lines[i], lines[i-1])
		}
	}
}

func TestHandlerRejectsNonGet(t *testing.T) {
	response := httptest.NewRecorder()
	New().Handler().ServeHTTP(response, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	if response.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", response.Code)
	}
}

func TestPathNormalizationCollapsesIDs(t *testing.T) {
	recorder := New()
	recorder.ObserveRequest("GET", "/api/videos/0123456789abcdef0123", 200, time.Millisecond)
	recorder.ObserveRequest("GET", "/api/videos/fedcba98765432100123", 200, time.Millisecond)

	response := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(response, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	want := `http_requests_total{method="GET",path="/api/videos/:id",status="200"} 2`
	if !strings.Contains(response.Body.String(), want) {
		t.Fatalf("missing %q in:\n%s", want, response.Body.String())
	}
}
