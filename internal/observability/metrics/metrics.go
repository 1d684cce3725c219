package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// JobLabel identifies transcode job outcomes by kind and terminal status.
type JobLabel struct {
	Kind   string
	Status string
}

// Recorder aggregates in-memory operational counters for HTTP requests,
// publish lifecycle events, transcode jobs, and moderation outcomes. Writers
// coordinate through a RWMutex; the active-publish gauge is atomic so the
// ingest hot path never contends with scrape reads.
type Recorder struct {
	mu                sync.RWMutex
	requestCount      map[requestLabel]uint64
	requestDuration   map[requestLabel]time.Duration
	publishEvents     map[string]uint64
	jobEvents         map[JobLabel]uint64
	moderationEvents  map[string]uint64
	notifyFailures    atomic.Uint64
	activePublishers  atomic.Int64
	inflightTranscode atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps.
func New() *Recorder {
	return &Recorder{
		requestCount:     make(map[requestLabel]uint64),
		requestDuration:  make(map[requestLabel]time.Duration),
		publishEvents:    make(map[string]uint64),
		jobEvents:        make(map[JobLabel]uint64),
		moderationEvents: make(map[string]uint64),
	}
}

// Default returns the singleton Recorder shared by packages that do not carry
// their own instrumentation handle.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates request count and cumulative duration by method,
// normalized path, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// PublishAccepted records an accepted publish and bumps the active gauge.
func (r *Recorder) PublishAccepted() {
	r.incrementPublishEvent("accepted")
	r.activePublishers.Add(1)
}

// PublishRejected records a refused publish attempt.
func (r *Recorder) PublishRejected() {
	r.incrementPublishEvent("rejected")
}

// PublishEnded records a finished broadcast and decrements the active gauge.
func (r *Recorder) PublishEnded() {
	r.incrementPublishEvent("ended")
	decrementGauge(&r.activePublishers)
}

func (r *Recorder) incrementPublishEvent(event string) {
	r.mu.Lock()
	r.publishEvents[event]++
	r.mu.Unlock()
}

// TranscodeStarted marks a worker picking up a job.
func (r *Recorder) TranscodeStarted(kind string) {
	r.observeJob(kind, "started")
	r.inflightTranscode.Add(1)
}

// TranscodeFinished marks a job outcome ("complete", "retryable", "parked").
func (r *Recorder) TranscodeFinished(kind, status string) {
	r.observeJob(kind, status)
	decrementGauge(&r.inflightTranscode)
}

func (r *Recorder) observeJob(kind, status string) {
	label := JobLabel{Kind: normalizeName(kind), Status: normalizeName(status)}
	r.mu.Lock()
	r.jobEvents[label]++
	r.mu.Unlock()
}

// ObserveModeration records a moderation outcome ("deleted", "rejected_toxic",
// "rejected_wordlist", "approved").
func (r *Recorder) ObserveModeration(outcome string) {
	out := normalizeName(outcome)
	r.mu.Lock()
	r.moderationEvents[out]++
	r.mu.Unlock()
}

// NotifyFailed counts control-plane notification failures.
func (r *Recorder) NotifyFailed() {
	r.notifyFailures.Add(1)
}

func decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// Handler exposes the counters in a plain-text format, one metric per line.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		for _, line := range r.renderLines() {
			fmt.Fprintln(w, line)
		}
	})
}

func (r *Recorder) renderLines() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lines := make([]string, 0, len(r.requestCount)+len(r.publishEvents)+len(r.jobEvents)+len(r.moderationEvents)+4)
	for label, count := range r.requestCount {
		lines = append(lines, fmt.Sprintf("http_requests_total{method=%q,path=%q,status=%q} %d", label.method, label.path, label.status, count))
		lines = append(lines, fmt.Sprintf("http_request_duration_ms_total{method=%q,path=%q,status=%q} %d", label.method, label.path, label.status, r.requestDuration[label].Milliseconds()))
	}
	for event, count := range r.publishEvents {
		lines = append(lines, fmt.Sprintf("publish_events_total{event=%q} %d", event, count))
	}
	for label, count := range r.jobEvents {
		lines = append(lines, fmt.Sprintf("transcode_jobs_total{kind=%q,status=%q} %d", label.Kind, label.Status, count))
	}
	for outcome, count := range r.moderationEvents {
		lines = append(lines, fmt.Sprintf("moderation_outcomes_total{outcome=%q} %d", outcome, count))
	}
	lines = append(lines, fmt.Sprintf("notify_failures_total %d", r.notifyFailures.Load()))
	lines = append(lines, fmt.Sprintf("active_publishers %d", r.activePublishers.Load()))
	lines = append(lines, fmt.Sprintf("transcode_jobs_inflight %d", r.inflightTranscode.Load()))
	sort.Strings(lines)
	return lines
}

// Snapshot helpers used by tests.

// PublishEventCount returns the counter for one publish lifecycle event.
func (r *Recorder) PublishEventCount(event string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.publishEvents[event]
}

// JobEventCount returns the counter for one job kind/status pair.
func (r *Recorder) JobEventCount(kind, status string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.jobEvents[JobLabel{Kind: normalizeName(kind), Status: normalizeName(status)}]
}

// ModerationCount returns the counter for one moderation outcome.
func (r *Recorder) ModerationCount(outcome string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.moderationEvents[normalizeName(outcome)]
}

// ActivePublishers returns the current publish gauge value.
func (r *Recorder) ActivePublishers() int64 {
	return r.activePublishers.Load()
}

// NotifyFailureCount returns the notification failure counter.
func (r *Recorder) NotifyFailureCount() uint64 {
	return r.notifyFailures.Load()
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

func normalizePath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "/"
	}
	segments := strings.Split(trimmed, "/")
	for i, segment := range segments {
		if segment == "" {
			continue
		}
		if looksLikeIdentifier(segment) {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) < 16 {
		return false
	}
	for _, r := range segment {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}
