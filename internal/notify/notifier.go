// Package notify pushes stream lifecycle events to the control-plane API.
// Delivery is best effort: ingest never waits on, or fails because of, the
// control plane.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"driftcast/internal/observability/logging"
	"driftcast/internal/observability/metrics"
)

const defaultTimeout = 5 * time.Second

// StatusEvent is the payload posted to the status hook.
type StatusEvent struct {
	StreamKey string    `json:"streamKey"`
	IsActive  bool      `json:"isActive"`
	At        time.Time `json:"at"`
}

// Notifier delivers stream status events over HTTP.
type Notifier struct {
	endpoint string
	token    string
	client   *http.Client
	logger   *slog.Logger
	recorder *metrics.Recorder
	inflight sync.WaitGroup
}

// Option adjusts Notifier construction.
type Option func(*Notifier)

// WithHTTPClient overrides the HTTP client, used by tests.
func WithHTTPClient(client *http.Client) Option {
	return func(n *Notifier) {
		if client != nil {
			n.client = client
		}
	}
}

// WithToken sets the bearer token attached to hook requests.
func WithToken(token string) Option {
	return func(n *Notifier) {
		n.token = strings.TrimSpace(token)
	}
}

// WithRecorder overrides the metrics recorder.
func WithRecorder(recorder *metrics.Recorder) Option {
	return func(n *Notifier) {
		if recorder != nil {
			n.recorder = recorder
		}
	}
}

// New constructs a Notifier targeting the given hook endpoint. An empty
// endpoint yields a disabled notifier whose sends are silent no-ops.
func New(endpoint string, logger *slog.Logger, opts ...Option) *Notifier {
	n := &Notifier{
		endpoint: strings.TrimSpace(endpoint),
		client:   &http.Client{Timeout: defaultTimeout},
		logger:   logging.WithComponent(logger, "notify"),
		recorder: metrics.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// StreamLive reports a stream going live.
func (n *Notifier) StreamLive(ctx context.Context, streamKey string) {
	n.dispatch(ctx, StatusEvent{StreamKey: streamKey, IsActive: true, At: time.Now().UTC()})
}

// StreamOffline reports a stream ending.
func (n *Notifier) StreamOffline(ctx context.Context, streamKey string) {
	n.dispatch(ctx, StatusEvent{StreamKey: streamKey, IsActive: false, At: time.Now().UTC()})
}

// dispatch hands the event to a delivery goroutine. The caller returns
// immediately; a wedged hook endpoint can never stall a publish.
func (n *Notifier) dispatch(ctx context.Context, event StatusEvent) {
	if n.endpoint == "" {
		return
	}
	n.inflight.Add(1)
	go func() {
		defer n.inflight.Done()
		n.send(ctx, event)
	}()
}

// Flush blocks until in-flight deliveries settle, used on shutdown and by
// tests.
func (n *Notifier) Flush() {
	n.inflight.Wait()
}

// send posts the event and logs failures without surfacing them. The caller's
// context carries request identifiers but not its deadline; delivery gets its
// own bounded window so a cancelled publish connection cannot cut it short.
func (n *Notifier) send(ctx context.Context, event StatusEvent) {
	if n.endpoint == "" {
		return
	}
	body, err := json.Marshal(event)
	if err != nil {
		n.fail(ctx, event, fmt.Errorf("encode event: %w", err))
		return
	}
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultTimeout)
	defer cancel()

	request, err := http.NewRequestWithContext(sendCtx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		n.fail(ctx, event, fmt.Errorf("build request: %w", err))
		return
	}
	request.Header.Set("Content-Type", "application/json")
	if n.token != "" {
		request.Header.Set("Authorization", "Bearer "+n.token)
	}

	response, err := n.client.Do(request)
	if err != nil {
		n.fail(ctx, event, err)
		return
	}
	defer func() {
		io.Copy(io.Discard, response.Body)
		response.Body.Close()
	}()
	if response.StatusCode >= 300 {
		n.fail(ctx, event, fmt.Errorf("hook returned %s", response.Status))
		return
	}
	logging.WithContext(ctx, n.logger).Debug("status event delivered",
		"stream_key", event.StreamKey, "is_active", event.IsActive)
}

func (n *Notifier) fail(ctx context.Context, event StatusEvent, err error) {
	n.recorder.NotifyFailed()
	logging.WithContext(ctx, n.logger).Warn("status event delivery failed",
		"stream_key", event.StreamKey, "is_active", event.IsActive, "error", err)
}
