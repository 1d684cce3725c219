// Package ingest terminates publish connections from broadcast software and
// serves HLS playback files. It runs on its own listener, apart from the API
// port.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"driftcast/internal/notify"
	"driftcast/internal/observability/logging"
	"driftcast/internal/observability/metrics"
	"driftcast/internal/storage"
	"driftcast/internal/telemetry"
	"driftcast/internal/transcode"
)

const (
	publishPrefix = "/publish/"
	hlsPrefix     = "/hls/"

	copyBufferSize = 64 << 10
	sampleInterval = time.Second
)

// Config wires a Listener.
type Config struct {
	Store      storage.Repository
	Queue      transcode.Queue
	Notifier   *notify.Notifier
	Tracker    *telemetry.Tracker
	Logger     *slog.Logger
	CaptureDir string
	MediaDir   string
}

// Listener accepts publish streams and serves playback segments. Each
// connection runs in its own goroutine under net/http; the only shared state
// is the registry and the per-key capture guard.
type Listener struct {
	store      storage.Repository
	queue      transcode.Queue
	notifier   *notify.Notifier
	tracker    *telemetry.Tracker
	logger     *slog.Logger
	recorder   *metrics.Recorder
	captureDir string
	mediaDir   string

	mu        sync.Mutex
	capturing map[string]struct{}
}

// NewListener constructs the listener and ensures the capture directory
// exists.
func NewListener(cfg Config) (*Listener, error) {
	if cfg.CaptureDir == "" {
		return nil, fmt.Errorf("capture directory is required")
	}
	if err := os.MkdirAll(cfg.CaptureDir, 0o755); err != nil {
		return nil, fmt.Errorf("create capture dir: %w", err)
	}
	return &Listener{
		store:      cfg.Store,
		queue:      cfg.Queue,
		notifier:   cfg.Notifier,
		tracker:    cfg.Tracker,
		logger:     logging.WithComponent(cfg.Logger, "ingest"),
		recorder:   metrics.Default(),
		captureDir: cfg.CaptureDir,
		mediaDir:   cfg.MediaDir,
		capturing:  make(map[string]struct{}),
	}, nil
}

// SetRecorder overrides the metrics recorder, used by tests.
func (l *Listener) SetRecorder(recorder *metrics.Recorder) {
	if recorder != nil {
		l.recorder = recorder
	}
}

// Handler returns the ingest mux.
func (l *Listener) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(publishPrefix, l.handlePublish)
	mux.HandleFunc(hlsPrefix, l.handlePlayback)
	return mux
}

// handlePublish terminates one broadcast. The stream key is the last path
// segment and is validated before the registry is consulted; unknown keys
// are refused without creating anything.
func (l *Listener) handlePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		w.Header().Set("Allow", strings.Join([]string{http.MethodPost, http.MethodPut}, ", "))
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	streamKey := strings.TrimPrefix(r.URL.Path, publishPrefix)
	if streamKey == "" || strings.Contains(streamKey, "/") {
		http.NotFound(w, r)
		return
	}

	ctx := logging.ContextWithStreamKey(r.Context(), streamKey)
	logger := logging.WithContext(ctx, l.logger)

	if _, known, err := l.store.LookupByKey(ctx, streamKey); err != nil {
		logger.Error("key lookup failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	} else if !known {
		l.recorder.PublishRejected()
		logger.Warn("publish refused, unknown stream key")
		http.Error(w, "unknown stream key", http.StatusForbidden)
		return
	}

	if !l.claimCapture(streamKey) {
		l.recorder.PublishRejected()
		logger.Warn("publish refused, stream already live")
		http.Error(w, "stream already live", http.StatusConflict)
		return
	}
	defer l.releaseCapture(streamKey)

	capturePath := l.capturePath(streamKey)
	capture, err := os.Create(capturePath)
	if err != nil {
		logger.Error("open capture failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if _, err := l.store.SetActive(ctx, streamKey, true); err != nil {
		capture.Close()
		logger.Error("activate session failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	l.recorder.PublishAccepted()
	l.notifier.StreamLive(ctx, streamKey)
	logger.Info("publish started")

	written, copyErr := l.capture(ctx, capture, r.Body, streamKey)
	closeErr := capture.Close()

	l.finishPublish(streamKey, written, copyErr, closeErr, logger)
	w.WriteHeader(http.StatusOK)
}

// capture drains the publish body to disk, feeding byte-rate samples to the
// telemetry tracker roughly once a second.
func (l *Listener) capture(ctx context.Context, dst io.Writer, src io.Reader, streamKey string) (int64, error) {
	buffer := make([]byte, copyBufferSize)
	var total int64
	windowStart := time.Now()
	var windowBytes int64

	for {
		n, readErr := src.Read(buffer)
		if n > 0 {
			if _, writeErr := dst.Write(buffer[:n]); writeErr != nil {
				return total, writeErr
			}
			total += int64(n)
			windowBytes += int64(n)
			if elapsed := time.Since(windowStart); elapsed >= sampleInterval {
				bitrate := float64(windowBytes*8) / elapsed.Seconds()
				l.tracker.Record(streamKey, telemetry.Update{
					Bitrate:   &bitrate,
					Bandwidth: &bitrate,
				})
				windowStart = time.Now()
				windowBytes = 0
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return total, nil
			}
			return total, readErr
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
}

// finishPublish flips the session inactive and, on a genuine end edge,
// queues the capture for transcoding. It runs detached from the request
// context so a dropped connection cannot cancel the teardown.
func (l *Listener) finishPublish(streamKey string, written int64, copyErr, closeErr error, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	ctx = logging.ContextWithStreamKey(ctx, streamKey)

	transition, err := l.store.SetActive(ctx, streamKey, false)
	if err != nil {
		logger.Error("deactivate session failed", "error", err)
		return
	}
	l.recorder.PublishEnded()
	l.notifier.StreamOffline(ctx, streamKey)
	l.tracker.Reset(streamKey)

	if copyErr != nil {
		logger.Warn("publish ended with error", "bytes", written, "error", copyErr)
	} else {
		logger.Info("publish ended", "bytes", written)
	}
	if closeErr != nil {
		logger.Warn("close capture failed", "error", closeErr)
	}

	if !transition.Ended() {
		return
	}
	queued, err := transcode.EnqueueCapture(ctx, l.queue, l.capturePath(streamKey), streamKey)
	if err != nil {
		logger.Error("enqueue transcode failed", "error", err)
		return
	}
	if !queued {
		logger.Warn("capture missing, transcode skipped")
		return
	}
	logger.Info("transcode queued")
}

func (l *Listener) capturePath(streamKey string) string {
	return filepath.Join(l.captureDir, streamKey+".flv")
}

func (l *Listener) claimCapture(streamKey string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.capturing[streamKey]; busy {
		return false
	}
	l.capturing[streamKey] = struct{}{}
	return true
}

func (l *Listener) releaseCapture(streamKey string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.capturing, streamKey)
}
