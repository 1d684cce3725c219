package ingest

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"driftcast/internal/notify"
	"driftcast/internal/observability/metrics"
	"driftcast/internal/storage"
	"driftcast/internal/telemetry"
	"driftcast/internal/transcode"
)

type listenerEnv struct {
	listener *Listener
	server   *httptest.Server
	store    *storage.Storage
	queue    *transcode.MemoryQueue
	tracker  *telemetry.Tracker
	recorder *metrics.Recorder
	capture  string
	media    string
}

func newListenerEnv(t *testing.T) *listenerEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewStorage()
	queue := transcode.NewMemoryQueue(8)
	tracker := telemetry.NewTracker()
	captureDir := t.TempDir()
	mediaDir := t.TempDir()

	listener, err := NewListener(Config{
		Store:      store,
		Queue:      queue,
		Notifier:   notify.New("", logger),
		Tracker:    tracker,
		Logger:     logger,
		CaptureDir: captureDir,
		MediaDir:   mediaDir,
	})
	if err != nil {
		t.Fatalf("new listener: %v", err)
	}
	recorder := metrics.New()
	listener.SetRecorder(recorder)

	server := httptest.NewServer(listener.Handler())
	t.Cleanup(server.Close)
	return &listenerEnv{
		listener: listener,
		server:   server,
		store:    store,
		queue:    queue,
		tracker:  tracker,
		recorder: recorder,
		capture:  captureDir,
		media:    mediaDir,
	}
}

func (e *listenerEnv) registerKey(t *testing.T, owner string) string {
	t.Helper()
	credential, err := e.store.GetOrCreateCredential(context.Background(), owner, storage.OwnerProfileParams{})
	if err != nil {
		t.Fatalf("create credential: %v", err)
	}
	return credential.StreamKey
}

func (e *listenerEnv) publish(t *testing.T, streamKey, body string) *http.Response {
	t.Helper()
	response, err := http.Post(e.server.URL+"/publish/"+streamKey, "video/x-flv", strings.NewReader(body))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	response.Body.Close()
	return response
}

func TestPublishUnknownKeyRejected(t *testing.T) {
	env := newListenerEnv(t)
	response := env.publish(t, "live_ffffffffffffffffffffffff", "data")
	if response.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d", response.StatusCode)
	}
	if env.recorder.PublishEventCount("rejected") != 1 {
		t.Fatal("rejection not counted")
	}
	// A refused publish must not create a session.
	if _, ok, _ := env.store.LookupByKey(context.Background(), "live_ffffffffffffffffffffffff"); ok {
		t.Fatal("rejected key created a session")
	}
	if env.queue.Depth() != 0 {
		t.Fatal("rejected publish queued a job")
	}
}

func TestPublishMalformedPath(t *testing.T) {
	env := newListenerEnv(t)
	for _, path := range []string{"/publish/", "/publish/a/b"} {
		response, err := http.Post(env.server.URL+path, "video/x-flv", strings.NewReader("x"))
		if err != nil {
			t.Fatalf("post %s: %v", path, err)
		}
		response.Body.Close()
		if response.StatusCode != http.StatusNotFound {
			t.Fatalf("%s: status = %d", path, response.StatusCode)
		}
	}
}

func TestPublishCapturesAndEnqueuesOnce(t *testing.T) {
	env := newListenerEnv(t)
	streamKey := env.registerKey(t, "user-1")

	response := env.publish(t, streamKey, "stream-bytes")
	if response.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", response.StatusCode)
	}

	// Session ended inactive with the capture on disk and one queued job.
	session, ok, _ := env.store.LookupByKey(context.Background(), streamKey)
	if !ok || session.IsActive {
		t.Fatalf("session state after publish: ok=%v active=%v", ok, session.IsActive)
	}
	if session.LastActiveAt == nil {
		t.Fatal("LastActiveAt not stamped")
	}
	data, err := os.ReadFile(filepath.Join(env.capture, streamKey+".flv"))
	if err != nil {
		t.Fatalf("read capture: %v", err)
	}
	if string(data) != "stream-bytes" {
		t.Fatalf("capture content = %q", data)
	}
	if env.queue.Depth() != 1 {
		t.Fatalf("queue depth = %d, want 1", env.queue.Depth())
	}
	if env.recorder.PublishEventCount("accepted") != 1 || env.recorder.PublishEventCount("ended") != 1 {
		t.Fatal("publish lifecycle not counted")
	}
	if env.recorder.ActivePublishers() != 0 {
		t.Fatalf("active gauge = %d after publish ended", env.recorder.ActivePublishers())
	}
}

func TestPublishSecondConnectionForSameKeyRefused(t *testing.T) {
	env := newListenerEnv(t)
	streamKey := env.registerKey(t, "user-1")

	// Hold the first publish open with a pipe.
	reader, writer := io.Pipe()
	defer writer.Close()
	firstDone := make(chan *http.Response, 1)
	go func() {
		request, _ := http.NewRequest(http.MethodPost, env.server.URL+"/publish/"+streamKey, reader)
		response, err := http.DefaultClient.Do(request)
		if err == nil {
			response.Body.Close()
		}
		firstDone <- response
	}()

	if _, err := writer.Write([]byte("head")); err != nil {
		t.Fatalf("prime first publish: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		session, _, _ := env.store.LookupByKey(context.Background(), streamKey)
		if session.IsActive {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	second := env.publish(t, streamKey, "interloper")
	if second.StatusCode != http.StatusConflict {
		t.Fatalf("second publish status = %d", second.StatusCode)
	}

	writer.Close()
	select {
	case <-firstDone:
	case <-time.After(5 * time.Second):
		t.Fatal("first publish never finished")
	}
}

func TestPlaybackServesOnlyTwoSegmentMediaPaths(t *testing.T) {
	env := newListenerEnv(t)

	streamDir := filepath.Join(env.media, "live_abc")
	if err := os.MkdirAll(streamDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(streamDir, "index.m3u8"), []byte("#EXTM3U\n"), 0o644); err != nil {
		t.Fatalf("write playlist: %v", err)
	}

	get := func(path string) int {
		response, err := http.Get(env.server.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		response.Body.Close()
		return response.StatusCode
	}

	if status := get("/hls/live_abc/index.m3u8"); status != http.StatusOK {
		t.Fatalf("playlist status = %d", status)
	}
	for _, path := range []string{
		"/hls/live_abc",
		"/hls/live_abc/",
		"/hls/live_abc/index.m3u8/extra",
		"/hls/live_abc/notes.txt",
		"/hls/live_abc/..%2Fsecret.m3u8",
		"/hls/../live_abc/index.m3u8",
	} {
		if status := get(path); status != http.StatusNotFound && status != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want rejection", path, status)
		}
	}
}

func TestPublishFeedsTelemetry(t *testing.T) {
	env := newListenerEnv(t)
	streamKey := env.registerKey(t, "user-1")

	// Telemetry resets when the publish ends, so watch the feed live.
	events, cancel := env.tracker.Subscribe()
	defer cancel()

	reader, writer := io.Pipe()
	go func() {
		// Two spaced writes so at least one sampling window elapses.
		writer.Write([]byte(strings.Repeat("a", 1024)))
		time.Sleep(1200 * time.Millisecond)
		writer.Write([]byte(strings.Repeat("b", 1024)))
		writer.Close()
	}()
	request, _ := http.NewRequest(http.MethodPost, env.server.URL+"/publish/"+streamKey, reader)
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	response.Body.Close()

	select {
	case event := <-events:
		if event.StreamKey != streamKey || event.Sample.Bitrate <= 0 {
			t.Fatalf("unexpected telemetry event: %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("no telemetry sample recorded")
	}
}
