package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"driftcast/internal/models"
	"driftcast/internal/observability/logging"
	"driftcast/internal/observability/metrics"
	"driftcast/internal/storage"
)

const (
	defaultConcurrency = 2
	defaultMaxAttempts = 5
	defaultRetryDelay  = 15 * time.Second

	// PlaceholderThumbnail is recorded when frame extraction fails; the
	// transcode itself still succeeds.
	PlaceholderThumbnail = "/media/thumbnails/placeholder.jpg"

	thumbnailFile = "thumbnail.jpg"
)

// WorkerConfig bounds the pool.
type WorkerConfig struct {
	Concurrency int
	MaxAttempts int
	RetryDelay  time.Duration
	ScratchDir  string
}

// Worker drains the transcode queue: render, upload, register, clean up.
type Worker struct {
	store     storage.Repository
	objects   storage.ObjectStore
	queue     Queue
	processor MediaProcessor
	logger    *slog.Logger
	recorder  *metrics.Recorder
	cfg       WorkerConfig

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewWorker assembles a worker over the given collaborators.
func NewWorker(store storage.Repository, objects storage.ObjectStore, queue Queue, processor MediaProcessor, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}
	return &Worker{
		store:     store,
		objects:   objects,
		queue:     queue,
		processor: processor,
		logger:    logging.WithComponent(logger, "transcode-worker"),
		recorder:  metrics.Default(),
		cfg:       cfg,
		inflight:  make(map[string]struct{}),
	}
}

// SetRecorder overrides the metrics recorder, used by tests.
func (w *Worker) SetRecorder(recorder *metrics.Recorder) {
	if recorder != nil {
		w.recorder = recorder
	}
}

// Run consumes deliveries until the context is cancelled. It returns nil on
// clean shutdown.
func (w *Worker) Run(ctx context.Context) error {
	deliveries, err := w.queue.Consume(ctx)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(w.cfg.Concurrency)
	for delivery := range deliveries {
		delivery := delivery
		group.Go(func() error {
			w.handle(groupCtx, delivery)
			return nil
		})
	}
	return group.Wait()
}

// handle runs one delivery through the pipeline. Failures never propagate;
// they turn into retries or parks on the queue.
func (w *Worker) handle(ctx context.Context, delivery Delivery) {
	job := delivery.Job
	logger := w.logger.With("stream_key", job.StreamKey, "source", job.SourcePath, "attempt", delivery.Attempt)

	// One job per stream key at a time. A concurrent sibling goes back on
	// the queue without burning an attempt's worth of work.
	if !w.claimKey(job.StreamKey) {
		logger.Debug("stream key busy, requeueing")
		w.delayedRetry(ctx, delivery, logger)
		return
	}
	defer w.releaseKey(job.StreamKey)

	w.recorder.TranscodeStarted(job.Kind)

	if _, err := os.Stat(job.SourcePath); err != nil {
		// Redelivery after a completed run, or a capture that never hit
		// disk. Nothing to do either way.
		logger.Warn("capture missing, dropping job", "error", err)
		w.finish(delivery.Ack, "missing_source", job.Kind, logger)
		return
	}

	outDir := filepath.Join(w.cfg.ScratchDir, "driftcast-hls", job.StreamKey, fmt.Sprintf("%d", job.EnqueuedAt.UnixNano()))

	// Poster frame comes before the encode; its failure is absorbed with a
	// placeholder while an encode failure sends the job back.
	thumbnailURL := w.thumbnail(ctx, job, outDir, logger)

	masterRel, err := w.processor.TranscodeHLS(ctx, job.SourcePath, outDir)
	if err != nil {
		// Partial renditions are useless; remove them before the job goes
		// back on the queue.
		os.RemoveAll(outDir)
		logger.Error("transcode failed", "error", err)
		w.retryOrPark(ctx, delivery, logger)
		return
	}

	mediaURL, err := w.uploadRenditions(ctx, job, outDir, masterRel)
	if err != nil {
		os.RemoveAll(outDir)
		logger.Error("upload failed", "error", err)
		w.retryOrPark(ctx, delivery, logger)
		return
	}

	if err := w.registerAsset(ctx, job, mediaURL, thumbnailURL); err != nil {
		os.RemoveAll(outDir)
		logger.Error("register asset failed", "error", err)
		w.retryOrPark(ctx, delivery, logger)
		return
	}

	if err := os.Remove(job.SourcePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("remove capture failed", "error", err)
	}
	os.RemoveAll(outDir)
	w.finish(delivery.Ack, "complete", job.Kind, logger)
	logger.Info("transcode complete", "media_url", mediaURL)
}

func (w *Worker) uploadRenditions(ctx context.Context, job models.TranscodeJob, outDir, masterRel string) (string, error) {
	prefix := fmt.Sprintf("vods/%s/%d", job.StreamKey, job.EnqueuedAt.Unix())
	var masterURL string
	err := filepath.WalkDir(outDir, func(filePath string, entry os.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return err
		}
		rel, err := filepath.Rel(outDir, filePath)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == thumbnailFile {
			// Already uploaded under thumbnails/, not part of the rendition set.
			return nil
		}
		url, err := w.objects.UploadFile(ctx, path.Join(prefix, rel), filePath, contentTypeFor(rel))
		if err != nil {
			return err
		}
		if rel == masterRel {
			masterURL = url
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if masterURL == "" {
		return "", fmt.Errorf("master playlist %q not uploaded", masterRel)
	}
	return masterURL, nil
}

// thumbnail extracts and uploads a frame. Failure is absorbed: the asset gets
// a placeholder instead.
func (w *Worker) thumbnail(ctx context.Context, job models.TranscodeJob, outDir string, logger *slog.Logger) string {
	thumbPath := filepath.Join(outDir, thumbnailFile)
	if err := w.processor.ExtractThumbnail(ctx, job.SourcePath, thumbPath); err != nil {
		logger.Warn("thumbnail extraction failed, using placeholder", "error", err)
		return PlaceholderThumbnail
	}
	url, err := w.objects.UploadFile(ctx, fmt.Sprintf("thumbnails/%s.jpg", job.StreamKey), thumbPath, "image/jpeg")
	if err != nil {
		logger.Warn("thumbnail upload failed, using placeholder", "error", err)
		return PlaceholderThumbnail
	}
	return url
}

func (w *Worker) registerAsset(ctx context.Context, job models.TranscodeJob, mediaURL, thumbnailURL string) error {
	title := "Broadcast " + job.EnqueuedAt.UTC().Format("2006-01-02 15:04")
	uploaderID := ""
	if session, ok, err := w.store.LookupByKey(ctx, job.StreamKey); err == nil && ok {
		uploaderID = session.OwnerID
		if strings.TrimSpace(session.Title) != "" {
			title = session.Title + " " + job.EnqueuedAt.UTC().Format("2006-01-02")
		}
	}
	_, err := w.store.CreateVideo(ctx, storage.CreateVideoParams{
		Title:        title,
		StreamKey:    job.StreamKey,
		SourcePath:   job.SourcePath,
		MediaURL:     mediaURL,
		ThumbnailURL: thumbnailURL,
		UploaderID:   uploaderID,
	})
	if errors.Is(err, storage.ErrConflict) {
		// Redelivered job already produced this asset.
		return nil
	}
	return err
}

func (w *Worker) retryOrPark(ctx context.Context, delivery Delivery, logger *slog.Logger) {
	if delivery.Attempt >= w.cfg.MaxAttempts {
		logger.Error("attempts exhausted, parking job", "attempts", delivery.Attempt)
		w.finish(delivery.Park, "parked", delivery.Job.Kind, logger)
		return
	}
	w.delayedRetryOutcome(ctx, delivery, logger, "retryable")
}

// delayedRetry requeues without recording a job outcome; used when the job
// was never started because its key was busy.
func (w *Worker) delayedRetry(ctx context.Context, delivery Delivery, logger *slog.Logger) {
	w.wait(ctx)
	if err := delivery.Retry(); err != nil {
		logger.Error("requeue failed", "error", err)
	}
}

func (w *Worker) delayedRetryOutcome(ctx context.Context, delivery Delivery, logger *slog.Logger, outcome string) {
	w.wait(ctx)
	w.finish(delivery.Retry, outcome, delivery.Job.Kind, logger)
}

func (w *Worker) wait(ctx context.Context) {
	timer := time.NewTimer(w.cfg.RetryDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (w *Worker) finish(settle func() error, status, kind string, logger *slog.Logger) {
	w.recorder.TranscodeFinished(kind, status)
	if err := settle(); err != nil {
		logger.Error("settle delivery failed", "status", status, "error", err)
	}
}

func (w *Worker) claimKey(streamKey string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.inflight[streamKey]; busy {
		return false
	}
	w.inflight[streamKey] = struct{}{}
	return true
}

func (w *Worker) releaseKey(streamKey string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inflight, streamKey)
}

func contentTypeFor(rel string) string {
	switch strings.ToLower(filepath.Ext(rel)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
