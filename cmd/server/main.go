// Command server starts the Driftcast control API, the ingest listener, the
// transcode workers, and the chat moderation pipeline in one process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"driftcast/internal/api"
	"driftcast/internal/auth"
	"driftcast/internal/ingest"
	"driftcast/internal/moderation"
	"driftcast/internal/notify"
	"driftcast/internal/observability/logging"
	"driftcast/internal/observability/metrics"
	"driftcast/internal/server"
	"driftcast/internal/storage"
	"driftcast/internal/telemetry"
	"driftcast/internal/transcode"
)

func main() {
	apiAddr := flag.String("addr", "", "API listen address")
	ingestAddr := flag.String("ingest-addr", "", "ingest listen address")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")

	storageDriver := flag.String("storage-driver", "", "datastore driver (memory or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	broadcastBase := flag.String("broadcast-base", "", "URL prefix for playback links")

	captureDir := flag.String("capture-dir", "", "directory for raw broadcast captures")
	mediaDir := flag.String("media-dir", "", "directory served for HLS playback")
	scratchDir := flag.String("scratch-dir", "", "working directory for transcode output")

	objectEndpoint := flag.String("object-endpoint", "", "S3-compatible object storage endpoint")
	objectAccessKey := flag.String("object-access-key", "", "object storage access key")
	objectSecretKey := flag.String("object-secret-key", "", "object storage secret key")
	objectBucket := flag.String("object-bucket", "", "object storage bucket")
	objectUseSSL := flag.Bool("object-use-ssl", false, "enable TLS for object storage requests")
	objectPublicBase := flag.String("object-public-base", "", "public URL prefix for stored objects")

	amqpURL := flag.String("amqp-url", "", "AMQP broker URL for the transcode queue")
	amqpPrefetch := flag.Int("amqp-prefetch", 0, "unacked deliveries fetched per worker channel")
	workerConcurrency := flag.Int("transcode-concurrency", 0, "parallel transcode jobs")
	workerMaxAttempts := flag.Int("transcode-max-attempts", 0, "delivery attempts before a job is parked")
	workerRetryDelay := flag.Duration("transcode-retry-delay", 0, "delay before a failed job is retried")
	ffmpegBinary := flag.String("ffmpeg", "", "path to the ffmpeg binary")

	redisURL := flag.String("chat-redis-url", "", "Redis URL for chat moderation events")
	toxicityEndpoint := flag.String("toxicity-endpoint", "", "toxicity classifier endpoint")
	toxicityThreshold := flag.Float64("toxicity-threshold", 0, "score above which a message is toxic")
	wordlistPath := flag.String("wordlist", "", "path to the banned-terms file, one term per line")

	authEndpoint := flag.String("auth-endpoint", "", "identity service endpoint for bearer tokens")
	devToken := flag.String("dev-token", "", "static bearer token accepted when no auth endpoint is set")
	hookToken := flag.String("hook-token", "", "shared secret for the inbound stream-status hook")
	statusHookURL := flag.String("status-hook-url", "", "control-plane endpoint notified of stream status changes")
	statusHookToken := flag.String("status-hook-token", "", "bearer token sent with status notifications")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("DRIFTCAST_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("DRIFTCAST_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	captures := firstNonEmpty(*captureDir, os.Getenv("DRIFTCAST_CAPTURE_DIR"), "data/captures")
	media := firstNonEmpty(*mediaDir, os.Getenv("DRIFTCAST_MEDIA_DIR"), "data/media")

	store, storeClose, err := openStore(ctx,
		firstNonEmpty(*storageDriver, os.Getenv("DRIFTCAST_STORAGE_DRIVER"), "memory"),
		firstNonEmpty(*postgresDSN, os.Getenv("DRIFTCAST_POSTGRES_DSN")),
		firstNonEmpty(*broadcastBase, os.Getenv("DRIFTCAST_BROADCAST_BASE")),
	)
	if err != nil {
		logger.Error("open datastore failed", "error", err)
		os.Exit(1)
	}
	defer storeClose()

	objects, err := openObjectStore(ctx, storage.ObjectStorageConfig{
		Endpoint:   firstNonEmpty(*objectEndpoint, os.Getenv("DRIFTCAST_OBJECT_ENDPOINT")),
		AccessKey:  firstNonEmpty(*objectAccessKey, os.Getenv("DRIFTCAST_OBJECT_ACCESS_KEY")),
		SecretKey:  firstNonEmpty(*objectSecretKey, os.Getenv("DRIFTCAST_OBJECT_SECRET_KEY")),
		Bucket:     firstNonEmpty(*objectBucket, os.Getenv("DRIFTCAST_OBJECT_BUCKET")),
		UseSSL:     resolveBool(*objectUseSSL, "DRIFTCAST_OBJECT_USE_SSL"),
		PublicBase: firstNonEmpty(*objectPublicBase, os.Getenv("DRIFTCAST_OBJECT_PUBLIC_BASE")),
	}, logger)
	if err != nil {
		logger.Error("open object storage failed", "error", err)
		os.Exit(1)
	}

	queue, queueClose, err := openQueue(
		firstNonEmpty(*amqpURL, os.Getenv("DRIFTCAST_AMQP_URL")),
		resolveInt(*amqpPrefetch, "DRIFTCAST_AMQP_PREFETCH"),
		logger,
	)
	if err != nil {
		logger.Error("open transcode queue failed", "error", err)
		os.Exit(1)
	}
	defer queueClose()

	chatEvents, chatClose, err := openChatEvents(ctx,
		firstNonEmpty(*redisURL, os.Getenv("DRIFTCAST_CHAT_REDIS_URL")),
		logger,
	)
	if err != nil {
		logger.Error("open chat event source failed", "error", err)
		os.Exit(1)
	}
	defer chatClose()

	wordlist, err := loadWordlist(
		firstNonEmpty(*wordlistPath, os.Getenv("DRIFTCAST_WORDLIST")),
		os.Getenv("DRIFTCAST_WORDLIST_TERMS"),
	)
	if err != nil {
		logger.Error("load wordlist failed", "error", err)
		os.Exit(1)
	}

	var classifier moderation.Classifier = moderation.StaticClassifier{}
	if endpoint := firstNonEmpty(*toxicityEndpoint, os.Getenv("DRIFTCAST_TOXICITY_ENDPOINT")); endpoint != "" {
		classifier = moderation.NewHTTPClassifier(endpoint, resolveFloat(*toxicityThreshold, "DRIFTCAST_TOXICITY_THRESHOLD"))
	} else {
		logger.Warn("no toxicity endpoint configured, classifier disabled")
	}

	verifier := buildVerifier(
		firstNonEmpty(*authEndpoint, os.Getenv("DRIFTCAST_AUTH_ENDPOINT")),
		firstNonEmpty(*devToken, os.Getenv("DRIFTCAST_DEV_TOKEN")),
		logger,
	)

	notifier := notify.New(
		firstNonEmpty(*statusHookURL, os.Getenv("DRIFTCAST_STATUS_HOOK_URL")),
		logger,
		notify.WithToken(firstNonEmpty(*statusHookToken, os.Getenv("DRIFTCAST_STATUS_HOOK_TOKEN"))),
		notify.WithRecorder(recorder),
	)
	tracker := telemetry.NewTracker()

	handler := api.NewHandler(api.Config{
		Store:      store,
		Objects:    objects,
		Queue:      queue,
		Tracker:    tracker,
		Verifier:   verifier,
		ChatEvents: chatEvents,
		Logger:     logger,
		CaptureDir: captures,
		HookToken:  firstNonEmpty(*hookToken, os.Getenv("DRIFTCAST_HOOK_TOKEN")),
	})
	mux := http.NewServeMux()
	handler.Register(mux)
	mux.Handle("/metrics", recorder.Handler())

	listener, err := ingest.NewListener(ingest.Config{
		Store:      store,
		Queue:      queue,
		Notifier:   notifier,
		Tracker:    tracker,
		Logger:     logger,
		CaptureDir: captures,
		MediaDir:   media,
	})
	if err != nil {
		logger.Error("initialise ingest failed", "error", err)
		os.Exit(1)
	}

	worker := transcode.NewWorker(store, objects, queue,
		transcode.NewFFmpeg(firstNonEmpty(*ffmpegBinary, os.Getenv("DRIFTCAST_FFMPEG")), logger),
		logger,
		transcode.WorkerConfig{
			Concurrency: resolveInt(*workerConcurrency, "DRIFTCAST_TRANSCODE_CONCURRENCY"),
			MaxAttempts: resolveInt(*workerMaxAttempts, "DRIFTCAST_TRANSCODE_MAX_ATTEMPTS"),
			RetryDelay:  resolveDuration(*workerRetryDelay, "DRIFTCAST_TRANSCODE_RETRY_DELAY", 0),
			ScratchDir:  firstNonEmpty(*scratchDir, os.Getenv("DRIFTCAST_SCRATCH_DIR"), "data/scratch"),
		})

	pipeline := moderation.NewPipeline(store, classifier, wordlist, chatEvents, logger)

	apiServer := server.New(server.Config{
		Name:     "api",
		Addr:     firstNonEmpty(*apiAddr, os.Getenv("DRIFTCAST_ADDR"), ":8080"),
		Handler:  mux,
		Logger:   logger,
		Recorder: recorder,
	})
	ingestServer := server.New(server.Config{
		Name:     "ingest",
		Addr:     firstNonEmpty(*ingestAddr, os.Getenv("DRIFTCAST_INGEST_ADDR"), ":8935"),
		Handler:  listener.Handler(),
		Logger:   logger,
		Recorder: recorder,
	})

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return apiServer.Run(ctx) })
	group.Go(func() error { return ingestServer.Run(ctx) })
	group.Go(func() error { return worker.Run(ctx) })
	group.Go(func() error { return pipeline.Run(ctx) })

	if err := group.Wait(); err != nil {
		logger.Error("shutdown with error", "error", err)
		os.Exit(1)
	}
	notifier.Flush()
	logger.Info("shutdown complete")
}

func openStore(ctx context.Context, driver, dsn, broadcastBase string) (storage.Repository, func(), error) {
	switch driver {
	case "memory":
		var opts []storage.Option
		if broadcastBase != "" {
			opts = append(opts, storage.WithBroadcastBase(broadcastBase))
		}
		return storage.NewStorage(opts...), func() {}, nil
	case "postgres":
		store, err := storage.NewPostgresStorage(ctx, dsn, broadcastBase)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
}

func openObjectStore(ctx context.Context, cfg storage.ObjectStorageConfig, logger *slog.Logger) (storage.ObjectStore, error) {
	if cfg.Endpoint == "" {
		logger.Warn("no object storage configured, using local URLs")
		return storage.NoopObjectStore{Base: cfg.PublicBase}, nil
	}
	return storage.NewMinioStore(ctx, cfg)
}

func openQueue(amqpURL string, prefetch int, logger *slog.Logger) (transcode.Queue, func(), error) {
	if amqpURL == "" {
		logger.Warn("no AMQP broker configured, using in-process queue")
		queue := transcode.NewMemoryQueue(256)
		return queue, func() { queue.Close() }, nil
	}
	queue, err := transcode.NewAMQPQueue(transcode.AMQPConfig{URL: amqpURL, Prefetch: prefetch}, logger)
	if err != nil {
		return nil, nil, err
	}
	return queue, func() { queue.Close() }, nil
}

// chatEventBus is the intersection the API publisher and the moderation
// consumer both need.
type chatEventBus interface {
	moderation.EventPublisher
	moderation.EventSource
}

func openChatEvents(ctx context.Context, redisURL string, logger *slog.Logger) (chatEventBus, func(), error) {
	if redisURL == "" {
		logger.Warn("no Redis configured, using in-process chat events")
		events := moderation.NewMemoryEvents(256)
		return events, func() { events.Close() }, nil
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "driftcast"
	}
	events, err := moderation.NewRedisEvents(ctx, redisURL, hostname, logger)
	if err != nil {
		return nil, nil, err
	}
	return events, func() { events.Close() }, nil
}

func buildVerifier(endpoint, devToken string, logger *slog.Logger) auth.TokenVerifier {
	if endpoint != "" {
		return auth.NewHTTPVerifier(endpoint)
	}
	logger.Warn("no auth endpoint configured, accepting the development token only")
	identities := map[string]auth.Identity{}
	if devToken != "" {
		identities[devToken] = auth.Identity{UserID: "dev", DisplayName: "Developer"}
	}
	return auth.StaticVerifier{Identities: identities}
}

func loadWordlist(path, envTerms string) (*moderation.Wordlist, error) {
	var terms []string
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		for _, line := range strings.Split(string(raw), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			terms = append(terms, line)
		}
	}
	for _, term := range strings.Split(envTerms, ",") {
		if term = strings.TrimSpace(term); term != "" {
			terms = append(terms, term)
		}
	}
	return moderation.NewWordlist(terms), nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	return fallback
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
