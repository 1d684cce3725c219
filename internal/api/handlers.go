// Package api implements the platform's HTTP control surface.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"driftcast/internal/auth"
	"driftcast/internal/moderation"
	"driftcast/internal/observability/logging"
	"driftcast/internal/storage"
	"driftcast/internal/telemetry"
	"driftcast/internal/transcode"
)

// Handler carries the dependencies shared by all API endpoints.
type Handler struct {
	store      storage.Repository
	objects    storage.ObjectStore
	queue      transcode.Queue
	tracker    *telemetry.Tracker
	verifier   auth.TokenVerifier
	chatEvents moderation.EventPublisher
	logger     *slog.Logger
	captureDir string
	hookToken  string
}

// Config wires a Handler.
type Config struct {
	Store      storage.Repository
	Objects    storage.ObjectStore
	Queue      transcode.Queue
	Tracker    *telemetry.Tracker
	Verifier   auth.TokenVerifier
	ChatEvents moderation.EventPublisher
	Logger     *slog.Logger
	CaptureDir string
	HookToken  string
}

// NewHandler constructs the API handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		store:      cfg.Store,
		objects:    cfg.Objects,
		queue:      cfg.Queue,
		tracker:    cfg.Tracker,
		verifier:   cfg.Verifier,
		chatEvents: cfg.ChatEvents,
		logger:     logging.WithComponent(cfg.Logger, "api"),
		captureDir: cfg.CaptureDir,
		hookToken:  strings.TrimSpace(cfg.HookToken),
	}
}

// Register installs all API routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/streams/live", h.handleLiveStreams)
	mux.HandleFunc("/api/streams/credentials", h.handleCredentials)
	mux.HandleFunc("/api/streams/regenerate-key", h.handleRegenerateKey)
	mux.HandleFunc("/api/streams/status/", h.handleStreamStatus)
	mux.HandleFunc("/api/hooks/stream-status", h.handleStatusHook)
	mux.HandleFunc("/api/videos", h.handleVideos)
	mux.HandleFunc("/api/videos/", h.handleVideoSubtree)
	mux.HandleFunc("/api/chat/messages", h.handleChatMessages)
	mux.HandleFunc("/api/reports", h.handleReports)
	mux.HandleFunc("/api/telemetry", h.handleTelemetry)
	mux.HandleFunc("/api/telemetry/", h.handleTelemetrySubtree)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// identity authenticates the request. On failure it writes the error response
// and returns ok=false.
func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	token, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return auth.Identity{}, false
	}
	identity, err := h.verifier.Verify(r.Context(), token)
	if errors.Is(err, auth.ErrInvalidToken) {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return auth.Identity{}, false
	}
	if err != nil {
		logging.WithContext(r.Context(), h.logger).Error("token verification failed", "error", err)
		writeError(w, http.StatusBadGateway, "identity provider unavailable")
		return auth.Identity{}, false
	}
	return identity, true
}

// storageError maps repository sentinel errors onto HTTP statuses.
func (h *Handler) storageError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, storage.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, storage.ErrConflict):
		writeError(w, http.StatusConflict, "conflict")
	default:
		logging.WithContext(r.Context(), h.logger).Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
