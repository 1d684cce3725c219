package api

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"driftcast/internal/auth"
	"driftcast/internal/observability/logging"
	"driftcast/internal/storage"
	"driftcast/internal/transcode"
)

const maxMultipartMemory = 10 << 20

func (h *Handler) handleLiveStreams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	live, err := h.store.ListActive(r.Context())
	if err != nil {
		h.storageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"streams": live})
}

// handleCredentials serves the broadcaster's own credential. GET reports
// {"exists":false} rather than 404 when no credential was ever issued; POST
// issues one (idempotently) and records submitted session details.
func (h *Handler) handleCredentials(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getCredentials(w, r)
	case http.MethodPost:
		h.postCredentials(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (h *Handler) getCredentials(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	credential, exists, err := h.store.CredentialByOwner(r.Context(), identity.UserID)
	if err != nil {
		h.storageError(w, r, err)
		return
	}
	if !exists {
		writeJSON(w, http.StatusOK, map[string]any{"exists": false})
		return
	}
	session, _, err := h.store.SessionByOwner(r.Context(), identity.UserID)
	if err != nil {
		h.storageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"exists":     true,
		"credential": credential,
		"session":    session,
	})
}

func (h *Handler) postCredentials(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "multipart form required")
		return
	}

	credential, err := h.store.GetOrCreateCredential(r.Context(), identity.UserID, storage.OwnerProfileParams{
		DisplayName: identity.DisplayName,
		AvatarURL:   identity.AvatarURL,
	})
	if err != nil {
		h.storageError(w, r, err)
		return
	}

	update := storage.SessionDetailsUpdate{}
	if title := r.FormValue("title"); title != "" {
		update.Title = &title
	}
	if description := r.FormValue("description"); description != "" {
		update.Description = &description
	}
	if thumbnailURL := h.storeThumbnail(r, credential.StreamKey); thumbnailURL != "" {
		update.ThumbnailURL = &thumbnailURL
	}

	session, err := h.store.UpdateSessionDetails(r.Context(), identity.UserID, update)
	if err != nil {
		h.storageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"credential": credential,
		"session":    session,
	})
}

// storeThumbnail uploads a submitted thumbnail. Upload trouble falls back to
// the placeholder instead of failing the request.
func (h *Handler) storeThumbnail(r *http.Request, streamKey string) string {
	file, header, err := r.FormFile("thumbnail")
	if err != nil {
		if !errors.Is(err, http.ErrMissingFile) {
			logging.WithContext(r.Context(), h.logger).Warn("thumbnail form file unreadable", "error", err)
		}
		return ""
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	url, err := h.objects.Upload(r.Context(), fmt.Sprintf("thumbnails/%s.jpg", streamKey), file, header.Size, contentType)
	if err != nil {
		logging.WithContext(r.Context(), h.logger).Warn("thumbnail upload failed, using placeholder",
			"stream_key", streamKey, "error", err)
		return transcode.PlaceholderThumbnail
	}
	return url
}

func (h *Handler) handleRegenerateKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	credential, err := h.store.RegenerateKey(r.Context(), identity.UserID)
	if err != nil {
		h.storageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"credential": credential})
}

// handleStreamStatus reports public session state for one stream key.
func (h *Handler) handleStreamStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	streamKey := strings.TrimPrefix(r.URL.Path, "/api/streams/status/")
	if streamKey == "" || strings.Contains(streamKey, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	session, ok, err := h.store.LookupByKey(r.Context(), streamKey)
	if err != nil {
		h.storageError(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"streamKey":    session.StreamKey,
		"isActive":     session.IsActive,
		"title":        session.Title,
		"description":  session.Description,
		"thumbnailUrl": session.ThumbnailURL,
		"lastActiveAt": session.LastActiveAt,
	})
}

type statusHookRequest struct {
	StreamKey string `json:"streamKey"`
	IsActive  bool   `json:"isActive"`
}

// handleStatusHook lets the media plane report publish state directly. On an
// active-to-inactive edge the capture, if present, is queued for transcoding,
// mirroring the ingest listener's own teardown path.
func (h *Handler) handleStatusHook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if h.hookToken != "" {
		token, ok := bearerOrHookToken(r)
		if !ok || token != h.hookToken {
			writeError(w, http.StatusUnauthorized, "invalid hook token")
			return
		}
	}
	var request statusHookRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(request.StreamKey) == "" {
		writeError(w, http.StatusBadRequest, "streamKey is required")
		return
	}

	transition, err := h.store.SetActive(r.Context(), request.StreamKey, request.IsActive)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown stream key")
		return
	}
	if err != nil {
		h.storageError(w, r, err)
		return
	}

	queued := false
	if transition.Ended() {
		capturePath := path.Join(h.captureDir, request.StreamKey+".flv")
		queued, err = transcode.EnqueueCapture(r.Context(), h.queue, capturePath, request.StreamKey)
		if err != nil {
			logging.WithContext(r.Context(), h.logger).Error("enqueue transcode failed",
				"stream_key", request.StreamKey, "error", err)
		}
		h.tracker.Reset(request.StreamKey)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"isActive": transition.Session.IsActive,
		"queued":   queued,
	})
}

func bearerOrHookToken(r *http.Request) (string, bool) {
	if token, ok := auth.BearerToken(r.Header.Get("Authorization")); ok {
		return token, true
	}
	token := strings.TrimSpace(r.Header.Get("X-Hook-Token"))
	return token, token != ""
}
