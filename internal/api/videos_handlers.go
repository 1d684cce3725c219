package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"driftcast/internal/models"
	"driftcast/internal/storage"
)

func (h *Handler) handleVideos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	videos, err := h.store.ListPublicVideos(r.Context())
	if err != nil {
		h.storageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"videos": videos})
}

// handleVideoSubtree routes /api/videos/{...}: the catalog detail and
// mutation endpoints plus the /me and /stream/{key} listings.
func (h *Handler) handleVideoSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/videos/")
	segments := strings.Split(rest, "/")

	switch {
	case len(segments) == 1 && segments[0] == "me":
		h.handleMyVideos(w, r)
	case len(segments) == 2 && segments[0] == "stream":
		h.handleVideosByStream(w, r, segments[1])
	case len(segments) == 1 && segments[0] != "":
		h.handleVideoByID(w, r, segments[0])
	case len(segments) == 2 && segments[1] == "publish":
		h.handleVideoStatus(w, r, segments[0], models.VideoStatusPublic)
	case len(segments) == 2 && segments[1] == "unpublish":
		h.handleVideoStatus(w, r, segments[0], models.VideoStatusPrivate)
	case len(segments) == 2 && segments[1] == "process":
		h.handleVideoProcess(w, r, segments[0])
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) handleMyVideos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	videos, err := h.store.VideosByUploader(r.Context(), identity.UserID)
	if err != nil {
		h.storageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"videos": videos})
}

func (h *Handler) handleVideosByStream(w http.ResponseWriter, r *http.Request, streamKey string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	videos, err := h.store.VideosByStreamKey(r.Context(), streamKey)
	if err != nil {
		h.storageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"videos": videos})
}

func (h *Handler) handleVideoByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		video, err := h.store.PublicVideoByID(r.Context(), id)
		if err != nil {
			h.storageError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, video)
	case http.MethodPatch:
		h.handleVideoUpdate(w, r, id)
	case http.MethodDelete:
		identity, ok := h.identity(w, r)
		if !ok {
			return
		}
		if err := h.store.DeleteVideo(r.Context(), id, identity.UserID); err != nil {
			h.storageError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

type videoUpdateRequest struct {
	Title        *string `json:"title"`
	ThumbnailURL *string `json:"thumbnailUrl"`
}

func (h *Handler) handleVideoUpdate(w http.ResponseWriter, r *http.Request, id string) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	var request videoUpdateRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if request.Title == nil && request.ThumbnailURL == nil {
		writeError(w, http.StatusBadRequest, "no fields to update")
		return
	}
	video, err := h.store.UpdateVideo(r.Context(), id, identity.UserID, storage.VideoUpdate{
		Title:        request.Title,
		ThumbnailURL: request.ThumbnailURL,
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrUnauthorized) {
			h.storageError(w, r, err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, video)
}

func (h *Handler) handleVideoStatus(w http.ResponseWriter, r *http.Request, id, status string) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, http.MethodPatch)
		return
	}
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	video, err := h.store.SetVideoStatus(r.Context(), id, identity.UserID, status)
	if err != nil {
		h.storageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, video)
}

// handleVideoProcess requeues the asset's capture for a fresh transcode.
// Only the uploader may trigger it, and only for assets that still know
// their source file.
func (h *Handler) handleVideoProcess(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	video, found, err := h.store.VideoByID(r.Context(), id)
	if err != nil {
		h.storageError(w, r, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if !video.OwnedBy(identity.UserID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	if video.SourcePath == "" {
		writeError(w, http.StatusConflict, "asset has no source to reprocess")
		return
	}
	job := models.TranscodeJob{
		Kind:       models.JobKindTranscodeHLS,
		StreamKey:  video.StreamKey,
		SourcePath: video.SourcePath,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := h.queue.Enqueue(r.Context(), job); err != nil {
		h.storageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
