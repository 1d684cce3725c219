package api

import (
	"net/http"
	"strings"

	"driftcast/internal/observability/logging"
)

type createChatMessageRequest struct {
	Text string `json:"text"`
}

// handleChatMessages accepts a chat message into the moderation queue. The
// message stays invisible until the pipeline finalizes it; the author gets
// its pending form back immediately.
func (h *Handler) handleChatMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	var request createChatMessageRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(request.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	message, err := h.store.CreateChatMessage(r.Context(), identity.UserID, request.Text)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.chatEvents != nil {
		if err := h.chatEvents.PublishPending(r.Context(), message.ID); err != nil {
			// The startup sweep will pick the message up even if the
			// event never lands.
			logging.WithContext(r.Context(), h.logger).Warn("publish pending event failed",
				"message_id", message.ID, "error", err)
		}
	}
	writeJSON(w, http.StatusAccepted, message)
}
