package api

import (
	"net/http"

	"driftcast/internal/storage"
)

type createReportRequest struct {
	ReportedContentID string `json:"reportedContentId"`
	ReportedUserID    string `json:"reportedUserId"`
	ContentType       string `json:"contentType"`
	Reason            string `json:"reason"`
}

func (h *Handler) handleReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	var request createReportRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := h.store.CreateReport(r.Context(), identity.UserID, storage.CreateReportParams{
		ReportedContentID: request.ReportedContentID,
		ReportedUserID:    request.ReportedUserID,
		ContentType:       request.ContentType,
		Reason:            request.Reason,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, report)
}
