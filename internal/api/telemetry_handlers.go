package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"driftcast/internal/observability/logging"
	"driftcast/internal/telemetry"
)

func (h *Handler) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"metrics": h.tracker.All()})
}

func (h *Handler) handleTelemetrySubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/telemetry/")
	if rest == "ws" {
		h.handleTelemetrySocket(w, r)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if rest == "" || strings.Contains(rest, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	sample, ok := h.tracker.Get(rest)
	if !ok {
		writeError(w, http.StatusNotFound, "no telemetry for stream")
		return
	}
	writeJSON(w, http.StatusOK, telemetry.Event{StreamKey: rest, Sample: sample})
}

// handleTelemetrySocket upgrades to a WebSocket and pushes every tracker
// update until the client goes away. The feed is one-way.
func (h *Handler) handleTelemetrySocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	conn, err := telemetry.Accept(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer conn.Close()

	events, cancel := h.tracker.Subscribe()
	defer cancel()

	// ServeControl returns when the peer closes or errors; the done signal
	// frees the loop below even if no tracker update ever arrives.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.ServeControl()
	}()

	logger := logging.WithContext(r.Context(), h.logger)
	for _, event := range h.tracker.All() {
		if err := writeEvent(conn, event); err != nil {
			return
		}
	}
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(conn, event); err != nil {
				logger.Debug("telemetry subscriber disconnected", "error", err)
				return
			}
		case <-done:
			return
		}
	}
}

func writeEvent(conn *telemetry.Conn, event telemetry.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return conn.WriteText(payload)
}
