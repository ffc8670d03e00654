package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Events handles GET /api/events (SSE endpoint)
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	eventCh := h.hub.Subscribe()
	defer h.hub.Unsubscribe(eventCh)

	// Send initial state
	initialData, _ := json.Marshal(map[string]interface{}{
		"kind":   "init",
		"status": h.engine.Status(),
	})
	fmt.Fprintf(w, "data: %s\n\n", initialData)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}

			data, err := json.Marshal(event)
			if err != nil {
				continue
			}

			fmt.Fprintf(w, "id: %d\ndata: %s\n\n", event.Seq, data)
			flusher.Flush()
		}
	}
}
