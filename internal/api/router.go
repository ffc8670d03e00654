package api

import (
	"net/http"
)

// registerAPIRoutes registers all API endpoints on the given mux
func registerAPIRoutes(mux *http.ServeMux, h *Handler) {
	// Settings
	mux.HandleFunc("GET /api/settings", h.GetSettings)
	mux.HandleFunc("PUT /api/settings", h.UpdateSettings)

	// Scan and job
	mux.HandleFunc("POST /api/scan", h.StartScan)
	mux.HandleFunc("GET /api/preview", h.Preview)
	mux.HandleFunc("POST /api/job", h.StartJob)
	mux.HandleFunc("POST /api/job/{action}", h.Control)

	// State
	mux.HandleFunc("GET /api/status", h.Status)
	mux.HandleFunc("GET /api/events", h.Events)

	// History
	mux.HandleFunc("GET /api/runs", h.ListRuns)
	mux.HandleFunc("GET /api/runs/{id}", h.GetRun)
}

// NewRouter creates a new HTTP router with all API endpoints
func NewRouter(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	registerAPIRoutes(mux, h)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("Remuxer API - see /api/status"))
	})

	return mux
}
