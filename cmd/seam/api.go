package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/zsiec/seam/internal/engine"
	"github.com/zsiec/seam/internal/source"
)

type statusResponse struct {
	Active  string               `json:"active"`
	Privacy bool                 `json:"privacy"`
	Sources []source.Stats       `json:"sources"`
	Events  []engine.SpliceEvent `json:"events"`
}

// apiHandler exposes the monitoring and control surface: status and splice
// history are read-only; privacy and source preference are the only inputs.
func apiHandler(eng *engine.Engine) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, statusResponse{
			Active:  eng.Active(),
			Privacy: eng.Privacy(),
			Sources: eng.SourceStats(),
			Events:  eng.Events(),
		})
	})

	mux.HandleFunc("GET /api/events", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, eng.Events())
	})

	mux.HandleFunc("POST /api/privacy", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			On bool `json:"on"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		eng.SetPrivacy(req.On)
		writeJSON(w, map[string]bool{"privacy": req.On})
	})

	mux.HandleFunc("POST /api/prefer", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		eng.SetPreferred(req.Name)
		writeJSON(w, map[string]string{"preferred": req.Name})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to encode response", "error", err)
	}
}
