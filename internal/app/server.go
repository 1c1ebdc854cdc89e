package app

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"gridsim/internal/domain"
	"gridsim/internal/engine"
	"gridsim/internal/infra"
	"gridsim/internal/infra/stream"
	"gridsim/internal/service"
)

// NewServer exposes the live stream, statistics, metrics and trigger
// commands of a running simulation. hub may be nil.
func NewServer(addr string, hub *stream.Hub, stats *service.MarketStatsService, sim *engine.Simulation) *http.Server {
	mux := http.NewServeMux()
	if hub != nil {
		mux.Handle("GET /ws", hub)
	}

	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, stats.GetAll())
	})
	mux.HandleFunc("GET /stats/{slug}", func(w http.ResponseWriter, r *http.Request) {
		st, ok := stats.Get(r.PathValue("slug"))
		if !ok {
			http.Error(w, "no statistics for area", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, st)
	})
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, infra.GlobalMetrics.Snapshot())
	})
	mux.HandleFunc("POST /areas/{slug}/triggers/{name}", func(w http.ResponseWriter, r *http.Request) {
		params := map[string]string{}
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &params); err != nil {
				http.Error(w, "params must be a JSON object of strings", http.StatusBadRequest)
				return
			}
		}

		err = sim.FireTrigger(r.Context(), r.PathValue("slug"), r.PathValue("name"), params)
		switch {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, domain.ErrAreaNotFound), errors.Is(err, domain.ErrUnknownTrigger):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, engine.ErrStopped):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		default:
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", slog.Any("error", err))
	}
}
