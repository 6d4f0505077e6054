// Package server exposes the ops HTTP surface: health, chamber status, and
// Prometheus metrics. The system's admin API is in-band chat commands, so
// nothing here mutates state.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/allforeco/echochamber/chamber"
)

// StatusSource reports the currently active chambers.
type StatusSource interface {
	Statuses() []chamber.Status
}

// NewMux returns the ops HTTP handler.
func NewMux(src StatusSource) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", handleHealthz)
	mux.HandleFunc("/status", handleStatus(src))
	return withCorrelation(mux)
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		slog.Warn("healthz write failed", slog.Any("err", err))
	}
}

func handleStatus(src StatusSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses := src.Statuses()
		body := struct {
			Time     time.Time        `json:"time"`
			Chambers []chamber.Status `json:"chambers"`
		}{Time: time.Now().UTC(), Chambers: statuses}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(body); err != nil {
			slog.Warn("status encode failed", slog.Any("err", err))
		}
	}
}
