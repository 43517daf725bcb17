// Package httptransport is the thin HTTP layer over the audit log service.
// Handlers delegate to the store and query engine without embedding business
// logic so transport concerns stay isolated.
package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dutylog/internal/platform/middleware"
)

// NewRouter wires the public surface: agent ingest, reviewer queries, and
// the operational endpoints.
func NewRouter(logger *slog.Logger, ingest *IngestHandler, query *QueryHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))

	r.Get("/healthz", handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	ingest.Register(r)
	query.Register(r)
	return r
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
