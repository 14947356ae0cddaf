package rest

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vault_downloader/internal/logctx"
	"vault_downloader/internal/storage"
	"vault_downloader/internal/telemetry"
)

// StatusHandler exposes the operator-facing status surface: target
// bookkeeping from the database plus the Prometheus scrape endpoint.
type StatusHandler struct {
	repo storage.TargetReadRepository
	tel  *telemetry.Telemetry
}

func NewStatusHandler(repo storage.TargetReadRepository, tel *telemetry.Telemetry) *StatusHandler {
	return &StatusHandler{repo: repo, tel: tel}
}

func (h *StatusHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)

	r.Get("/healthz", h.handleHealth)
	r.Get("/api/targets", h.handleTargets)
	r.Method(http.MethodGet, "/metrics", h.tel.Handler())

	return r
}

func (h *StatusHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (h *StatusHandler) handleTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := h.repo.GetTargets()
	if err != nil {
		logctx.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "failed to load targets", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load targets"})

		return
	}

	if targets == nil {
		targets = []storage.TargetRecord{}
	}

	writeJSON(w, http.StatusOK, targets)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}
