package httpd

import (
	"net/http"

	"github.com/RubachokBoss/proctoring-pipeline/internal/models"
)

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.HealthResponse{
		Status:  "online",
		Service: serviceName,
	})
}

func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	if err := h.biometric.Ready(r.Context()); err != nil {
		h.logger.Warn().Err(err).Msg("Embedding store is not reachable")
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, models.HealthResponse{
		Status:  "ready",
		Service: serviceName,
	})
}
