package httpd

import (
	"encoding/json"
	"net/http"

	"github.com/RubachokBoss/proctoring-pipeline/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const serviceName = "biometric-service"

type Handler struct {
	biometric      service.BiometricService
	maxUploadBytes int64
	logger         zerolog.Logger
}

func NewHandler(biometric service.BiometricService, maxUploadBytes int64, logger zerolog.Logger) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &Handler{
		biometric:      biometric,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

func (h *Handler) RegisterRoutes(router chi.Router) {
	router.Get("/", h.HealthCheck)
	router.Get("/health", h.HealthCheck)
	router.Get("/ready", h.Readiness)

	// Unprefixed paths are kept for the exam client.
	router.Post("/register", h.Register)
	router.Post("/validate", h.Validate)

	router.Route("/api", func(api chi.Router) {
		api.Post("/register", h.Register)
		api.Post("/validate", h.Validate)
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error":  http.StatusText(status),
		"detail": message,
	})
}
