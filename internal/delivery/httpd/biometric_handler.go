package httpd

import (
	"errors"
	"io"
	"math"
	"net/http"
	"strings"

	"github.com/RubachokBoss/proctoring-pipeline/internal/models"
)

const (
	msgRegistered   = "Usuario registrado"
	msgAccessGrant  = "Acceso Permitido"
	msgAccessDenied = "Rostro no coincide"
	msgUnknownUser  = "Usuario no encontrado"
	msgNoFace       = "No se detectó rostro en la imagen"
	msgBadImage     = "Imagen corrupta o formato inválido"
)

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	username, image, ok := h.readUpload(w, r)
	if !ok {
		return
	}

	if err := h.biometric.RegisterImage(r.Context(), username, image); err != nil {
		h.handleBiometricError(w, err, username)
		return
	}

	writeJSON(w, http.StatusOK, models.RegisterResponse{Message: msgRegistered, User: username})
}

func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	username, image, ok := h.readUpload(w, r)
	if !ok {
		return
	}

	res, err := h.biometric.ValidateImage(r.Context(), username, image)
	if err != nil {
		h.handleBiometricError(w, err, username)
		return
	}

	message := msgAccessDenied
	if res.Match {
		message = msgAccessGrant
	}
	writeJSON(w, http.StatusOK, models.ValidateResponse{
		Auth:     res.Match,
		Distance: math.Round(res.Distance*10000) / 10000,
		Message:  message,
	})
}

// readUpload parses the multipart form. The image may arrive as "image"
// or "file".
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return "", nil, false
	}

	username := strings.TrimSpace(r.FormValue("username"))
	if username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return "", nil, false
	}

	file, _, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		file, _, err = r.FormFile("file")
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "image is required")
		return "", nil, false
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil || len(image) == 0 {
		writeError(w, http.StatusBadRequest, msgBadImage)
		return "", nil, false
	}

	return username, image, true
}

func (h *Handler) handleBiometricError(w http.ResponseWriter, err error, username string) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, msgUnknownUser)
	case errors.Is(err, models.ErrNoFace):
		writeError(w, http.StatusBadRequest, msgNoFace)
	case errors.Is(err, models.ErrInvalidImage):
		writeError(w, http.StatusBadRequest, msgBadImage)
	default:
		h.logger.Error().Err(err).Str("user", username).Msg("Biometric request failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
