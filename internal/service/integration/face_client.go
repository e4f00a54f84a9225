package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/RubachokBoss/proctoring-pipeline/internal/models"
	"github.com/rs/zerolog"
)

// FaceClient calls the face embedding sidecar. The sidecar answers 422 when
// it finds no face and 400 when the upload is not an image.
type FaceClient struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

type faceEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

func NewFaceClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *FaceClient {
	return &FaceClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "face_client").Logger(),
	}
}

func (c *FaceClient) EmbedFace(ctx context.Context, img []byte) ([]float64, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("image", "face.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(img)); err != nil {
		return nil, fmt.Errorf("failed to copy image: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("face embedder unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnprocessableEntity:
		return nil, models.ErrNoFace
	case http.StatusBadRequest:
		return nil, models.ErrInvalidImage
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("face embedder returned status %d: %s", resp.StatusCode, string(body))
	}

	var out faceEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, models.ErrNoFace
	}

	c.logger.Debug().Int("dims", len(out.Embedding)).Msg("Face embedded")
	return out.Embedding, nil
}
