package service

import (
	"context"

	"github.com/RubachokBoss/proctoring-pipeline/internal/models"
)

// MediaFetcher downloads the object behind a job's media URL.
// Unreachable or missing media is reported as models.ErrMediaUnavailable.
type MediaFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// AudioDecoder turns an encoded clip into mono samples in [-1, 1] at the
// configured sample rate. Bad input is reported as models.ErrUndecodable.
type AudioDecoder interface {
	Decode(ctx context.Context, data []byte) ([]float64, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, samples []float64, sampleRate int) (string, error)
}

type IntentClassifier interface {
	Classify(ctx context.Context, transcript string) (models.Intent, error)
}

// ObjectDetector counts persons and phones in one frame. Images that cannot
// be read are reported as models.ErrInvalidImage.
type ObjectDetector interface {
	Detect(ctx context.Context, image []byte) (models.ObjectCounts, error)
}

// FaceEmbedder returns the embedding of the first face in an image, or
// models.ErrNoFace / models.ErrInvalidImage.
type FaceEmbedder interface {
	EmbedFace(ctx context.Context, image []byte) ([]float64, error)
}
