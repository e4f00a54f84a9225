package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/RubachokBoss/proctoring-pipeline/internal/models"
	"github.com/RubachokBoss/proctoring-pipeline/internal/service/vision"
	"github.com/rs/zerolog"
)

type visionPipeline struct {
	fetcher    MediaFetcher
	detector   ObjectDetector
	normalizer *Normalizer
	logger     zerolog.Logger
}

func NewVisionPipeline(fetcher MediaFetcher, detector ObjectDetector, normalizer *Normalizer, logger zerolog.Logger) Pipeline {
	return &visionPipeline{
		fetcher:    fetcher,
		detector:   detector,
		normalizer: normalizer,
		logger:     logger.With().Str("modality", ModalityVision).Logger(),
	}
}

func (p *visionPipeline) Modality() string { return ModalityVision }

func (p *visionPipeline) Process(ctx context.Context, body []byte) (Verdict, error) {
	job, err := models.DecodeVisionJob(body)
	if err != nil {
		return Verdict{}, err
	}
	log := p.logger.With().Str("student_id", job.StudentID).Str("session_id", job.SessionID).Logger()

	image, err := p.fetcher.Fetch(ctx, job.ImageURL)
	if errors.Is(err, models.ErrMediaUnavailable) {
		log.Warn().Err(err).Str("image_url", job.ImageURL).Msg("Snapshot unavailable, skipping")
		return Drop(job.JobMeta, DropMediaUnavailable), nil
	}
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to fetch snapshot: %w", err)
	}

	counts, err := p.detector.Detect(ctx, image)
	if errors.Is(err, models.ErrInvalidImage) {
		log.Warn().Err(err).Msg("Snapshot is not a readable image, skipping")
		return Drop(job.JobMeta, DropInvalidImage), nil
	}
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to detect objects: %w", err)
	}

	res := vision.Evaluate(counts).Result()
	return Emit(p.normalizer.Normalize(models.SourceVision, job.JobMeta, res)), nil
}
