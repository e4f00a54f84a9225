package service

import (
	"context"

	"github.com/RubachokBoss/proctoring-pipeline/internal/models"
	"github.com/RubachokBoss/proctoring-pipeline/internal/service/gaze"
	"github.com/rs/zerolog"
)

type GazeAnalyzer interface {
	Analyze(buffer []models.GazePoint) models.AnalysisResult
}

type gazePipeline struct {
	analyzer   GazeAnalyzer
	normalizer *Normalizer
	logger     zerolog.Logger
}

func NewGazePipeline(analyzer GazeAnalyzer, normalizer *Normalizer, logger zerolog.Logger) Pipeline {
	return &gazePipeline{
		analyzer:   analyzer,
		normalizer: normalizer,
		logger:     logger.With().Str("modality", ModalityGaze).Logger(),
	}
}

func (p *gazePipeline) Modality() string { return ModalityGaze }

func (p *gazePipeline) Process(_ context.Context, body []byte) (Verdict, error) {
	job, err := models.DecodeGazeJob(body)
	if err != nil {
		return Verdict{}, err
	}

	res := p.analyzer.Analyze(job.GazeBuffer)
	if !gaze.Actionable(res) {
		p.logger.Info().
			Str("student_id", job.StudentID).
			Str("session_id", job.SessionID).
			Int("points", len(job.GazeBuffer)).
			Str("status", res.Status).
			Msg("Gaze buffer not actionable, skipping")
		return Drop(job.JobMeta, res.Status), nil
	}

	return Emit(p.normalizer.Normalize(models.SourceGaze, job.JobMeta, res)), nil
}
