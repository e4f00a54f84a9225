package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/RubachokBoss/proctoring-pipeline/internal/models"
	"github.com/RubachokBoss/proctoring-pipeline/internal/service/preprocess"
	"github.com/rs/zerolog"
)

const EventSpeechDetected = "speech_detected"

type AudioConfig struct {
	SampleRate int
	SilenceDB  float64
}

type audioPipeline struct {
	fetcher     MediaFetcher
	decoder     AudioDecoder
	filter      *preprocess.BandPass
	transcriber Transcriber
	classifier  IntentClassifier
	normalizer  *Normalizer
	cfg         AudioConfig
	logger      zerolog.Logger
}

func NewAudioPipeline(
	fetcher MediaFetcher,
	decoder AudioDecoder,
	filter *preprocess.BandPass,
	transcriber Transcriber,
	classifier IntentClassifier,
	normalizer *Normalizer,
	cfg AudioConfig,
	logger zerolog.Logger,
) Pipeline {
	return &audioPipeline{
		fetcher:     fetcher,
		decoder:     decoder,
		filter:      filter,
		transcriber: transcriber,
		classifier:  classifier,
		normalizer:  normalizer,
		cfg:         cfg,
		logger:      logger.With().Str("modality", ModalityAudio).Logger(),
	}
}

func (p *audioPipeline) Modality() string { return ModalityAudio }

func (p *audioPipeline) Process(ctx context.Context, body []byte) (Verdict, error) {
	job, err := models.DecodeAudioJob(body)
	if err != nil {
		return Verdict{}, err
	}
	log := p.logger.With().
		Str("student_id", job.StudentID).
		Str("session_id", job.SessionID).
		Int("chunk_index", job.ChunkIndex).
		Logger()

	data, err := p.fetcher.Fetch(ctx, job.AudioURL)
	if errors.Is(err, models.ErrMediaUnavailable) {
		log.Warn().Err(err).Str("audio_url", job.AudioURL).Msg("Audio chunk unavailable, skipping")
		return Drop(job.JobMeta, DropMediaUnavailable), nil
	}
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to fetch audio: %w", err)
	}

	samples, err := p.decoder.Decode(ctx, data)
	if errors.Is(err, models.ErrUndecodable) || (err == nil && len(samples) == 0) {
		log.Warn().Err(err).Msg("Audio chunk could not be decoded, skipping")
		return Drop(job.JobMeta, DropUndecodable), nil
	}
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to decode audio: %w", err)
	}

	if preprocess.IsSilence(samples, p.cfg.SilenceDB) {
		log.Debug().Float64("level_db", preprocess.LevelDB(samples)).Msg("Silent chunk, skipping")
		return Drop(job.JobMeta, DropSilence), nil
	}

	if p.filter != nil {
		samples = p.filter.Apply(samples)
	}

	text, err := p.transcriber.Transcribe(ctx, samples, p.cfg.SampleRate)
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to transcribe audio: %w", err)
	}
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < 2 {
		log.Debug().Msg("No intelligible speech, skipping")
		return Drop(job.JobMeta, DropNoSpeech), nil
	}

	intent, err := p.classifier.Classify(ctx, text)
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to classify transcript: %w", err)
	}

	score := math.Round(intent.Score*100) / 100
	res := models.AnalysisResult{
		Status: string(intent.Category),
		Score:  models.Float64(score),
		Reason: EventSpeechDetected,
		Details: map[string]any{
			"transcript":      text,
			"intent_category": string(intent.Category),
			"suspicion_score": score,
			"chunk_index":     job.ChunkIndex,
		},
	}

	return Emit(p.normalizer.Normalize(models.SourceAudio, job.JobMeta, res)), nil
}
