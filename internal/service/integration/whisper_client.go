package integration

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/RubachokBoss/proctoring-pipeline/internal/config"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"
)

// WhisperTranscriber uses the OpenAI transcription endpoint, or any
// compatible server reachable through BaseURL.
type WhisperTranscriber struct {
	client   *openai.Client
	language string
	model    string
	logger   zerolog.Logger
}

func NewWhisperTranscriber(cfg config.SpeechConfig, logger zerolog.Logger) *WhisperTranscriber {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		option.WithMaxRetries(1),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	model := cfg.Model
	if model == "" {
		model = string(openai.AudioModelWhisper1)
	}
	return &WhisperTranscriber{
		client:   &client,
		language: languageOf(cfg.LanguageCode),
		model:    model,
		logger:   logger.With().Str("component", "whisper").Logger(),
	}
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, samples []float64, sampleRate int) (string, error) {
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(EncodeWAV(samples, sampleRate)), "audio.wav", "audio/wav"),
		Model: openai.AudioModel(w.model),
	}
	if w.language != "" {
		params.Language = openai.String(w.language)
	}

	start := time.Now()
	resp, err := w.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("whisper transcription: %w", err)
	}

	w.logger.Debug().Dur("took", time.Since(start)).Int("chars", len(resp.Text)).Msg("Chunk transcribed")
	return resp.Text, nil
}

// languageOf turns a BCP-47 tag like "es-ES" into the ISO-639-1 code
// Whisper expects.
func languageOf(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}
