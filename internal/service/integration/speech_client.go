package integration

import (
	"context"
	"fmt"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/RubachokBoss/proctoring-pipeline/internal/config"
	"github.com/rs/zerolog"
)

// SpeechTranscriber sends short chunks to Google Speech-to-Text with a
// synchronous Recognize call.
type SpeechTranscriber struct {
	client       *speech.Client
	languageCode string
	model        string
	timeout      time.Duration
	logger       zerolog.Logger
}

func NewSpeechTranscriber(ctx context.Context, cfg config.SpeechConfig, logger zerolog.Logger) (*SpeechTranscriber, error) {
	c, err := speech.NewClient(ctx, ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	return &SpeechTranscriber{
		client:       c,
		languageCode: cfg.LanguageCode,
		model:        cfg.Model,
		timeout:      cfg.Timeout,
		logger:       logger.With().Str("component", "gcp_speech").Logger(),
	}, nil
}

func (s *SpeechTranscriber) Close() error {
	return s.client.Close()
}

func (s *SpeechTranscriber) Transcribe(ctx context.Context, samples []float64, sampleRate int) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	resp, err := s.client.Recognize(ctx, buildRecognizeRequest(samples, sampleRate, s.languageCode, s.model))
	if err != nil {
		return "", fmt.Errorf("speech recognize: %w", err)
	}

	text := joinTranscript(resp)
	s.logger.Debug().Int("samples", len(samples)).Int("chars", len(text)).Msg("Chunk transcribed")
	return text, nil
}

func buildRecognizeRequest(samples []float64, sampleRate int, languageCode, model string) *speechpb.RecognizeRequest {
	if languageCode == "" {
		languageCode = "es-ES"
	}
	return &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            int32(sampleRate),
			AudioChannelCount:          1,
			LanguageCode:               languageCode,
			Model:                      model,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: EncodePCM16(samples)},
		},
	}
}

// joinTranscript concatenates the top alternative of every result.
func joinTranscript(resp *speechpb.RecognizeResponse) string {
	if resp == nil {
		return ""
	}
	parts := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r == nil || len(r.Alternatives) == 0 || r.Alternatives[0] == nil {
			continue
		}
		if t := strings.TrimSpace(r.Alternatives[0].Transcript); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
