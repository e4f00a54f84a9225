package integration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/RubachokBoss/proctoring-pipeline/internal/models"
	"github.com/rs/zerolog"
)

// FFmpegDecoder shells out to ffmpeg to turn any container the browser
// records (webm/ogg/mp4/wav) into mono PCM at a fixed sample rate.
type FFmpegDecoder struct {
	path       string
	sampleRate int
	logger     zerolog.Logger
}

func NewFFmpegDecoder(path string, sampleRate int, logger zerolog.Logger) *FFmpegDecoder {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegDecoder{
		path:       path,
		sampleRate: sampleRate,
		logger:     logger.With().Str("component", "ffmpeg").Logger(),
	}
}

func (d *FFmpegDecoder) Decode(ctx context.Context, data []byte) ([]float64, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", models.ErrUndecodable)
	}

	cmd := exec.CommandContext(ctx, d.path,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-f", "s16le",
		"-ac", "1",
		"-ar", strconv.Itoa(d.sampleRate),
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			d.logger.Debug().Int("exit_code", exitErr.ExitCode()).Str("stderr", msg).Msg("ffmpeg rejected input")
			return nil, fmt.Errorf("%w: %s", models.ErrUndecodable, msg)
		}
		return nil, fmt.Errorf("failed to run ffmpeg: %w", err)
	}

	samples := DecodePCM16(stdout.Bytes())
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no audio stream", models.ErrUndecodable)
	}
	return samples, nil
}
