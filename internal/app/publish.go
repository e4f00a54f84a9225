package app

import (
	"context"
	"fmt"

	"github.com/RubachokBoss/proctoring-pipeline/internal/config"
	"github.com/RubachokBoss/proctoring-pipeline/internal/models"
	"github.com/RubachokBoss/proctoring-pipeline/internal/repository"
	"github.com/RubachokBoss/proctoring-pipeline/internal/service"
	"github.com/RubachokBoss/proctoring-pipeline/internal/worker/queue"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ValidateJob checks body against the schema of the modality's queue.
func ValidateJob(modality string, body []byte) error {
	var err error
	switch modality {
	case service.ModalityAudio:
		_, err = models.DecodeAudioJob(body)
	case service.ModalityVision:
		_, err = models.DecodeVisionJob(body)
	case service.ModalityGaze:
		_, err = models.DecodeGazeJob(body)
	default:
		err = service.ValidateModality(modality)
	}
	return err
}

// PublishJob validates and enqueues one job, returning its message id.
func PublishJob(ctx context.Context, cfg config.RabbitMQConfig, log zerolog.Logger, modality string, body []byte) (string, error) {
	if err := ValidateJob(modality, body); err != nil {
		return "", err
	}
	q, err := cfg.Queue(modality)
	if err != nil {
		return "", err
	}

	repo, err := repository.NewRabbitMQRepository(cfg.URL, cfg.Heartbeat, log)
	if err != nil {
		return "", err
	}
	defer repo.Close()

	if err := repo.SetupQueue(cfg.Exchange, q.Name, q.RoutingKey); err != nil {
		return "", fmt.Errorf("failed to setup queue %s: %w", q.Name, err)
	}

	id := uuid.NewString()
	publisher := queue.NewRabbitMQPublisher(repo.Channel(), log)
	if err := publisher.PublishWithHeaders(ctx, cfg.Exchange, q.RoutingKey, body, map[string]interface{}{"x-job-id": id}); err != nil {
		return "", fmt.Errorf("failed to publish job: %w", err)
	}
	return id, nil
}
