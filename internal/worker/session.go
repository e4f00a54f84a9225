package worker

import (
	"context"
	"fmt"

	"github.com/RubachokBoss/proctoring-pipeline/internal/config"
	"github.com/RubachokBoss/proctoring-pipeline/internal/repository"
	"github.com/RubachokBoss/proctoring-pipeline/internal/worker/queue"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

type amqpSession struct {
	repo      repository.RabbitMQRepository
	consumer  queue.RabbitMQConsumer
	publisher queue.RabbitMQPublisher
	closed    <-chan *amqp.Error
}

// NewAMQPDialer opens a fresh connection per call and declares the
// modality queue, plus its dead-letter queue when one is configured.
func NewAMQPDialer(cfg config.RabbitMQConfig, modality, consumerTag string, logger zerolog.Logger) Dialer {
	return func(ctx context.Context) (Session, error) {
		q, err := cfg.Queue(modality)
		if err != nil {
			return nil, err
		}

		repo, err := repository.NewRabbitMQRepository(cfg.URL, cfg.Heartbeat, logger)
		if err != nil {
			return nil, err
		}

		if err := repo.SetupQueue(cfg.Exchange, q.Name, q.RoutingKey); err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("failed to setup queue %s: %w", q.Name, err)
		}
		if cfg.DeadLetterExchange != "" {
			if err := repo.SetupDeadLetter(cfg.DeadLetterExchange, q.Name, q.RoutingKey); err != nil {
				_ = repo.Close()
				return nil, fmt.Errorf("failed to setup dead letter queue: %w", err)
			}
		}

		return &amqpSession{
			repo:      repo,
			consumer:  queue.NewRabbitMQConsumer(repo.Channel(), q.Name, consumerTag, cfg.PrefetchCount, logger),
			publisher: queue.NewRabbitMQPublisher(repo.Channel(), logger),
			closed:    repo.NotifyClose(),
		}, nil
	}
}

func (s *amqpSession) Deliveries(ctx context.Context) (<-chan queue.RabbitMQMessage, error) {
	return s.consumer.Consume(ctx)
}

func (s *amqpSession) NotifyClose() <-chan *amqp.Error {
	return s.closed
}

func (s *amqpSession) Publisher() queue.RabbitMQPublisher {
	return s.publisher
}

func (s *amqpSession) Close() error {
	_ = s.consumer.Close()
	return s.repo.Close()
}
