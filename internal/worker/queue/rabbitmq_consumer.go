package queue

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

type RabbitMQMessage struct {
	Body       []byte
	RoutingKey string
	Headers    map[string]interface{}
	Timestamp  time.Time
	Ack        func(multiple bool) error
	Nack       func(multiple bool, requeue bool) error
}

type RabbitMQConsumer interface {
	// Consume delivers messages until ctx is done or the broker session ends,
	// then closes the returned channel.
	Consume(ctx context.Context) (<-chan RabbitMQMessage, error)
	Close() error
}

type rabbitMQConsumer struct {
	channel     *amqp.Channel
	queue       string
	consumerTag string
	prefetch    int
	logger      zerolog.Logger
}

func NewRabbitMQConsumer(channel *amqp.Channel, queue, consumerTag string, prefetch int, logger zerolog.Logger) RabbitMQConsumer {
	if prefetch <= 0 {
		prefetch = 1
	}
	return &rabbitMQConsumer{
		channel:     channel,
		queue:       queue,
		consumerTag: consumerTag,
		prefetch:    prefetch,
		logger:      logger,
	}
}

func (c *rabbitMQConsumer) Consume(ctx context.Context) (<-chan RabbitMQMessage, error) {
	err := c.channel.Qos(
		c.prefetch, // prefetch count
		0,          // prefetch size
		false,      // global
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := c.channel.Consume(
		c.queue,       // queue
		c.consumerTag, // consumer
		false,         // auto-ack
		false,         // exclusive
		false,         // no-local
		false,         // no-wait
		nil,           // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	output := make(chan RabbitMQMessage)
	go c.forward(ctx, msgs, output)

	c.logger.Info().
		Str("queue", c.queue).
		Str("consumer_tag", c.consumerTag).
		Int("prefetch", c.prefetch).
		Msg("RabbitMQ consumer started")

	return output, nil
}

// forward converts deliveries until ctx is done or msgs closes. A delivery
// that cannot be handed over before shutdown is requeued.
func (c *rabbitMQConsumer) forward(ctx context.Context, msgs <-chan amqp.Delivery, output chan<- RabbitMQMessage) {
	defer close(output)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("Stopping RabbitMQ consumer")
			return
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Warn().Msg("RabbitMQ message channel closed")
				return
			}

			rabbitMsg := RabbitMQMessage{
				Body:       msg.Body,
				RoutingKey: msg.RoutingKey,
				Headers:    msg.Headers,
				Timestamp:  msg.Timestamp,
				Ack:        msg.Ack,
				Nack:       msg.Nack,
			}

			select {
			case output <- rabbitMsg:
			case <-ctx.Done():
				_ = msg.Nack(false, true)
				return
			}
		}
	}
}

func (c *rabbitMQConsumer) Close() error {
	if c.channel != nil && !c.channel.IsClosed() {
		if err := c.channel.Cancel(c.consumerTag, false); err != nil {
			c.logger.Error().Err(err).Msg("Failed to cancel RabbitMQ consumer")
		}
	}

	c.logger.Info().Msg("RabbitMQ consumer closed")
	return nil
}
