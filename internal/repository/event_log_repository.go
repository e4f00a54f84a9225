package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/RubachokBoss/proctoring-pipeline/internal/config"
	"github.com/RubachokBoss/proctoring-pipeline/internal/models"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// EventLogRepository appends events to the per-(session, student) log.
type EventLogRepository interface {
	Append(ctx context.Context, event models.UniversalEvent) error
}

type listPusher interface {
	RPush(ctx context.Context, key string, values ...interface{}) *goredis.IntCmd
}

type eventLogRepository struct {
	client listPusher
	logger zerolog.Logger
}

func NewEventLogRepository(client *goredis.Client, logger zerolog.Logger) EventLogRepository {
	return newEventLogRepository(client, logger)
}

func newEventLogRepository(client listPusher, logger zerolog.Logger) *eventLogRepository {
	return &eventLogRepository{
		client: client,
		logger: logger.With().Str("component", "event_log").Logger(),
	}
}

// Append is a single RPUSH, so concurrent writers never interleave partial
// events. No ordering holds across keys.
func (r *eventLogRepository) Append(ctx context.Context, event models.UniversalEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	key := models.SessionLogKey(event.SessionID, event.UserID)
	length, err := r.client.RPush(ctx, key, raw).Result()
	if err != nil {
		return fmt.Errorf("failed to append event to %s: %w", key, err)
	}

	r.logger.Debug().
		Str("key", key).
		Int64("length", length).
		Str("event_type", event.EventType).
		Msg("Event appended")

	return nil
}

func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return rdb, nil
}
