package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RubachokBoss/proctoring-pipeline/internal/models"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// BiometricRepository stores one face embedding per user. Writes are per-key
// upserts; the last write wins.
type BiometricRepository interface {
	Upsert(ctx context.Context, userID string, embedding []float64) error
	Get(ctx context.Context, userID string) (*models.BiometricRecord, error)
	Ping(ctx context.Context) error
}

const pingTimeout = 5 * time.Second

type biometricRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewBiometricRepository(db *sql.DB, logger zerolog.Logger) BiometricRepository {
	return &biometricRepository{
		db:     db,
		logger: logger.With().Str("component", "biometric_store").Logger(),
	}
}

func (r *biometricRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("biometric store unreachable: %w", err)
	}
	return nil
}

func (r *biometricRepository) Upsert(ctx context.Context, userID string, embedding []float64) error {
	query := `
		INSERT INTO biometric_records (user_id, embedding, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET embedding = EXCLUDED.embedding,
			updated_at = EXCLUDED.updated_at
	`

	if _, err := r.db.ExecContext(ctx, query, userID, pq.Array(embedding), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to upsert biometric record: %w", err)
	}

	r.logger.Debug().Str("user", userID).Int("dims", len(embedding)).Msg("Biometric record stored")
	return nil
}

func (r *biometricRepository) Get(ctx context.Context, userID string) (*models.BiometricRecord, error) {
	query := `
		SELECT user_id, embedding, updated_at
		FROM biometric_records
		WHERE user_id = $1
	`

	var (
		rec       models.BiometricRecord
		embedding pq.Float64Array
	)
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&rec.UserID, &embedding, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get biometric record: %w", err)
	}

	rec.Embedding = []float64(embedding)
	return &rec, nil
}

type memoryBiometricRepository struct {
	mu      sync.RWMutex
	records map[string]models.BiometricRecord
	now     func() time.Time
}

// NewMemoryBiometricRepository keeps records in process memory.
func NewMemoryBiometricRepository() BiometricRepository {
	return &memoryBiometricRepository{
		records: make(map[string]models.BiometricRecord),
		now:     time.Now,
	}
}

func (r *memoryBiometricRepository) Upsert(_ context.Context, userID string, embedding []float64) error {
	stored := append([]float64(nil), embedding...)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[userID] = models.BiometricRecord{
		UserID:    userID,
		Embedding: stored,
		UpdatedAt: r.now().UTC(),
	}
	return nil
}

func (r *memoryBiometricRepository) Get(_ context.Context, userID string) (*models.BiometricRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	rec.Embedding = append([]float64(nil), rec.Embedding...)
	return &rec, nil
}

func (r *memoryBiometricRepository) Ping(context.Context) error { return nil }
