package service

import (
	"context"
	"fmt"
	"math"

	"github.com/RubachokBoss/proctoring-pipeline/internal/models"
	"github.com/RubachokBoss/proctoring-pipeline/internal/repository"
	"github.com/rs/zerolog"
)

const DefaultMatchThreshold = 0.5

type BiometricService interface {
	Register(ctx context.Context, userID string, embedding []float64) error
	Validate(ctx context.Context, userID string, probe []float64) (models.MatchResult, error)
	RegisterImage(ctx context.Context, userID string, image []byte) error
	ValidateImage(ctx context.Context, userID string, image []byte) (models.MatchResult, error)
	Ready(ctx context.Context) error
}

type biometricService struct {
	repo      repository.BiometricRepository
	faces     FaceEmbedder
	threshold float64
	logger    zerolog.Logger
}

func NewBiometricService(
	repo repository.BiometricRepository,
	faces FaceEmbedder,
	threshold float64,
	logger zerolog.Logger,
) BiometricService {
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}
	return &biometricService{
		repo:      repo,
		faces:     faces,
		threshold: threshold,
		logger:    logger.With().Str("component", "biometric").Logger(),
	}
}

// Register overwrites any embedding already stored for userID.
func (s *biometricService) Register(ctx context.Context, userID string, embedding []float64) error {
	if len(embedding) == 0 {
		return fmt.Errorf("%w: empty embedding", models.ErrDimensionMismatch)
	}
	if err := s.repo.Upsert(ctx, userID, embedding); err != nil {
		return fmt.Errorf("failed to register %s: %w", userID, err)
	}

	s.logger.Info().Str("user", userID).Int("dimensions", len(embedding)).Msg("Biometric registered")
	return nil
}

func (s *biometricService) Validate(ctx context.Context, userID string, probe []float64) (models.MatchResult, error) {
	rec, err := s.repo.Get(ctx, userID)
	if err != nil {
		return models.MatchResult{}, err
	}
	return s.compare(userID, rec.Embedding, probe)
}

func (s *biometricService) RegisterImage(ctx context.Context, userID string, image []byte) error {
	embedding, err := s.faces.EmbedFace(ctx, image)
	if err != nil {
		return err
	}
	return s.Register(ctx, userID, embedding)
}

// ValidateImage checks the user exists before the image is processed.
func (s *biometricService) ValidateImage(ctx context.Context, userID string, image []byte) (models.MatchResult, error) {
	rec, err := s.repo.Get(ctx, userID)
	if err != nil {
		return models.MatchResult{}, err
	}

	probe, err := s.faces.EmbedFace(ctx, image)
	if err != nil {
		return models.MatchResult{}, err
	}
	return s.compare(userID, rec.Embedding, probe)
}

func (s *biometricService) compare(userID string, stored, probe []float64) (models.MatchResult, error) {
	distance, err := EuclideanDistance(stored, probe)
	if err != nil {
		return models.MatchResult{}, err
	}
	res := models.MatchResult{Match: distance < s.threshold, Distance: distance}

	s.logger.Info().
		Str("user", userID).
		Bool("match", res.Match).
		Float64("distance", distance).
		Msg("Biometric validated")
	return res, nil
}

// Ready reports whether the embedding store is reachable.
func (s *biometricService) Ready(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func EuclideanDistance(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", models.ErrDimensionMismatch, len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum), nil
}
