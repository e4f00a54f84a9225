package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/RubachokBoss/proctoring-pipeline/internal/config"
	"github.com/RubachokBoss/proctoring-pipeline/internal/database"
	"github.com/RubachokBoss/proctoring-pipeline/internal/delivery/httpd"
	"github.com/RubachokBoss/proctoring-pipeline/internal/repository"
	"github.com/RubachokBoss/proctoring-pipeline/internal/service"
	"github.com/RubachokBoss/proctoring-pipeline/internal/service/integration"
	"github.com/rs/zerolog"
)

// NewBiometric builds the biometric HTTP service.
func NewBiometric(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	repo, err := biometricStore(ctx, a, cfg, log)
	if err != nil {
		_ = a.Shutdown(ctx)
		return nil, err
	}

	faces := integration.NewFaceClient(cfg.Face.URL, cfg.Face.Timeout, log)
	svc := service.NewBiometricService(repo, faces, cfg.Biometric.Threshold, log)

	handler := httpd.NewHandler(svc, cfg.Server.MaxUploadBytes, log)
	a.server = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      httpd.NewRouter(handler, cfg.CORS, cfg.Server.WriteTimeout, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return a, nil
}

func biometricStore(ctx context.Context, a *App, cfg *config.Config, log zerolog.Logger) (repository.BiometricRepository, error) {
	switch cfg.Biometric.Store {
	case "memory":
		log.Warn().Msg("Using in-memory biometric store, registrations are lost on restart")
		return repository.NewMemoryBiometricRepository(), nil
	case "", "postgres":
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.onClose("postgres", db.Close)
		log.Info().Msg("Database connection established")
		return repository.NewBiometricRepository(db, log), nil
	}
	return nil, fmt.Errorf("unknown biometric store %q", cfg.Biometric.Store)
}
