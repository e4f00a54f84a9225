package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RubachokBoss/proctoring-pipeline/internal/app"
	"github.com/RubachokBoss/proctoring-pipeline/internal/config"
	"github.com/RubachokBoss/proctoring-pipeline/internal/database"
	"github.com/RubachokBoss/proctoring-pipeline/internal/service"
	"github.com/RubachokBoss/proctoring-pipeline/pkg/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "proctoring-pipeline",
	Short:         "Proctoring signal analysis workers and biometric service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var workerCmd = &cobra.Command{
	Use:   "worker [audio|vision|gaze|all]",
	Short: "Consume analysis jobs and append events to the session log",
	Long: `Consume analysis jobs from RabbitMQ.

Each modality runs its own intake with reconnect backoff. With no argument
or "all", every modality runs in the same process.

Examples:
  proctoring-pipeline worker audio
  proctoring-pipeline worker all`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		modalities, err := modalitiesFrom(args)
		if err != nil {
			return err
		}
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(log, cfg, func(ctx context.Context) (*app.App, error) {
			return app.NewWorker(ctx, cfg, log, modalities)
		})
	},
}

var biometricCmd = &cobra.Command{
	Use:   "biometric",
	Short: "Serve face registration and validation over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(log, cfg, func(ctx context.Context) (*app.App, error) {
			return app.NewBiometric(ctx, cfg, log)
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down]",
	Short:     "Apply or roll back biometric store migrations",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down"},
	RunE: func(cmd *cobra.Command, args []string) error {
		direction := "up"
		if len(args) > 0 {
			direction = args[0]
		}
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		return runMigrations(cmd.Context(), cfg, log, direction)
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish <modality> <job.json>",
	Short: "Validate a job file and publish it to the modality queue",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("failed to read job file: %w", err)
		}
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		id, err := app.PublishJob(cmd.Context(), cfg.RabbitMQ, log, args[0], body)
		if err != nil {
			return err
		}
		log.Info().Str("job_id", id).Str("modality", args[0]).Msg("Job published")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd, biometricCmd, migrateCmd, publishCmd)
}

func modalitiesFrom(args []string) ([]string, error) {
	if len(args) == 0 || args[0] == "all" {
		return service.Modalities, nil
	}
	if err := service.ValidateModality(args[0]); err != nil {
		return nil, err
	}
	return []string{args[0]}, nil
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, logger.New(), err
	}
	return cfg, logger.NewWithConfig(cfg.Logging.Level, cfg.Logging.Pretty, cfg.Logging.NoColor), nil
}

func serve(log zerolog.Logger, cfg *config.Config, build func(context.Context) (*app.App, error)) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := build(ctx)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	runErr := application.Run(ctx)
	if runErr != nil {
		log.Error().Err(runErr).Msg("Application stopped with error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+20*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown gracefully")
	}
	return runErr
}

func runMigrations(ctx context.Context, cfg *config.Config, log zerolog.Logger, direction string) error {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, cfg.Database.MigrationsPath)
	if err != nil {
		return err
	}

	switch direction {
	case "up":
		if err := migrator.Up(); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		log.Info().Msg("Migrations applied successfully")
	case "down":
		if err := migrator.Down(); err != nil {
			return fmt.Errorf("failed to rollback migrations: %w", err)
		}
		log.Info().Msg("Migrations rolled back successfully")
	default:
		return fmt.Errorf("invalid migration direction %q, use up or down", direction)
	}
	return nil
}
