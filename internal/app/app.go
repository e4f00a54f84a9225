package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/RubachokBoss/proctoring-pipeline/internal/config"
	"github.com/RubachokBoss/proctoring-pipeline/internal/observability"
	"github.com/RubachokBoss/proctoring-pipeline/internal/worker"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const statsInterval = time.Minute

// App owns the long-running parts of one process: a worker pool, an HTTP
// server, or both, plus every client they hold open.
type App struct {
	config   *config.Config
	logger   zerolog.Logger
	pool     *worker.WorkerPool
	server   *http.Server
	closers  []namedCloser
	tracing  func(context.Context) error
	shutdown bool
}

type namedCloser struct {
	name  string
	close func() error
}

func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return nil, err
	}
	return &App{config: cfg, logger: log, tracing: shutdownTracing}, nil
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// Run blocks until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.pool != nil {
		statsCtx, stopStats := context.WithCancel(gctx)
		g.Go(func() error {
			defer stopStats()
			return a.pool.Run(gctx)
		})
		g.Go(func() error {
			return a.reportStats(statsCtx, statsInterval)
		})
	}

	if a.server != nil {
		g.Go(func() error {
			a.logger.Info().Msgf("Starting biometric service on %s", a.server.Addr)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.config.Server.ShutdownTimeout)
			defer cancel()
			return a.server.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// Shutdown releases every client in reverse order of creation.
func (a *App) Shutdown(ctx context.Context) error {
	if a.shutdown {
		return nil
	}
	a.shutdown = true
	a.logger.Info().Msg("Shutting down...")

	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Error().Err(err).Str("resource", c.name).Msg("Failed to close resource")
		}
	}

	if a.tracing != nil {
		if err := a.tracing(ctx); err != nil {
			a.logger.Error().Err(err).Msg("Failed to flush traces")
		}
	}

	a.logger.Info().Msg("Stopped")
	return nil
}

// reportStats logs the pool counters every interval until ctx is done.
func (a *App) reportStats(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.logger.Info().Fields(a.pool.GetStats()).Msg("Worker pool stats")
		}
	}
}
