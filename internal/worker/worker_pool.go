package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Runner is a long-lived worker loop such as an Intake.
type Runner interface {
	Run(ctx context.Context) error
	State() State
}

// WorkerPool supervises independent runners. A runner that panics is
// restarted after restartDelay; one that returns an error stops the pool.
type WorkerPool struct {
	runners      []Runner
	clock        Clock
	restartDelay time.Duration
	logger       zerolog.Logger

	mu       sync.RWMutex
	restarts int
}

func NewWorkerPool(runners []Runner, clock Clock, logger zerolog.Logger) *WorkerPool {
	if clock == nil {
		clock = RealClock
	}
	return &WorkerPool{
		runners:      runners,
		clock:        clock,
		restartDelay: time.Second,
		logger:       logger,
	}
}

func (wp *WorkerPool) Run(ctx context.Context) error {
	wp.logger.Info().Int("workers", len(wp.runners)).Msg("Starting worker pool")

	g, gctx := errgroup.WithContext(ctx)
	for i, r := range wp.runners {
		g.Go(func() error {
			return wp.supervise(gctx, i, r)
		})
	}

	err := g.Wait()
	wp.logger.Info().Err(err).Msg("Worker pool stopped")
	return err
}

func (wp *WorkerPool) supervise(ctx context.Context, id int, r Runner) error {
	for {
		panicked, err := wp.runOnce(ctx, id, r)
		if !panicked {
			if err != nil {
				return fmt.Errorf("worker %d: %w", id, err)
			}
			return nil
		}

		wp.mu.Lock()
		wp.restarts++
		wp.mu.Unlock()

		if err := wp.clock.Sleep(ctx, wp.restartDelay); err != nil {
			return nil
		}
		wp.logger.Warn().Int("worker_id", id).Msg("Restarting worker")
	}
}

func (wp *WorkerPool) runOnce(ctx context.Context, id int, r Runner) (panicked bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			wp.logger.Error().
				Int("worker_id", id).
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("Worker recovered from panic")
			panicked = true
		}
	}()
	return false, r.Run(ctx)
}

func (wp *WorkerPool) GetStats() map[string]interface{} {
	var consuming int
	for _, r := range wp.runners {
		if r.State() == StateConsuming {
			consuming++
		}
	}

	wp.mu.RLock()
	defer wp.mu.RUnlock()

	return map[string]interface{}{
		"workers":   len(wp.runners),
		"consuming": consuming,
		"restarts":  wp.restarts,
	}
}
