package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/RubachokBoss/proctoring-pipeline/internal/config"
	"github.com/RubachokBoss/proctoring-pipeline/internal/repository"
	"github.com/RubachokBoss/proctoring-pipeline/internal/service"
	"github.com/RubachokBoss/proctoring-pipeline/internal/service/gaze"
	"github.com/RubachokBoss/proctoring-pipeline/internal/service/integration"
	"github.com/RubachokBoss/proctoring-pipeline/internal/service/preprocess"
	"github.com/RubachokBoss/proctoring-pipeline/internal/service/semantic"
	"github.com/RubachokBoss/proctoring-pipeline/internal/worker"
	"github.com/rs/zerolog"
)

// NewWorker builds the intake pool for the given modalities. Heavy
// collaborators are only created for the modalities that need them.
func NewWorker(ctx context.Context, cfg *config.Config, log zerolog.Logger, modalities []string) (*App, error) {
	for _, m := range modalities {
		if err := service.ValidateModality(m); err != nil {
			return nil, err
		}
	}

	policy, err := worker.ParseFailurePolicy(cfg.Intake.FailurePolicy)
	if err != nil {
		return nil, err
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	redisClient, err := repository.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	a.onClose("redis", redisClient.Close)
	sink := repository.NewEventLogRepository(redisClient, log)

	b := &pipelineBuilder{app: a, cfg: cfg, log: log, normalizer: service.NewNormalizer(nil)}

	instances := max(cfg.Intake.Instances, 1)
	var runners []worker.Runner
	for _, modality := range modalities {
		pipeline, err := b.build(ctx, modality)
		if err != nil {
			_ = a.Shutdown(ctx)
			return nil, fmt.Errorf("failed to build %s pipeline: %w", modality, err)
		}

		q, err := cfg.RabbitMQ.Queue(modality)
		if err != nil {
			_ = a.Shutdown(ctx)
			return nil, err
		}
		intakeCfg := worker.IntakeConfig{
			InitialBackoff:       cfg.Intake.InitialBackoff,
			MaxBackoff:           cfg.Intake.MaxBackoff,
			FailurePolicy:        policy,
			DeadLetterExchange:   cfg.RabbitMQ.DeadLetterExchange,
			DeadLetterRoutingKey: q.RoutingKey,
			JobTimeout:           cfg.Intake.JobTimeout,
		}

		for i := 0; i < instances; i++ {
			tag := fmt.Sprintf("%s-%s-%d", cfg.RabbitMQ.ConsumerTag, modality, i)
			instanceLog := log.With().Int("instance", i).Logger()
			dial := worker.NewAMQPDialer(cfg.RabbitMQ, modality, tag, instanceLog)
			runners = append(runners, worker.NewIntake(pipeline, sink, dial, worker.RealClock, intakeCfg, nil, instanceLog))
		}

		log.Info().
			Str("modality", modality).
			Str("queue", q.Name).
			Int("instances", instances).
			Str("failure_policy", string(policy)).
			Msg("Pipeline ready")
	}

	a.pool = worker.NewWorkerPool(runners, worker.RealClock, log)
	return a, nil
}

type pipelineBuilder struct {
	app        *App
	cfg        *config.Config
	log        zerolog.Logger
	normalizer *service.Normalizer
	fetcher    *integration.MediaFetcher
}

func (b *pipelineBuilder) build(ctx context.Context, modality string) (service.Pipeline, error) {
	switch modality {
	case service.ModalityAudio:
		return b.audio(ctx)
	case service.ModalityVision:
		return b.vision(ctx)
	case service.ModalityGaze:
		return b.gaze()
	}
	return nil, service.ValidateModality(modality)
}

func (b *pipelineBuilder) mediaFetcher(ctx context.Context) (*integration.MediaFetcher, error) {
	if b.fetcher != nil {
		return b.fetcher, nil
	}
	f, err := integration.NewMediaFetcher(ctx, b.cfg.Storage, b.log)
	if err != nil {
		return nil, err
	}
	b.app.onClose("media_fetcher", f.Close)
	b.fetcher = f
	return f, nil
}

func (b *pipelineBuilder) audio(ctx context.Context) (service.Pipeline, error) {
	fetcher, err := b.mediaFetcher(ctx)
	if err != nil {
		return nil, err
	}

	ac := b.cfg.Audio
	filter, err := preprocess.NewBandPass(ac.FilterOrder, ac.LowCutHz, ac.HighCutHz, float64(ac.SampleRate))
	if err != nil {
		return nil, err
	}

	transcriber, err := b.transcriber(ctx)
	if err != nil {
		return nil, err
	}

	embedder := integration.NewOpenAIEmbedder(b.cfg.Embedding)
	refs, err := semantic.LoadReferenceSet(ctx, b.cfg.Semantic.DatasetPath, embedder, b.log)
	if err != nil {
		return nil, err
	}
	classifier := semantic.NewClassifier(refs, embedder, b.cfg.Semantic.Threshold)

	return service.NewAudioPipeline(
		fetcher,
		integration.NewFFmpegDecoder(ac.FFmpegPath, ac.SampleRate, b.log),
		filter,
		transcriber,
		classifier,
		b.normalizer,
		service.AudioConfig{SampleRate: ac.SampleRate, SilenceDB: ac.SilenceDB},
		b.log,
	), nil
}

func (b *pipelineBuilder) transcriber(ctx context.Context) (service.Transcriber, error) {
	switch strings.ToLower(b.cfg.Speech.Provider) {
	case "", "gcp":
		t, err := integration.NewSpeechTranscriber(ctx, b.cfg.Speech, b.log)
		if err != nil {
			return nil, err
		}
		b.app.onClose("speech", t.Close)
		return t, nil
	case "whisper", "openai":
		return integration.NewWhisperTranscriber(b.cfg.Speech, b.log), nil
	}
	return nil, fmt.Errorf("unknown speech provider %q", b.cfg.Speech.Provider)
}

func (b *pipelineBuilder) vision(ctx context.Context) (service.Pipeline, error) {
	fetcher, err := b.mediaFetcher(ctx)
	if err != nil {
		return nil, err
	}

	detector, err := integration.NewObjectDetector(ctx, b.cfg.Vision, b.log)
	if err != nil {
		return nil, err
	}
	b.app.onClose("vision", detector.Close)

	return service.NewVisionPipeline(fetcher, detector, b.normalizer, b.log), nil
}

func (b *pipelineBuilder) gaze() (service.Pipeline, error) {
	gc := b.cfg.Gaze
	contamination, err := gaze.ParseContamination(gc.Contamination)
	if err != nil {
		return nil, err
	}

	forest := gaze.NewIsolationForest(gaze.ForestConfig{
		Trees:         gc.IsolationTrees,
		SampleLimit:   gc.IsolationSampleLimit,
		Contamination: contamination,
		Seed:          gc.Seed,
	})
	analyzer := gaze.NewAnalyzer(GazeConfig(gc), forest)

	return service.NewGazePipeline(analyzer, b.normalizer, b.log), nil
}

// GazeConfig maps the configured thresholds onto the analyzer.
func GazeConfig(gc config.GazeConfig) gaze.Config {
	return gaze.Config{
		MinPoints:           gc.MinPoints,
		MaxJump:             gc.MaxJump,
		ScreenBound:         gc.ScreenBound,
		MaxLookAwayRun:      gc.MaxLookAwayRun,
		MaxLookAwayRatio:    gc.MaxLookAwayRatio,
		ClusterEps:          gc.ClusterEps,
		ClusterMinPoints:    gc.ClusterMinPoints,
		SecondaryClusterMax: gc.SecondaryClusterMax,
		MaxOutlierRatio:     gc.MaxOutlierRatio,
	}
}
