package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/RubachokBoss/proctoring-pipeline/internal/repository"
	"github.com/RubachokBoss/proctoring-pipeline/internal/service"
	"github.com/RubachokBoss/proctoring-pipeline/internal/worker/queue"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConsuming
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConsuming:
		return "consuming"
	default:
		return "disconnected"
	}
}

type FailurePolicy string

const (
	PolicyReject     FailurePolicy = "reject"
	PolicyRequeue    FailurePolicy = "requeue"
	PolicyDeadLetter FailurePolicy = "dead_letter"
)

func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyReject, nil
	case PolicyReject, PolicyRequeue, PolicyDeadLetter:
		return p, nil
	}
	return "", fmt.Errorf("unknown failure policy %q", s)
}

const appendTimeout = 5 * time.Second

var (
	errSessionLost = errors.New("broker session lost")
	errPanic       = errors.New("pipeline panic")
)

// Clock lets tests observe and shutdown interrupt reconnect waits.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var RealClock Clock = realClock{}

// Session is one live broker connection for a single queue.
type Session interface {
	Deliveries(ctx context.Context) (<-chan queue.RabbitMQMessage, error)
	NotifyClose() <-chan *amqp.Error
	Publisher() queue.RabbitMQPublisher
	Close() error
}

type Dialer func(ctx context.Context) (Session, error)

type IntakeConfig struct {
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
	FailurePolicy        FailurePolicy
	DeadLetterExchange   string
	DeadLetterRoutingKey string
	JobTimeout           time.Duration
}

// Intake is the consumption loop of one worker instance. It holds at most
// one job in flight and takes exactly one terminal action per job.
type Intake struct {
	pipeline service.Pipeline
	sink     repository.EventLogRepository
	dial     Dialer
	clock    Clock
	cfg      IntakeConfig
	tracer   trace.Tracer
	logger   zerolog.Logger
	state    atomic.Int32
}

func NewIntake(
	pipeline service.Pipeline,
	sink repository.EventLogRepository,
	dial Dialer,
	clock Clock,
	cfg IntakeConfig,
	tracer trace.Tracer,
	logger zerolog.Logger,
) *Intake {
	if clock == nil {
		clock = RealClock
	}
	if tracer == nil {
		tracer = otel.Tracer("github.com/RubachokBoss/proctoring-pipeline/internal/worker")
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 5 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 60 * time.Second
	}
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = PolicyReject
	}
	return &Intake{
		pipeline: pipeline,
		sink:     sink,
		dial:     dial,
		clock:    clock,
		cfg:      cfg,
		tracer:   tracer,
		logger:   logger.With().Str("modality", pipeline.Modality()).Logger(),
	}
}

func (in *Intake) State() State {
	return State(in.state.Load())
}

func (in *Intake) setState(s State) {
	in.state.Store(int32(s))
}

func (in *Intake) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = in.cfg.InitialBackoff
	b.MaxInterval = in.cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// Run connects, consumes and reconnects until ctx is cancelled. Broker
// failures never end the loop.
func (in *Intake) Run(ctx context.Context) error {
	bo := in.newBackOff()
	defer in.setState(StateDisconnected)

	for {
		in.setState(StateConnecting)
		session, err := in.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			in.setState(StateDisconnected)
			delay := bo.NextBackOff()
			in.logger.Warn().Err(err).Dur("retry_in", delay).Msg("Failed to connect to broker")
			if err := in.clock.Sleep(ctx, delay); err != nil {
				return nil
			}
			continue
		}

		bo.Reset()
		in.setState(StateConsuming)
		in.logger.Info().Msg("Consuming jobs")

		err = in.consume(ctx, session)
		if cerr := session.Close(); cerr != nil {
			in.logger.Debug().Err(cerr).Msg("Failed to close broker session")
		}
		in.setState(StateDisconnected)
		if ctx.Err() != nil {
			in.logger.Info().Msg("Intake stopped")
			return nil
		}

		delay := bo.NextBackOff()
		in.logger.Warn().Err(err).Dur("retry_in", delay).Msg("Broker session ended, reconnecting")
		if err := in.clock.Sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

func (in *Intake) consume(ctx context.Context, session Session) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgs, err := session.Deliveries(sessionCtx)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	closed := session.NotifyClose()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			if amqpErr != nil {
				return fmt.Errorf("%w: %v", errSessionLost, amqpErr)
			}
			return errSessionLost
		case msg, ok := <-msgs:
			if !ok {
				return errSessionLost
			}
			in.handle(ctx, session, msg)
		}
	}
}

func (in *Intake) handle(ctx context.Context, session Session, msg queue.RabbitMQMessage) {
	jobCtx := ctx
	if in.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, in.cfg.JobTimeout)
		defer cancel()
	}

	jobID := jobIDOf(msg)
	jlog := in.logger.With().Str("job_id", jobID).Logger()

	jobCtx, span := in.tracer.Start(jobCtx, "pipeline."+in.pipeline.Modality(),
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.rabbitmq.routing_key", msg.RoutingKey),
			attribute.Int("messaging.message.body.size", len(msg.Body)),
			attribute.String("messaging.message.id", jobID),
		),
	)
	defer span.End()

	start := time.Now()
	verdict, err := in.process(jobCtx, msg.Body)
	if err != nil {
		if ctx.Err() != nil {
			jlog.Info().Msg("Shutdown during job, returning it to the queue")
			in.settle(msg.Nack(false, true))
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		in.fail(ctx, session, msg, err, jlog)
		return
	}

	span.SetAttributes(spanAttributes(verdict)...)

	log := jlog.With().
		Str("student_id", verdict.Meta.StudentID).
		Str("session_id", verdict.Meta.SessionID).
		Dur("took", time.Since(start)).
		Logger()

	if verdict.Kind == service.VerdictDrop {
		log.Info().Str("reason", verdict.Reason).Msg("Job dropped")
		in.settle(msg.Ack(false))
		return
	}

	event := verdict.Event
	var entry *zerolog.Event
	if event.Severity.IsAlert() {
		entry = log.Warn().Interface("event", event)
	} else {
		entry = log.Info()
	}
	entry.Str("severity", string(event.Severity)).Str("event_type", event.EventType).Msg("Event detected")

	// The append outlives shutdown of the consume loop.
	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()
	if err := in.sink.Append(appendCtx, *event); err != nil {
		log.Error().Err(err).Str("event_type", event.EventType).Msg("Failed to append event, event lost")
	}
	in.settle(msg.Ack(false))
}

func (in *Intake) process(ctx context.Context, body []byte) (v service.Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			in.logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Pipeline panicked")
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
	}()
	return in.pipeline.Process(ctx, body)
}

func (in *Intake) fail(ctx context.Context, session Session, msg queue.RabbitMQMessage, cause error, log zerolog.Logger) {
	log.Error().
		Err(cause).
		Str("policy", string(in.cfg.FailurePolicy)).
		Str("payload", truncate(msg.Body, 512)).
		Msg("Job failed")

	switch in.cfg.FailurePolicy {
	case PolicyRequeue:
		in.settle(msg.Nack(false, true))
	case PolicyDeadLetter:
		headers := map[string]interface{}{
			"x-error":     cause.Error(),
			"x-modality":  in.pipeline.Modality(),
			"x-failed-at": time.Now().UTC().Format(time.RFC3339),
		}
		err := session.Publisher().PublishWithHeaders(ctx, in.cfg.DeadLetterExchange, in.cfg.DeadLetterRoutingKey, msg.Body, headers)
		if err != nil {
			log.Error().Err(err).Msg("Failed to dead-letter job, rejecting")
			in.settle(msg.Nack(false, false))
			return
		}
		in.settle(msg.Ack(false))
	default:
		in.settle(msg.Nack(false, false))
	}
}

func (in *Intake) settle(err error) {
	if err != nil {
		in.logger.Error().Err(err).Msg("Failed to settle message")
	}
}

func spanAttributes(v service.Verdict) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("proctoring.verdict", v.Kind.String()),
		attribute.String("proctoring.reason", v.Reason),
		attribute.String("proctoring.student_id", v.Meta.StudentID),
		attribute.String("proctoring.session_id", v.Meta.SessionID),
	}
	if v.Event != nil {
		attrs = append(attrs,
			attribute.String("proctoring.event_type", v.Event.EventType),
			attribute.String("proctoring.severity", string(v.Event.Severity)),
		)
	}
	return attrs
}

// jobIDOf prefers the publisher's x-job-id header and falls back to a fresh
// id that only correlates log lines of this attempt.
func jobIDOf(msg queue.RabbitMQMessage) string {
	if id, ok := msg.Headers["x-job-id"].(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
