package worker

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/RubachokBoss/proctoring-pipeline/internal/models"
	"github.com/RubachokBoss/proctoring-pipeline/internal/service"
	"github.com/RubachokBoss/proctoring-pipeline/internal/worker/queue"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

type fakeClock struct {
	mu     sync.Mutex
	sleeps []time.Duration
	onCall func(n int) error
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	n := len(c.sleeps)
	c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.onCall != nil {
		return c.onCall(n)
	}
	return nil
}

type published struct {
	exchange, routingKey string
	body                 []byte
	headers              map[string]interface{}
}

type fakePublisher struct {
	err  error
	sent []published
}

func (p *fakePublisher) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	return p.PublishWithHeaders(ctx, exchange, routingKey, body, nil)
}

func (p *fakePublisher) PublishWithHeaders(_ context.Context, exchange, routingKey string, body []byte, headers map[string]interface{}) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, published{exchange, routingKey, body, headers})
	return nil
}

type fakeSession struct {
	msgs      chan queue.RabbitMQMessage
	publisher *fakePublisher
	closed    bool
}

func newFakeSession(bodies ...*settlement) *fakeSession {
	ch := make(chan queue.RabbitMQMessage, len(bodies))
	for _, s := range bodies {
		ch <- s.message()
	}
	close(ch)
	return &fakeSession{msgs: ch, publisher: &fakePublisher{}}
}

func (s *fakeSession) Deliveries(context.Context) (<-chan queue.RabbitMQMessage, error) {
	return s.msgs, nil
}

func (s *fakeSession) NotifyClose() <-chan *amqp.Error { return nil }

func (s *fakeSession) Publisher() queue.RabbitMQPublisher { return s.publisher }

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

// settlement records the terminal action taken on one delivery.
type settlement struct {
	body    string
	acks    int
	nacks   int
	requeue bool
}

func (s *settlement) message() queue.RabbitMQMessage {
	return queue.RabbitMQMessage{
		Body: []byte(s.body),
		Ack: func(bool) error {
			s.acks++
			return nil
		},
		Nack: func(_ bool, requeue bool) error {
			s.nacks++
			s.requeue = requeue
			return nil
		},
	}
}

func (s *settlement) terminal() int { return s.acks + s.nacks }

type scriptedPipeline struct {
	run func(ctx context.Context, body string) (service.Verdict, error)
}

func (p scriptedPipeline) Modality() string { return service.ModalityAudio }

func (p scriptedPipeline) Process(ctx context.Context, body []byte) (service.Verdict, error) {
	return p.run(ctx, string(body))
}

type fakeSink struct {
	err    error
	events []models.UniversalEvent
}

func (s *fakeSink) Append(ctx context.Context, e models.UniversalEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, e)
	return nil
}

var meta = models.JobMeta{StudentID: "s1", SessionID: "x1"}

func event(sev models.Severity) models.UniversalEvent {
	return models.UniversalEvent{UserID: "s1", SessionID: "x1", Source: models.SourceAudio, Severity: sev, EventType: "speech_detected"}
}

var defaultScript = scriptedPipeline{run: func(ctx context.Context, body string) (service.Verdict, error) {
	switch body {
	case "drop":
		return service.Drop(meta, service.DropSilence), nil
	case "info":
		return service.Emit(event(models.SeverityInfo)), nil
	case "critical":
		return service.Emit(event(models.SeverityCritical)), nil
	case "panic":
		panic("index out of range")
	default:
		return service.Verdict{}, errors.New("unexpected failure")
	}
}}

// runOneSession feeds the settlements through a single session and stops
// the intake at the first reconnect wait.
func runOneSession(t *testing.T, pipeline service.Pipeline, sink *fakeSink, cfg IntakeConfig, session *fakeSession) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dials := 0
	dial := func(context.Context) (Session, error) {
		dials++
		if dials > 1 {
			t.Fatalf("unexpected redial")
		}
		return session, nil
	}
	clock := &fakeClock{onCall: func(int) error { cancel(); return context.Canceled }}

	in := NewIntake(pipeline, sink, dial, clock, cfg, nil, zerolog.Nop())
	if err := in.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if !session.closed {
		t.Fatalf("session not closed")
	}
	if in.State() != StateDisconnected {
		t.Fatalf("expected disconnected after stop, got %s", in.State())
	}
}

func TestIntake_BackoffSequence(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	dial := func(context.Context) (Session, error) {
		calls++
		switch calls {
		case 4:
			return newFakeSession(), nil
		case 6:
			cancel()
			return nil, errors.New("connection refused")
		default:
			return nil, errors.New("connection refused")
		}
	}
	clock := &fakeClock{}

	in := NewIntake(defaultScript, &fakeSink{}, dial, clock, IntakeConfig{
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     60 * time.Second,
	}, nil, zerolog.Nop())

	if err := in.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	want := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 5 * time.Second, 10 * time.Second}
	if !reflect.DeepEqual(clock.sleeps, want) {
		t.Fatalf("expected waits %v, got %v", want, clock.sleeps)
	}
}

func TestIntake_BackoffCapsAtMax(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dial := func(context.Context) (Session, error) { return nil, errors.New("refused") }
	clock := &fakeClock{onCall: func(n int) error {
		if n == 7 {
			cancel()
		}
		return nil
	}}

	in := NewIntake(defaultScript, &fakeSink{}, dial, clock, IntakeConfig{}, nil, zerolog.Nop())
	_ = in.Run(ctx)

	want := []time.Duration{5, 10, 20, 40, 60, 60, 60}
	for i := range want {
		want[i] *= time.Second
	}
	if !reflect.DeepEqual(clock.sleeps, want) {
		t.Fatalf("expected waits %v, got %v", want, clock.sleeps)
	}
}

func TestIntake_Verdicts(t *testing.T) {
	drop := &settlement{body: "drop"}
	info := &settlement{body: "info"}
	critical := &settlement{body: "critical"}
	sink := &fakeSink{}

	runOneSession(t, defaultScript, sink, IntakeConfig{}, newFakeSession(drop, info, critical))

	for _, s := range []*settlement{drop, info, critical} {
		if s.acks != 1 || s.nacks != 0 {
			t.Fatalf("%s: expected a single ack, got %+v", s.body, s)
		}
	}
	if len(sink.events) != 2 || sink.events[1].Severity != models.SeverityCritical {
		t.Fatalf("expected two appended events, got %+v", sink.events)
	}
}

func TestIntake_SilentReplayEmitsNothing(t *testing.T) {
	first := &settlement{body: "drop"}
	replay := &settlement{body: "drop"}
	sink := &fakeSink{}

	runOneSession(t, defaultScript, sink, IntakeConfig{}, newFakeSession(first, replay))

	if len(sink.events) != 0 {
		t.Fatalf("silent jobs must never emit, got %d events", len(sink.events))
	}
	if first.acks != 1 || replay.acks != 1 {
		t.Fatalf("both deliveries must be acknowledged")
	}
}

func TestIntake_SinkFailureStillAcks(t *testing.T) {
	s := &settlement{body: "critical"}
	runOneSession(t, defaultScript, &fakeSink{err: errors.New("redis down")}, IntakeConfig{}, newFakeSession(s))
	if s.acks != 1 || s.nacks != 0 {
		t.Fatalf("expected ack despite sink failure, got %+v", s)
	}
}

func TestIntake_FailurePolicies(t *testing.T) {
	tests := []struct {
		name       string
		policy     FailurePolicy
		publishErr error
		body       string
		acks       int
		nacks      int
		requeue    bool
		published  int
	}{
		{"reject error", PolicyReject, nil, "boom", 0, 1, false, 0},
		{"reject panic", PolicyReject, nil, "panic", 0, 1, false, 0},
		{"requeue", PolicyRequeue, nil, "boom", 0, 1, true, 0},
		{"dead letter", PolicyDeadLetter, nil, "boom", 1, 0, false, 1},
		{"dead letter publish fails", PolicyDeadLetter, errors.New("channel closed"), "boom", 0, 1, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &settlement{body: tt.body}
			session := newFakeSession(s)
			session.publisher.err = tt.publishErr

			runOneSession(t, defaultScript, &fakeSink{}, IntakeConfig{
				FailurePolicy:        tt.policy,
				DeadLetterExchange:   "proctoring_dead_letter",
				DeadLetterRoutingKey: "stream.audio",
			}, session)

			if s.acks != tt.acks || s.nacks != tt.nacks || s.requeue != tt.requeue {
				t.Fatalf("unexpected settlement %+v", s)
			}
			if s.terminal() != 1 {
				t.Fatalf("expected exactly one terminal action, got %d", s.terminal())
			}
			if len(session.publisher.sent) != tt.published {
				t.Fatalf("expected %d dead-lettered, got %d", tt.published, len(session.publisher.sent))
			}
			if tt.published == 1 {
				p := session.publisher.sent[0]
				if p.exchange != "proctoring_dead_letter" || string(p.body) != "boom" || p.headers["x-error"] != "unexpected failure" {
					t.Fatalf("unexpected dead letter %+v", p)
				}
			}
		})
	}
}

func TestIntake_ShutdownMidJobRequeues(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &settlement{body: "slow"}
	pipeline := scriptedPipeline{run: func(ctx context.Context, _ string) (service.Verdict, error) {
		cancel()
		<-ctx.Done()
		return service.Verdict{}, ctx.Err()
	}}

	session := newFakeSession(s)
	dial := func(context.Context) (Session, error) { return session, nil }

	in := NewIntake(pipeline, &fakeSink{}, dial, &fakeClock{}, IntakeConfig{}, nil, zerolog.Nop())
	if err := in.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if s.nacks != 1 || !s.requeue || s.acks != 0 {
		t.Fatalf("expected requeue on shutdown, got %+v", s)
	}
}

func TestIntake_EmitFinishedDuringShutdownIsStored(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &settlement{body: "gaze"}
	pipeline := scriptedPipeline{run: func(context.Context, string) (service.Verdict, error) {
		cancel()
		return service.Emit(event(models.SeverityWarning)), nil
	}}

	session := newFakeSession(s)
	dial := func(context.Context) (Session, error) { return session, nil }
	sink := &fakeSink{}

	in := NewIntake(pipeline, sink, dial, &fakeClock{}, IntakeConfig{}, nil, zerolog.Nop())
	if err := in.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if len(sink.events) != 1 || sink.events[0].Severity != models.SeverityWarning {
		t.Fatalf("expected the event to be stored, got %+v", sink.events)
	}
	if s.acks != 1 || s.nacks != 0 {
		t.Fatalf("expected a single ack, got %+v", s)
	}
}

func TestSpanAttributes(t *testing.T) {
	got := map[string]string{}
	for _, kv := range spanAttributes(service.Emit(event(models.SeverityCritical))) {
		got[string(kv.Key)] = kv.Value.AsString()
	}
	want := map[string]string{
		"proctoring.verdict":    "emit",
		"proctoring.reason":     "speech_detected",
		"proctoring.student_id": "s1",
		"proctoring.session_id": "x1",
		"proctoring.event_type": "speech_detected",
		"proctoring.severity":   "CRITICAL",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	drop := spanAttributes(service.Drop(meta, service.DropSilence))
	if len(drop) != 4 {
		t.Fatalf("drop verdicts carry no event attributes, got %v", drop)
	}
}

func TestIntake_JobTimeoutIsFailure(t *testing.T) {
	s := &settlement{body: "slow"}
	pipeline := scriptedPipeline{run: func(ctx context.Context, _ string) (service.Verdict, error) {
		<-ctx.Done()
		return service.Verdict{}, ctx.Err()
	}}

	runOneSession(t, pipeline, &fakeSink{}, IntakeConfig{JobTimeout: 10 * time.Millisecond}, newFakeSession(s))

	if s.nacks != 1 || s.requeue {
		t.Fatalf("expected reject after timeout, got %+v", s)
	}
}

func TestParseFailurePolicy(t *testing.T) {
	for in, want := range map[string]FailurePolicy{
		"":            PolicyReject,
		"reject":      PolicyReject,
		"REQUEUE":     PolicyRequeue,
		"dead_letter": PolicyDeadLetter,
	} {
		got, err := ParseFailurePolicy(in)
		if err != nil || got != want {
			t.Fatalf("ParseFailurePolicy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFailurePolicy("retry_forever"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}

func TestJobIDOf(t *testing.T) {
	msg := queue.RabbitMQMessage{Headers: map[string]interface{}{"x-job-id": "job-7"}}
	if got := jobIDOf(msg); got != "job-7" {
		t.Fatalf("expected header id, got %q", got)
	}

	a := jobIDOf(queue.RabbitMQMessage{})
	b := jobIDOf(queue.RabbitMQMessage{Headers: map[string]interface{}{"x-job-id": 42}})
	if a == "" || b == "" || a == b {
		t.Fatalf("expected distinct generated ids, got %q and %q", a, b)
	}
}
