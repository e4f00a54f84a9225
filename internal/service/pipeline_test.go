package service

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/RubachokBoss/proctoring-pipeline/internal/models"
	"github.com/RubachokBoss/proctoring-pipeline/internal/service/gaze"
	"github.com/RubachokBoss/proctoring-pipeline/internal/service/preprocess"
	"github.com/rs/zerolog"
)

var fixedNow = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }

type fakeFetcher struct {
	media map[string][]byte
	err   error
}

func (f fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.media[url]
	if !ok {
		return nil, models.ErrMediaUnavailable
	}
	return data, nil
}

type fakeDecoder struct {
	samples map[string][]float64
}

func (d fakeDecoder) Decode(_ context.Context, data []byte) ([]float64, error) {
	s, ok := d.samples[string(data)]
	if !ok {
		return nil, models.ErrUndecodable
	}
	return s, nil
}

type fakeTranscriber struct {
	text  string
	err   error
	calls int
}

func (f *fakeTranscriber) Transcribe(context.Context, []float64, int) (string, error) {
	f.calls++
	return f.text, f.err
}

type fakeClassifier struct {
	intent models.Intent
}

func (f fakeClassifier) Classify(context.Context, string) (models.Intent, error) {
	return f.intent, nil
}

func tone(amplitude float64) []float64 {
	out := make([]float64, 16000)
	for i := range out {
		out[i] = amplitude * math.Sin(2*math.Pi*440*float64(i)/16000)
	}
	return out
}

func newAudioPipelineForTest(tr *fakeTranscriber, intent models.Intent) Pipeline {
	filter, err := preprocess.NewBandPass(6, 300, 3400, 16000)
	if err != nil {
		panic(err)
	}
	return NewAudioPipeline(
		fakeFetcher{media: map[string][]byte{
			"http://blob/speech.webm": []byte("speech"),
			"http://blob/silent.webm": []byte("silent"),
			"http://blob/corrupt.bin": []byte("corrupt"),
		}},
		fakeDecoder{samples: map[string][]float64{
			"speech": tone(0.2),
			"silent": tone(0.0001),
		}},
		filter,
		tr,
		fakeClassifier{intent: intent},
		NewNormalizer(fixedNow),
		AudioConfig{SampleRate: 16000, SilenceDB: -45},
		zerolog.Nop(),
	)
}

func audioJob(url string) []byte {
	return []byte(`{"student_id":"s1","session_id":"x1","audio_url":"` + url + `","chunk_index":3}`)
}

func TestAudioPipeline_SuspiciousSpeech(t *testing.T) {
	tr := &fakeTranscriber{text: "  pásame la respuesta  "}
	p := newAudioPipelineForTest(tr, models.Intent{Category: models.IntentSuspicious, Score: 0.8765, Flagged: true})

	v, err := p.Process(context.Background(), audioJob("http://blob/speech.webm"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Kind != VerdictEmit || v.Event == nil {
		t.Fatalf("expected emit verdict, got %+v", v)
	}
	ev := v.Event
	if ev.Source != models.SourceAudio || ev.Severity != models.SeverityCritical || ev.EventType != EventSpeechDetected {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Details["transcript"] != "pásame la respuesta" || ev.Details["suspicion_score"] != 0.88 || ev.Details["chunk_index"] != 3 {
		t.Fatalf("unexpected details %v", ev.Details)
	}
	if !ev.Timestamp.Equal(fixedNow()) {
		t.Fatalf("unexpected timestamp %v", ev.Timestamp)
	}
}

func TestAudioPipeline_DomesticIsInfo(t *testing.T) {
	p := newAudioPipelineForTest(&fakeTranscriber{text: "cierra la puerta"}, models.Intent{Category: models.IntentDomestic, Score: 0.7})
	v, err := p.Process(context.Background(), audioJob("http://blob/speech.webm"))
	if err != nil || v.Kind != VerdictEmit {
		t.Fatalf("expected emit, got %+v, %v", v, err)
	}
	if v.Event.Severity != models.SeverityInfo {
		t.Fatalf("expected INFO, got %s", v.Event.Severity)
	}
}

func TestAudioPipeline_Drops(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		text   string
		reason string
	}{
		{"unfetchable", "http://blob/missing.webm", "hola a todos", DropMediaUnavailable},
		{"undecodable", "http://blob/corrupt.bin", "hola a todos", DropUndecodable},
		{"silence", "http://blob/silent.webm", "hola a todos", DropSilence},
		{"noise transcript", "http://blob/speech.webm", " a ", DropNoSpeech},
		{"empty transcript", "http://blob/speech.webm", "", DropNoSpeech},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newAudioPipelineForTest(&fakeTranscriber{text: tt.text}, models.Intent{Category: models.IntentSuspicious, Score: 0.9})
			v, err := p.Process(context.Background(), audioJob(tt.url))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if v.Kind != VerdictDrop || v.Reason != tt.reason || v.Event != nil {
				t.Fatalf("expected drop %q, got %+v", tt.reason, v)
			}
			if v.Meta.StudentID != "s1" || v.Meta.SessionID != "x1" {
				t.Fatalf("drop verdict lost job identity: %+v", v.Meta)
			}
		})
	}
}

func TestAudioPipeline_SilenceSkipsTranscription(t *testing.T) {
	tr := &fakeTranscriber{text: "hola a todos"}
	p := newAudioPipelineForTest(tr, models.Intent{})
	for i := 0; i < 2; i++ {
		v, err := p.Process(context.Background(), audioJob("http://blob/silent.webm"))
		if err != nil || v.Kind != VerdictDrop {
			t.Fatalf("replay %d: expected drop, got %+v, %v", i, v, err)
		}
	}
	if tr.calls != 0 {
		t.Fatalf("silent audio must never reach transcription")
	}
}

func TestAudioPipeline_Errors(t *testing.T) {
	p := newAudioPipelineForTest(&fakeTranscriber{err: errors.New("speech api down")}, models.Intent{})
	if _, err := p.Process(context.Background(), audioJob("http://blob/speech.webm")); err == nil {
		t.Fatalf("expected transcription failure to be an error")
	}

	if _, err := p.Process(context.Background(), []byte(`{"student_id":"s1"}`)); !errors.Is(err, models.ErrInvalidJob) {
		t.Fatalf("expected ErrInvalidJob, got %v", err)
	}

	broken := NewAudioPipeline(
		fakeFetcher{err: errors.New("tls handshake bug")}, nil, nil, nil, nil,
		NewNormalizer(fixedNow), AudioConfig{}, zerolog.Nop(),
	)
	if _, err := broken.Process(context.Background(), audioJob("http://blob/speech.webm")); err == nil {
		t.Fatalf("unclassified fetch failure must be an error")
	}
}

type fakeDetector struct {
	counts models.ObjectCounts
	err    error
}

func (d fakeDetector) Detect(context.Context, []byte) (models.ObjectCounts, error) {
	return d.counts, d.err
}

func visionJob(url string) []byte {
	return []byte(`{"student_id":"s1","session_id":"x1","image_url":"` + url + `"}`)
}

func TestVisionPipeline(t *testing.T) {
	fetcher := fakeFetcher{media: map[string][]byte{"http://blob/frame.jpg": []byte("jpeg")}}
	normalizer := NewNormalizer(fixedNow)

	p := NewVisionPipeline(fetcher, fakeDetector{counts: models.ObjectCounts{Persons: 1, Phones: 1}}, normalizer, zerolog.Nop())
	v, err := p.Process(context.Background(), visionJob("http://blob/frame.jpg"))
	if err != nil || v.Kind != VerdictEmit {
		t.Fatalf("expected emit, got %+v, %v", v, err)
	}
	if v.Event.Source != "yolo_vision" || v.Event.Severity != models.SeverityCritical || v.Event.EventType != "Celular detectado" {
		t.Fatalf("unexpected event %+v", v.Event)
	}

	p = NewVisionPipeline(fetcher, fakeDetector{counts: models.ObjectCounts{Persons: 0}}, normalizer, zerolog.Nop())
	v, _ = p.Process(context.Background(), visionJob("http://blob/frame.jpg"))
	if v.Event.Severity != models.SeverityWarning || v.Event.EventType != "Usuario ausente" {
		t.Fatalf("unexpected event %+v", v.Event)
	}

	p = NewVisionPipeline(fetcher, fakeDetector{counts: models.ObjectCounts{Persons: 1}}, normalizer, zerolog.Nop())
	v, _ = p.Process(context.Background(), visionJob("http://blob/frame.jpg"))
	if v.Event.Severity != models.SeverityInfo || v.Event.EventType != "focused_person" {
		t.Fatalf("unexpected event %+v", v.Event)
	}

	v, err = p.Process(context.Background(), visionJob("http://blob/gone.jpg"))
	if err != nil || v.Kind != VerdictDrop || v.Reason != DropMediaUnavailable {
		t.Fatalf("expected media drop, got %+v, %v", v, err)
	}

	p = NewVisionPipeline(fetcher, fakeDetector{err: models.ErrInvalidImage}, normalizer, zerolog.Nop())
	v, err = p.Process(context.Background(), visionJob("http://blob/frame.jpg"))
	if err != nil || v.Kind != VerdictDrop || v.Reason != DropInvalidImage {
		t.Fatalf("expected invalid image drop, got %+v, %v", v, err)
	}

	p = NewVisionPipeline(fetcher, fakeDetector{err: errors.New("quota exceeded")}, normalizer, zerolog.Nop())
	if _, err := p.Process(context.Background(), visionJob("http://blob/frame.jpg")); err == nil {
		t.Fatalf("detector outage must be an error")
	}
}

func gazeJob(points string) []byte {
	return []byte(`{"student_id":"s1","session_id":"x1","gaze_buffer":` + points + `}`)
}

func TestGazePipeline(t *testing.T) {
	p := NewGazePipeline(gaze.NewAnalyzer(gaze.DefaultConfig(), nil), NewNormalizer(fixedNow), zerolog.Nop())

	v, err := p.Process(context.Background(), gazeJob(`[[0,0],[0,0]]`))
	if err != nil || v.Kind != VerdictDrop || v.Reason != gaze.StatusInsufficientData {
		t.Fatalf("expected insufficient data drop, got %+v, %v", v, err)
	}

	off := `[1.2,0]`
	buf := "["
	for i := 0; i < 20; i++ {
		if i > 0 {
			buf += ","
		}
		buf += off
	}
	buf += "]"
	v, err = p.Process(context.Background(), gazeJob(buf))
	if err != nil || v.Kind != VerdictEmit {
		t.Fatalf("expected emit, got %+v, %v", v, err)
	}
	if v.Event.Source != models.SourceGaze || v.Event.Severity != models.SeverityWarning || v.Event.EventType != gaze.ReasonProlongedLookAway {
		t.Fatalf("unexpected event %+v", v.Event)
	}

	if _, err := p.Process(context.Background(), gazeJob(`[[0]]`)); !errors.Is(err, models.ErrInvalidJob) {
		t.Fatalf("expected ErrInvalidJob, got %v", err)
	}
}
