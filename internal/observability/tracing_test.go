package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/RubachokBoss/proctoring-pipeline/internal/config"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
)

func TestInitTracing_Disabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), config.TracingConfig{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitTracing_ExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := initTracing(context.Background(), config.TracingConfig{
		Enabled:     true,
		SampleRatio: 1,
		ServiceName: "proctoring-test",
	}, &buf, zerolog.Nop())
	if err != nil {
		t.Fatalf("initTracing: %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "pipeline.gaze")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), "pipeline.gaze") {
		t.Fatalf("span not exported: %s", buf.String())
	}
}

func TestClampRatio(t *testing.T) {
	if clampRatio(-1) != 0 || clampRatio(2) != 1 || clampRatio(0.25) != 0.25 {
		t.Fatalf("clampRatio out of bounds")
	}
}
