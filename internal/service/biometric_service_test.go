package service

import (
	"context"
	"errors"
	"testing"

	"github.com/RubachokBoss/proctoring-pipeline/internal/models"
	"github.com/RubachokBoss/proctoring-pipeline/internal/repository"
	"github.com/rs/zerolog"
)

type fakeFaces struct {
	byImage map[string][]float64
	calls   int
}

func (f *fakeFaces) EmbedFace(_ context.Context, image []byte) ([]float64, error) {
	f.calls++
	switch string(image) {
	case "blank":
		return nil, models.ErrNoFace
	case "garbage":
		return nil, models.ErrInvalidImage
	}
	return f.byImage[string(image)], nil
}

func newTestBiometric(faces FaceEmbedder) BiometricService {
	return NewBiometricService(repository.NewMemoryBiometricRepository(), faces, DefaultMatchThreshold, zerolog.Nop())
}

func TestBiometric_SelfMatch(t *testing.T) {
	ctx := context.Background()
	svc := newTestBiometric(nil)
	emb := []float64{0.12, -0.4, 0.9, 0.33}

	if err := svc.Register(ctx, "ana", emb); err != nil {
		t.Fatalf("Register: %v", err)
	}
	res, err := svc.Validate(ctx, "ana", emb)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !res.Match || res.Distance != 0 {
		t.Fatalf("expected exact match, got %+v", res)
	}
}

func TestBiometric_UnknownUser(t *testing.T) {
	svc := newTestBiometric(nil)
	if _, err := svc.Validate(context.Background(), "ghost", []float64{1}); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBiometric_ThresholdIsStrict(t *testing.T) {
	ctx := context.Background()
	svc := newTestBiometric(nil)
	_ = svc.Register(ctx, "ana", []float64{0, 0})

	res, _ := svc.Validate(ctx, "ana", []float64{0.5, 0})
	if res.Match {
		t.Fatalf("distance equal to threshold must not match: %+v", res)
	}
	res, _ = svc.Validate(ctx, "ana", []float64{0.3, 0.39})
	if !res.Match {
		t.Fatalf("distance below threshold must match: %+v", res)
	}
}

func TestBiometric_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	svc := newTestBiometric(nil)
	_ = svc.Register(ctx, "ana", []float64{0, 0})
	_ = svc.Register(ctx, "ana", []float64{5, 5})

	res, _ := svc.Validate(ctx, "ana", []float64{5, 5})
	if !res.Match {
		t.Fatalf("re-registration should replace the stored embedding")
	}
}

func TestBiometric_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	svc := newTestBiometric(nil)
	_ = svc.Register(ctx, "ana", []float64{0, 0})
	if _, err := svc.Validate(ctx, "ana", []float64{0, 0, 0}); !errors.Is(err, models.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if err := svc.Register(ctx, "bob", nil); !errors.Is(err, models.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch for empty embedding, got %v", err)
	}
}

func TestBiometric_Images(t *testing.T) {
	ctx := context.Background()
	faces := &fakeFaces{byImage: map[string][]float64{
		"ana-1": {0.1, 0.1},
		"ana-2": {0.1, 0.2},
		"bob":   {0.9, 0.9},
	}}
	svc := newTestBiometric(faces)

	if err := svc.RegisterImage(ctx, "ana", []byte("ana-1")); err != nil {
		t.Fatalf("RegisterImage: %v", err)
	}
	if err := svc.RegisterImage(ctx, "ana", []byte("blank")); !errors.Is(err, models.ErrNoFace) {
		t.Fatalf("expected ErrNoFace, got %v", err)
	}

	res, err := svc.ValidateImage(ctx, "ana", []byte("ana-2"))
	if err != nil || !res.Match {
		t.Fatalf("expected match, got %+v, %v", res, err)
	}
	res, err = svc.ValidateImage(ctx, "ana", []byte("bob"))
	if err != nil || res.Match {
		t.Fatalf("expected mismatch, got %+v, %v", res, err)
	}
	if _, err := svc.ValidateImage(ctx, "ana", []byte("garbage")); !errors.Is(err, models.ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage, got %v", err)
	}

	calls := faces.calls
	if _, err := svc.ValidateImage(ctx, "ghost", []byte("ana-2")); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if faces.calls != calls {
		t.Fatalf("unknown user must be rejected before the image is embedded")
	}
}
