package semantic

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/RubachokBoss/proctoring-pipeline/internal/models"
)

const DefaultThreshold = 0.55

type Classifier struct {
	refs      *ReferenceSet
	embedder  Embedder
	threshold float64
}

func NewClassifier(refs *ReferenceSet, embedder Embedder, threshold float64) *Classifier {
	return &Classifier{refs: refs, embedder: embedder, threshold: threshold}
}

// Classify maps a transcript to an intent. Transcripts shorter than two words
// are neutral and are never embedded.
func (c *Classifier) Classify(ctx context.Context, transcript string) (models.Intent, error) {
	if len(strings.Fields(transcript)) < 2 {
		return models.Intent{Category: models.IntentNeutral}, nil
	}

	vec, err := c.embedder.Embed(ctx, transcript)
	if err != nil {
		return models.Intent{}, fmt.Errorf("failed to embed transcript: %w", err)
	}

	return c.decide(maxSimilarity(vec, c.refs.Suspicious), maxSimilarity(vec, c.refs.Domestic)), nil
}

func (c *Classifier) decide(suspicious, domestic float64) models.Intent {
	if suspicious > c.threshold && suspicious > domestic {
		return models.Intent{Category: models.IntentSuspicious, Score: suspicious, Flagged: true}
	}
	if domestic > c.threshold {
		return models.Intent{Category: models.IntentDomestic, Score: domestic}
	}
	return models.Intent{Category: models.IntentNeutral}
}

// maxSimilarity returns -1 for an empty set.
func maxSimilarity(vec []float32, set [][]float32) float64 {
	best := -1.0
	for _, ref := range set {
		if s := Cosine(vec, ref); s > best {
			best = s
		}
	}
	return best
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a zero
// vector or their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
