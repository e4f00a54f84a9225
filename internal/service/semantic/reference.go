// Package semantic classifies spoken transcripts by their similarity to two
// labelled reference phrase sets.
package semantic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Embedder turns text into dense vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ReferenceSet holds the precomputed suspicious and domestic vectors. It is
// built once at startup and never mutated.
type ReferenceSet struct {
	Suspicious [][]float32
	Domestic   [][]float32
}

type datasetEntry struct {
	Text  string `json:"text" yaml:"text"`
	Label string `json:"label" yaml:"label"`
}

type dataset struct {
	Dataset []datasetEntry `json:"dataset" yaml:"dataset"`
}

var (
	defaultSuspicious = []string{"pásame la respuesta", "busca en google"}
	defaultDomestic   = []string{"mamá cierra la puerta", "bájale a la música"}
)

// LoadReferenceSet reads the labelled phrase dataset (JSON or YAML) and embeds
// both sets. A missing file falls back to a small built-in set.
func LoadReferenceSet(ctx context.Context, path string, embedder Embedder, log zerolog.Logger) (*ReferenceSet, error) {
	suspicious, domestic, err := readPhrases(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Warn().Str("path", path).Msg("Reference dataset not found, using built-in phrases")
		suspicious, domestic = defaultSuspicious, defaultDomestic
	case err != nil:
		return nil, err
	}

	if len(suspicious) == 0 {
		log.Warn().Str("path", path).Msg("No suspicious reference phrases loaded, audio cheating detection is disabled")
	}

	log.Info().
		Int("suspicious", len(suspicious)).
		Int("domestic", len(domestic)).
		Msg("Embedding reference phrases")

	set := &ReferenceSet{}
	if set.Suspicious, err = embedAll(ctx, embedder, suspicious); err != nil {
		return nil, fmt.Errorf("failed to embed suspicious phrases: %w", err)
	}
	if set.Domestic, err = embedAll(ctx, embedder, domestic); err != nil {
		return nil, fmt.Errorf("failed to embed domestic phrases: %w", err)
	}
	return set, nil
}

func readPhrases(path string) (suspicious, domestic []string, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	var ds dataset
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &ds)
	default:
		err = json.Unmarshal(raw, &ds)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse reference dataset %s: %w", path, err)
	}

	for _, e := range ds.Dataset {
		text := strings.TrimSpace(e.Text)
		if text == "" {
			continue
		}
		switch strings.ToUpper(strings.TrimSpace(e.Label)) {
		case "SOSPECHOSO", "SUSPICIOUS":
			suspicious = append(suspicious, text)
		case "DOMESTICO", "DOMÉSTICO", "DOMESTIC":
			domestic = append(domestic, text)
		}
	}
	return suspicious, domestic, nil
}

func embedAll(ctx context.Context, embedder Embedder, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vecs))
	}
	return vecs, nil
}
