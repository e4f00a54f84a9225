package gaze

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/RubachokBoss/proctoring-pipeline/internal/models"
)

const eulerGamma = 0.5772156649015329

// ContaminationAuto selects the fixed 0.5 score boundary instead of a
// percentile offset.
const ContaminationAuto = -1.0

type ForestConfig struct {
	Trees       int
	SampleLimit int
	// Contamination is the expected outlier fraction in (0, 0.5], or
	// ContaminationAuto.
	Contamination float64
	Seed          uint64
}

// IsolationForest flags points that random axis-aligned splits isolate
// quickly. It is refit on every call.
type IsolationForest struct {
	cfg ForestConfig
}

func NewIsolationForest(cfg ForestConfig) *IsolationForest {
	if cfg.Trees <= 0 {
		cfg.Trees = 100
	}
	if cfg.SampleLimit <= 0 {
		cfg.SampleLimit = 256
	}
	return &IsolationForest{cfg: cfg}
}

type iNode struct {
	feature     int
	split       float64
	left, right *iNode
	size        int
}

func (n *iNode) leaf() bool { return n.left == nil }

// Scores returns the anomaly score 2^(-E[h(x)]/c(psi)) for every point.
// Higher means more anomalous.
func (f *IsolationForest) Scores(points []models.GazePoint) []float64 {
	n := len(points)
	scores := make([]float64, n)
	if n == 0 {
		return scores
	}

	psi := min(f.cfg.SampleLimit, n)
	maxDepth := int(math.Ceil(math.Log2(float64(max(psi, 2)))))
	rng := rand.New(rand.NewPCG(f.cfg.Seed, 0))

	data := make([][2]float64, n)
	for i, p := range points {
		data[i] = [2]float64{p.X, p.Y}
	}

	depths := make([]float64, n)
	for t := 0; t < f.cfg.Trees; t++ {
		sample := rng.Perm(n)[:psi]
		rows := make([][2]float64, psi)
		for i, idx := range sample {
			rows[i] = data[idx]
		}
		root := buildTree(rows, 0, maxDepth, rng)
		for i := range data {
			depths[i] += pathLength(root, data[i], 0)
		}
	}

	norm := averagePathLength(psi)
	for i := range scores {
		mean := depths[i] / float64(f.cfg.Trees)
		if norm == 0 {
			scores[i] = 0.5
			continue
		}
		scores[i] = math.Pow(2, -mean/norm)
	}
	return scores
}

// FitPredict returns true for each point classified as an outlier.
func (f *IsolationForest) FitPredict(points []models.GazePoint) []bool {
	scores := f.Scores(points)
	threshold := 0.5
	if f.cfg.Contamination != ContaminationAuto {
		threshold = percentile(scores, 100*(1-f.cfg.Contamination))
	}

	flags := make([]bool, len(scores))
	for i, s := range scores {
		flags[i] = s > threshold
	}
	return flags
}

func buildTree(rows [][2]float64, depth, maxDepth int, rng *rand.Rand) *iNode {
	if depth >= maxDepth || len(rows) <= 1 {
		return &iNode{size: len(rows)}
	}

	lo, hi := rows[0], rows[0]
	for _, r := range rows[1:] {
		for k := 0; k < 2; k++ {
			lo[k] = math.Min(lo[k], r[k])
			hi[k] = math.Max(hi[k], r[k])
		}
	}

	var candidates []int
	for k := 0; k < 2; k++ {
		if hi[k] > lo[k] {
			candidates = append(candidates, k)
		}
	}
	if len(candidates) == 0 {
		return &iNode{size: len(rows)}
	}

	feature := candidates[rng.IntN(len(candidates))]
	split := lo[feature] + rng.Float64()*(hi[feature]-lo[feature])

	var left, right [][2]float64
	for _, r := range rows {
		if r[feature] < split {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}

	return &iNode{
		feature: feature,
		split:   split,
		left:    buildTree(left, depth+1, maxDepth, rng),
		right:   buildTree(right, depth+1, maxDepth, rng),
		size:    len(rows),
	}
}

func pathLength(n *iNode, x [2]float64, depth int) float64 {
	if n.leaf() {
		return float64(depth) + averagePathLength(n.size)
	}
	if x[n.feature] < n.split {
		return pathLength(n.left, x, depth+1)
	}
	return pathLength(n.right, x, depth+1)
}

// averagePathLength is c(n), the mean unsuccessful search length in a BST.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	m := float64(n - 1)
	harmonic := math.Log(m) + eulerGamma
	return 2*harmonic - 2*m/float64(n)
}

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	pos := q / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower < 0 {
		lower = 0
	}
	if upper >= len(sorted) {
		upper = len(sorted) - 1
	}
	frac := pos - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}
