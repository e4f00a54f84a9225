package gaze

import (
	"math"
	"testing"

	"github.com/RubachokBoss/proctoring-pipeline/internal/models"
)

// ringAndCluster returns 200 identical points at the origin followed by 20
// points spread on a circle of radius 5.
func ringAndCluster() []models.GazePoint {
	points := repeat(models.GazePoint{}, 200)
	for i := 0; i < 20; i++ {
		angle := 2 * math.Pi * float64(i) / 20
		points = append(points, models.GazePoint{X: 5 * math.Cos(angle), Y: 5 * math.Sin(angle)})
	}
	return points
}

func TestIsolationForest_ScoresIsolatedPointsHigher(t *testing.T) {
	f := NewIsolationForest(ForestConfig{Trees: 100, SampleLimit: 256, Contamination: 0.2, Seed: 42})
	scores := f.Scores(ringAndCluster())

	if scores[0] >= 0.5 {
		t.Fatalf("dense cluster score = %.3f, want < 0.5", scores[0])
	}
	for i := 200; i < 220; i++ {
		if scores[i] <= 0.5 {
			t.Fatalf("isolated point %d score = %.3f, want > 0.5", i, scores[i])
		}
	}
}

func TestIsolationForest_Deterministic(t *testing.T) {
	f := NewIsolationForest(ForestConfig{Trees: 50, SampleLimit: 64, Contamination: 0.2, Seed: 42})
	a := f.Scores(ringAndCluster())
	b := f.Scores(ringAndCluster())
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("score %d differs between runs: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestIsolationForest_FitPredict(t *testing.T) {
	points := ringAndCluster()
	count := func(flags []bool) (cluster, ring int) {
		for i, f := range flags {
			if !f {
				continue
			}
			if i < 200 {
				cluster++
			} else {
				ring++
			}
		}
		return cluster, ring
	}

	pct := NewIsolationForest(ForestConfig{Trees: 100, Contamination: 0.2, Seed: 42})
	cluster, ring := count(pct.FitPredict(points))
	if cluster != 0 || ring != 20 {
		t.Fatalf("percentile offset: flagged cluster=%d ring=%d, want 0 and 20", cluster, ring)
	}

	auto := NewIsolationForest(ForestConfig{Trees: 100, Contamination: ContaminationAuto, Seed: 42})
	cluster, ring = count(auto.FitPredict(points))
	if cluster != 0 || ring != 20 {
		t.Fatalf("auto offset: flagged cluster=%d ring=%d, want 0 and 20", cluster, ring)
	}
}

func TestAveragePathLength(t *testing.T) {
	if averagePathLength(1) != 0 || averagePathLength(2) != 1 {
		t.Fatalf("unexpected base cases")
	}
	// c(256) is about 10.24.
	if got := averagePathLength(256); math.Abs(got-10.24) > 0.01 {
		t.Fatalf("c(256) = %.4f", got)
	}
}

func TestPercentile(t *testing.T) {
	if got := percentile([]float64{4, 1, 3, 2}, 50); got != 2.5 {
		t.Fatalf("median = %v, want 2.5", got)
	}
	if got := percentile([]float64{1, 2, 3, 4, 5}, 80); math.Abs(got-4.2) > 1e-12 {
		t.Fatalf("p80 = %v, want 4.2", got)
	}
}
