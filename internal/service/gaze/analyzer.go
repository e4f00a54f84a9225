package gaze

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/RubachokBoss/proctoring-pipeline/internal/models"
	"github.com/RubachokBoss/proctoring-pipeline/internal/service/preprocess"
)

const (
	StatusInsufficientData = "insufficient_data"
	StatusTooMuchNoise     = "too_much_noise"
	StatusAlert            = "alert"
	StatusNormal           = "normal"

	ReasonProlongedLookAway  = "prolonged_look_away"
	ReasonFrequentLookAway   = "frequent_look_away"
	ReasonSecondaryAttention = "sustained_secondary_attention"
	ReasonErraticBehavior    = "erratic_behavior"
	ReasonFocused            = "focused"
)

type Config struct {
	MinPoints           int
	MaxJump             float64
	ScreenBound         float64
	MaxLookAwayRun      int
	MaxLookAwayRatio    float64
	ClusterEps          float64
	ClusterMinPoints    int
	SecondaryClusterMax float64
	MaxOutlierRatio     float64
}

func DefaultConfig() Config {
	return Config{
		MinPoints:           15,
		MaxJump:             0.5,
		ScreenBound:         1.0,
		MaxLookAwayRun:      15,
		MaxLookAwayRatio:    0.4,
		ClusterEps:          0.3,
		ClusterMinPoints:    5,
		SecondaryClusterMax: 0.20,
		MaxOutlierRatio:     0.25,
	}
}

type OutlierDetector interface {
	FitPredict(points []models.GazePoint) []bool
}

type Analyzer struct {
	cfg      Config
	outliers OutlierDetector
}

func NewAnalyzer(cfg Config, outliers OutlierDetector) *Analyzer {
	return &Analyzer{cfg: cfg, outliers: outliers}
}

// ParseContamination accepts a fraction such as "0.2" or "auto".
func ParseContamination(v string) (float64, error) {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "auto" {
		return ContaminationAuto, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid contamination %q: %w", v, err)
	}
	if f <= 0 || f > 0.5 {
		return 0, fmt.Errorf("contamination %v out of range (0, 0.5]", f)
	}
	return f, nil
}

// Analyze classifies a gaze buffer. Rules run in fixed priority and the
// first match wins.
func (a *Analyzer) Analyze(buffer []models.GazePoint) models.AnalysisResult {
	if len(buffer) < a.cfg.MinPoints {
		return result(StatusInsufficientData, StatusInsufficientData,
			fmt.Sprintf("need at least %d frames, got %d", a.cfg.MinPoints, len(buffer)))
	}

	clean := preprocess.FilterGazeNoise(buffer, a.cfg.MaxJump)
	if len(clean) < a.cfg.MinPoints {
		return result(StatusTooMuchNoise, StatusTooMuchNoise,
			fmt.Sprintf("%d of %d frames survived the jump filter", len(clean), len(buffer)))
	}

	run, ratio := a.lookAway(clean)
	if run > a.cfg.MaxLookAwayRun {
		return result(StatusAlert, ReasonProlongedLookAway,
			fmt.Sprintf("gaze off screen for %d consecutive frames", run))
	}
	if ratio > a.cfg.MaxLookAwayRatio {
		return result(StatusAlert, ReasonFrequentLookAway,
			fmt.Sprintf("gaze off screen in %.0f%% of frames", ratio*100))
	}

	if share, ok := a.secondaryShare(clean); ok && share > a.cfg.SecondaryClusterMax {
		return result(StatusAlert, ReasonSecondaryAttention,
			fmt.Sprintf("secondary focus area held %.0f%% of frames", share*100))
	}

	if a.outliers != nil {
		flags := a.outliers.FitPredict(clean)
		var flagged int
		for _, f := range flags {
			if f {
				flagged++
			}
		}
		outlierRatio := float64(flagged) / float64(len(clean))
		if outlierRatio > a.cfg.MaxOutlierRatio {
			pct := int(math.Round(outlierRatio * 100))
			res := result(StatusAlert, ReasonErraticBehavior,
				fmt.Sprintf("unstable gaze, %d%% of movements are anomalous", pct))
			res.Details["outlier_percentage"] = pct
			return res
		}
	}

	return result(StatusNormal, ReasonFocused, "student keeps attention on screen")
}

func (a *Analyzer) lookAway(points []models.GazePoint) (longest int, ratio float64) {
	var current, total int
	for _, p := range points {
		if math.Abs(p.X) > a.cfg.ScreenBound || math.Abs(p.Y) > a.cfg.ScreenBound {
			current++
			total++
			longest = max(longest, current)
		} else {
			current = 0
		}
	}
	return longest, float64(total) / float64(len(points))
}

// secondaryShare returns the second largest cluster's share of all points,
// and false when fewer than two clusters form.
func (a *Analyzer) secondaryShare(points []models.GazePoint) (float64, bool) {
	sizes := ClusterSizes(DBSCAN(points, a.cfg.ClusterEps, a.cfg.ClusterMinPoints))
	if len(sizes) < 2 {
		return 0, false
	}
	counts := make([]int, 0, len(sizes))
	for _, c := range sizes {
		counts = append(counts, c)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(counts)))
	return float64(counts[1]) / float64(len(points)), true
}

func result(status, reason, description string) models.AnalysisResult {
	return models.AnalysisResult{
		Status:  status,
		Reason:  reason,
		Details: map[string]any{"description": description},
	}
}

// Actionable reports whether a result should become an event.
func Actionable(r models.AnalysisResult) bool {
	return r.Status == StatusAlert || r.Status == StatusNormal
}
