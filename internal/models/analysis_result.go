package models

import (
	"time"
)

// AnalysisResult is produced fresh per job and never persisted as is.
type AnalysisResult struct {
	Status  string         `json:"status"`
	Score   *float64       `json:"score,omitempty"`
	Reason  string         `json:"reason"`
	Details map[string]any `json:"details,omitempty"`
}

type IntentCategory string

const (
	IntentSuspicious IntentCategory = "SUSPICIOUS"
	IntentDomestic   IntentCategory = "DOMESTIC"
	IntentNeutral    IntentCategory = "NEUTRAL"
)

type Intent struct {
	Category IntentCategory `json:"category"`
	Score    float64        `json:"score"`
	Flagged  bool           `json:"flagged"`
}

type VisionStatus string

const (
	VisionFocused           VisionStatus = "FOCUSED"
	VisionDistracted        VisionStatus = "DISTRACTED"
	VisionCheatingSuspected VisionStatus = "CHEATING_SUSPECTED"
)

type BiometricRecord struct {
	UserID    string    `json:"user_id"`
	Embedding []float64 `json:"embedding"`
	UpdatedAt time.Time `json:"updated_at"`
}

type MatchResult struct {
	Match    bool    `json:"match"`
	Distance float64 `json:"distance"`
}

// Float64 returns a pointer to v, for optional scores.
func Float64(v float64) *float64 {
	return &v
}

// ObjectCounts is what the object detector reports for one frame.
type ObjectCounts struct {
	Persons int `json:"persons"`
	Phones  int `json:"phones"`
}
