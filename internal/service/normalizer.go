package service

import (
	"time"

	"github.com/RubachokBoss/proctoring-pipeline/internal/models"
	"github.com/RubachokBoss/proctoring-pipeline/internal/service/gaze"
)

// Normalizer maps analyzer results onto the universal event schema.
type Normalizer struct {
	now func() time.Time
}

func NewNormalizer(now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{now: now}
}

func (n *Normalizer) Normalize(source models.Source, meta models.JobMeta, res models.AnalysisResult) models.UniversalEvent {
	details := res.Details
	if details == nil {
		details = map[string]any{}
	}
	return models.UniversalEvent{
		Timestamp: n.now().UTC(),
		UserID:    meta.StudentID,
		SessionID: meta.SessionID,
		Source:    source,
		Severity:  SeverityFor(source, res.Status),
		EventType: res.Reason,
		Details:   details,
	}
}

// SeverityFor applies the per-source severity table.
func SeverityFor(source models.Source, status string) models.Severity {
	switch source {
	case models.SourceAudio:
		if status == string(models.IntentSuspicious) {
			return models.SeverityCritical
		}
	case models.SourceVision:
		switch models.VisionStatus(status) {
		case models.VisionCheatingSuspected:
			return models.SeverityCritical
		case models.VisionDistracted:
			return models.SeverityWarning
		}
	case models.SourceGaze:
		if status == gaze.StatusAlert {
			return models.SeverityWarning
		}
	}
	return models.SeverityInfo
}
