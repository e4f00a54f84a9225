package models

import (
	"fmt"
	"time"
)

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// IsAlert reports whether the severity should surface on the dashboard.
func (s Severity) IsAlert() bool {
	return s == SeverityWarning || s == SeverityCritical
}

type Source string

const (
	SourceAudio  Source = "audio_nlp"
	SourceVision Source = "yolo_vision"
	SourceGaze   Source = "gaze_tracker"
)

// UniversalEvent is the one schema every modality emits into the session log.
type UniversalEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	UserID    string         `json:"userId"`
	SessionID string         `json:"sessionId"`
	Source    Source         `json:"source"`
	Severity  Severity       `json:"severity"`
	EventType string         `json:"event_type"`
	Details   map[string]any `json:"details"`
}

// SessionLogKey is the event log key for one (session, student) pair.
func SessionLogKey(sessionID, studentID string) string {
	return fmt.Sprintf("proctoring:session_%s:user_%s", sessionID, studentID)
}
