package service

import (
	"github.com/RubachokBoss/proctoring-pipeline/internal/models"
)

type VerdictKind int

const (
	// VerdictDrop completes the job without an event.
	VerdictDrop VerdictKind = iota
	// VerdictEmit completes the job with one event.
	VerdictEmit
)

func (k VerdictKind) String() string {
	if k == VerdictEmit {
		return "emit"
	}
	return "drop"
}

// Verdict is the outcome of every anticipated path through a pipeline.
// Unanticipated failures are returned as errors instead.
type Verdict struct {
	Kind   VerdictKind
	Reason string
	Meta   models.JobMeta
	Event  *models.UniversalEvent
}

func Drop(meta models.JobMeta, reason string) Verdict {
	return Verdict{Kind: VerdictDrop, Reason: reason, Meta: meta}
}

func Emit(event models.UniversalEvent) Verdict {
	return Verdict{
		Kind:   VerdictEmit,
		Reason: event.EventType,
		Meta:   models.JobMeta{StudentID: event.UserID, SessionID: event.SessionID},
		Event:  &event,
	}
}

// Drop reasons.
const (
	DropMediaUnavailable = "media_unavailable"
	DropUndecodable      = "undecodable"
	DropSilence          = "silence"
	DropNoSpeech         = "no_speech"
	DropInvalidImage     = "invalid_image"
)
