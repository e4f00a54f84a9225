package vision

import (
	"fmt"
	"math"
	"strings"

	"github.com/RubachokBoss/proctoring-pipeline/internal/models"
)

const (
	FlagPhoneDetected   = "Celular detectado"
	FlagUserAbsent      = "Usuario ausente"
	FlagMultiplePersons = "Multiples personas detectadas"

	EventFocused = "focused_person"
)

const (
	phoneWeight    = 1.0
	absentWeight   = 0.6
	multipleWeight = 0.9
)

type Assessment struct {
	Status  models.VisionStatus
	Score   float64
	Flags   []string
	Persons int
	Phones  int
}

// Evaluate scores one frame. Rules are additive; the score is capped at 1.
func Evaluate(c models.ObjectCounts) Assessment {
	a := Assessment{Status: models.VisionFocused, Persons: c.Persons, Phones: c.Phones}
	var score float64

	if c.Phones > 0 {
		score += phoneWeight
		a.Status = models.VisionCheatingSuspected
		a.Flags = append(a.Flags, FlagPhoneDetected)
	}

	switch {
	case c.Persons == 0:
		score += absentWeight
		if a.Status != models.VisionCheatingSuspected {
			a.Status = models.VisionDistracted
		}
		a.Flags = append(a.Flags, FlagUserAbsent)
	case c.Persons > 1:
		score += multipleWeight
		a.Status = models.VisionCheatingSuspected
		a.Flags = append(a.Flags, FlagMultiplePersons)
	}

	a.Score = math.Min(1.0, score)
	return a
}

func (a Assessment) EventType() string {
	if len(a.Flags) == 0 {
		return EventFocused
	}
	return strings.Join(a.Flags, ", ")
}

func (a Assessment) Result() models.AnalysisResult {
	score := math.Round(a.Score*100) / 100
	return models.AnalysisResult{
		Status: string(a.Status),
		Score:  models.Float64(score),
		Reason: a.EventType(),
		Details: map[string]any{
			"description":      fmt.Sprintf("object detection completed, score %.2f", score),
			"persons_detected": a.Persons,
			"phones_detected":  a.Phones,
			"suspicion_score":  score,
		},
	}
}
