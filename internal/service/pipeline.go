package service

import (
	"context"
	"fmt"
)

const (
	ModalityAudio  = "audio"
	ModalityVision = "vision"
	ModalityGaze   = "gaze"
)

var Modalities = []string{ModalityAudio, ModalityVision, ModalityGaze}

// Pipeline turns one raw job body into a verdict. Anticipated outcomes,
// including bad media, are verdicts; anything else is an error.
type Pipeline interface {
	Modality() string
	Process(ctx context.Context, body []byte) (Verdict, error)
}

func ValidateModality(m string) error {
	for _, known := range Modalities {
		if m == known {
			return nil
		}
	}
	return fmt.Errorf("unknown modality %q, expected one of %v", m, Modalities)
}
