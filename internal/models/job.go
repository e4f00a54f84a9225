package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

var ErrInvalidJob = errors.New("invalid job")

// JobMeta identifies who a job belongs to. Every modality job carries it.
type JobMeta struct {
	StudentID string `json:"student_id"`
	SessionID string `json:"session_id"`
}

func (m JobMeta) validate() error {
	if strings.TrimSpace(m.StudentID) == "" {
		return invalidField("student_id", "is required")
	}
	if strings.TrimSpace(m.SessionID) == "" {
		return invalidField("session_id", "is required")
	}
	return nil
}

type AudioJob struct {
	JobMeta
	AudioURL   string `json:"audio_url"`
	ChunkIndex int    `json:"chunk_index"`
}

func (j AudioJob) Validate() error {
	if err := j.JobMeta.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(j.AudioURL) == "" {
		return invalidField("audio_url", "is required")
	}
	if j.ChunkIndex < 0 {
		return invalidField("chunk_index", "must not be negative")
	}
	return nil
}

type VisionJob struct {
	JobMeta
	ImageURL string `json:"image_url"`
}

func (j VisionJob) Validate() error {
	if err := j.JobMeta.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(j.ImageURL) == "" {
		return invalidField("image_url", "is required")
	}
	return nil
}

// GazePoint is a screen-normalized coordinate, roughly [-1,1] on each axis.
type GazePoint struct {
	X float64
	Y float64
}

func (p GazePoint) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.X, p.Y})
}

func (p *GazePoint) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("gaze point must be an [x, y] pair: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("gaze point must have exactly 2 coordinates, got %d", len(pair))
	}
	p.X, p.Y = pair[0], pair[1]
	return nil
}

type GazeJob struct {
	JobMeta
	GazeBuffer []GazePoint `json:"gaze_buffer"`
}

func (j GazeJob) Validate() error {
	if err := j.JobMeta.validate(); err != nil {
		return err
	}
	if j.GazeBuffer == nil {
		return invalidField("gaze_buffer", "is required")
	}
	for i, p := range j.GazeBuffer {
		if !finite(p.X) || !finite(p.Y) {
			return invalidField(fmt.Sprintf("gaze_buffer[%d]", i), "must be finite")
		}
	}
	return nil
}

func DecodeAudioJob(body []byte) (AudioJob, error) {
	var job AudioJob
	if err := decodeJob(body, &job); err != nil {
		return job, err
	}
	return job, job.Validate()
}

func DecodeVisionJob(body []byte) (VisionJob, error) {
	var job VisionJob
	if err := decodeJob(body, &job); err != nil {
		return job, err
	}
	return job, job.Validate()
}

func DecodeGazeJob(body []byte) (GazeJob, error) {
	var job GazeJob
	if err := decodeJob(body, &job); err != nil {
		return job, err
	}
	return job, job.Validate()
}

func decodeJob(body []byte, dst any) error {
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	return nil
}

func invalidField(field, problem string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidJob, field, problem)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
