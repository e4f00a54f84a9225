package models

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrNoFace            = errors.New("no face detected")
	ErrInvalidImage      = errors.New("invalid image")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrMediaUnavailable  = errors.New("media unavailable")
	ErrUndecodable       = errors.New("media could not be decoded")
)
