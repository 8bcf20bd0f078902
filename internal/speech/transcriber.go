// Package speech turns recorded call audio into text.
package speech

import (
	"context"
	"errors"
)

// AudioRef points at a provider-hosted recording.
type AudioRef struct {
	URL string
	SID string
}

// Transcriber converts a recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, ref AudioRef) (string, error)
}

// ErrEmptyAudio is returned when a recording carries no speech.
var ErrEmptyAudio = errors.New("speech: empty audio")
