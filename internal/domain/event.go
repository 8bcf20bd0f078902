package domain

import (
	"strings"
	"time"
)

// Event is one inbound voice webhook.
type Event struct {
	CallSID           string
	CallStatus        string
	From              string
	To                string
	SpeechResult      string
	Confidence        float64
	RecordingURL      string
	RecordingSID      string
	RecordingDuration int
	AnsweredBy        string
	// Turn and Step come from the callback URL and are hints only.
	Turn int
	Step string
}

// MachineAnswered reports whether call analysis flagged an answering machine.
func (e Event) MachineAnswered() bool {
	return IsMachine(e.AnsweredBy)
}

// HasRecording reports whether the event references non-empty recorded audio.
func (e Event) HasRecording() bool {
	return e.RecordingURL != "" && e.RecordingDuration > 0
}

// IsMachine classifies the provider's AnsweredBy value.
func IsMachine(answeredBy string) bool {
	v := strings.ToLower(strings.TrimSpace(answeredBy))
	return strings.HasPrefix(v, "machine") || v == "fax"
}

// StatusEvent is a call-progress or async machine-detection callback.
type StatusEvent struct {
	CallSID    string
	CallStatus string
	AnsweredBy string
	Duration   int
	Timestamp  time.Time
}

// Provider call statuses reported on status callbacks.
const (
	ProviderStatusQueued     = "queued"
	ProviderStatusInitiated  = "initiated"
	ProviderStatusRinging    = "ringing"
	ProviderStatusInProgress = "in-progress"
	ProviderStatusCompleted  = "completed"
	ProviderStatusBusy       = "busy"
	ProviderStatusNoAnswer   = "no-answer"
	ProviderStatusFailed     = "failed"
	ProviderStatusCanceled   = "canceled"
)

// Ended reports whether the provider considers the call over.
func (e StatusEvent) Ended() bool {
	switch e.CallStatus {
	case ProviderStatusCompleted, ProviderStatusBusy, ProviderStatusNoAnswer, ProviderStatusFailed, ProviderStatusCanceled:
		return true
	}
	return false
}

// TranscriptUpdate carries the result of background transcription.
type TranscriptUpdate struct {
	CallSID    string
	QuestionID int64
	Transcript string
}
