package dialogue

import (
	"context"

	"github.com/acme/voice-interview/internal/domain"
	"github.com/acme/voice-interview/internal/queue"
)

// QuestionSource serves the ordered question set of a role.
type QuestionSource interface {
	ListByRole(ctx context.Context, role string) ([]domain.Question, error)
}

// CandidateLookup resolves the callee of a call the engine has not seen.
type CandidateLookup interface {
	GetByPhone(ctx context.Context, phone string) (*domain.Candidate, error)
}

// Narrator turns prompt text into a playable audio URL.
type Narrator interface {
	Synthesize(ctx context.Context, text, cacheKey string) (string, error)
}

// EventPublisher receives every persisted session change.
type EventPublisher interface {
	PublishTransition(ctx context.Context, evt queue.TransitionEvent) error
}

// TranscriptionQueue accepts recorded answers for background transcription.
type TranscriptionQueue interface {
	DispatchTranscription(ctx context.Context, job queue.TranscriptionJob) error
}

// Interrupter pushes an instruction into a live call.
type Interrupter interface {
	Interrupt(ctx context.Context, callSID string, instr domain.Instruction) error
}
