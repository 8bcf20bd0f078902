package dialogue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/acme/voice-interview/internal/decision"
	"github.com/acme/voice-interview/internal/domain"
	"github.com/acme/voice-interview/internal/queue"
	apperrors "github.com/acme/voice-interview/pkg/errors"
)

// transition mutates s for one voice webhook and returns the instruction
// to issue. It never writes; the caller persists s.
func (e *Engine) transition(ctx context.Context, s *domain.CallSession, evt domain.Event, now time.Time) (domain.Instruction, []queue.TranscriptionJob, error) {
	if evt.MachineAnswered() {
		return e.toVoicemail(s, now)
	}

	switch s.Phase {
	case domain.PhaseInitial:
		return e.greet(s, now)
	case domain.PhaseAwaitingConsent:
		return e.onConsent(ctx, s, evt, now)
	case domain.PhaseAskingQuestion:
		return e.onAnswer(ctx, s, evt, now)
	case domain.PhaseAwaitingRescheduleTime:
		return e.onRescheduleTime(ctx, s, evt, now)
	default:
		return e.hangup("goodbye", e.cfg.Prompts.Goodbye), nil, nil
	}
}

// toVoicemail ends the call on machine detection. A rescheduled session is
// already terminal and keeps its status; only the time request is dropped.
func (e *Engine) toVoicemail(s *domain.CallSession, now time.Time) (domain.Instruction, []queue.TranscriptionJob, error) {
	if s.Status != domain.SessionStatusRescheduled {
		if err := s.SetStatus(domain.SessionStatusVoicemail, now); err != nil {
			return domain.Instruction{}, nil, fmt.Errorf("dialogue: voicemail: %w: %w", apperrors.ErrInvalidState, err)
		}
	}
	s.Phase = domain.PhaseDone
	return e.hangup("voicemail", e.cfg.Prompts.Voicemail), nil, nil
}

func (e *Engine) greet(s *domain.CallSession, now time.Time) (domain.Instruction, []queue.TranscriptionJob, error) {
	if err := s.SetStatus(domain.SessionStatusInProgress, now); err != nil {
		return domain.Instruction{}, nil, fmt.Errorf("dialogue: greet: %w: %w", apperrors.ErrInvalidState, err)
	}
	s.Phase = domain.PhaseAwaitingConsent
	s.ConsentAttempts = 0
	return e.ask("greeting", e.cfg.Prompts.Greeting), nil, nil
}

func (e *Engine) onConsent(ctx context.Context, s *domain.CallSession, evt domain.Event, now time.Time) (domain.Instruction, []queue.TranscriptionJob, error) {
	text, _ := e.utterance(ctx, s, evt, true)

	result := decision.Unknown
	if !e.unclear(text) {
		result = e.classify(ctx, s, []domain.Exchange{{Question: e.cfg.Prompts.Greeting, Answer: text}}, decision.ConsentSchema)
	}

	switch result.Action {
	case domain.ActionNext:
		s.Consent = domain.ConsentGranted
		s.Cursor = 0
		s.Reprompts = 0
		return e.askOrComplete(ctx, s, now)
	case domain.ActionEnd:
		s.Consent = domain.ConsentDenied
		return e.finish(s, domain.SessionStatusCompleted, "closing", e.cfg.Prompts.Closing, now)
	case domain.ActionReschedule:
		return e.toReschedule(s, now)
	case domain.ActionRepeat:
		return e.ask("greeting", e.cfg.Prompts.Greeting), nil, nil
	case domain.ActionClarify:
		return e.ask("consent-clarify", joinPrompt(result.Message, e.cfg.Prompts.ConsentReprompt)), nil, nil
	default:
		s.ConsentAttempts++
		if s.ConsentAttempts >= e.cfg.MaxConsentAttempts {
			s.ConsentAttempts = e.cfg.MaxConsentAttempts
			s.Consent = domain.ConsentDenied
			return e.finish(s, domain.SessionStatusCompleted, "denial", e.cfg.Prompts.Denial, now)
		}
		return e.ask("consent-reprompt", e.cfg.Prompts.ConsentReprompt), nil, nil
	}
}

func (e *Engine) onAnswer(ctx context.Context, s *domain.CallSession, evt domain.Event, now time.Time) (domain.Instruction, []queue.TranscriptionJob, error) {
	questions, err := e.questions(ctx, s.Role)
	if err != nil {
		return domain.Instruction{}, nil, err
	}
	if s.Cursor >= len(questions) {
		return e.finish(s, domain.SessionStatusCompleted, "closing", e.cfg.Prompts.Closing, now)
	}
	q := questions[s.Cursor]

	// without a transcription queue the answer is transcribed inline
	needText := e.cfg.AdaptiveAnswers || e.deps.Transcriptions == nil
	text, recording := e.utterance(ctx, s, evt, needText)
	if (text == "" && recording == "") || e.unclearPhrase(text) {
		return e.reprompt(s, q, now)
	}

	if e.cfg.AdaptiveAnswers {
		if text == "" {
			return e.reprompt(s, q, now)
		}
		history := append(e.history(s, questions), domain.Exchange{Question: q.Text, Answer: text})
		result := e.classify(ctx, s, history, decision.AnswerSchema)
		switch result.Action {
		case domain.ActionNext:
		case domain.ActionRepeat:
			return e.askQuestion(q), nil, nil
		case domain.ActionClarify:
			return e.ask(questionKey(q)+"-clarify", joinPrompt(result.Message, q.Text)), nil, nil
		case domain.ActionReschedule:
			return e.toReschedule(s, now)
		case domain.ActionEnd:
			return e.finish(s, domain.SessionStatusCompleted, "closing", e.cfg.Prompts.Closing, now)
		default:
			return e.reprompt(s, q, now)
		}
	}

	answer := domain.Answer{
		QuestionID:   q.ID,
		Position:     q.Position,
		RecordingURL: recording,
		AnsweredAt:   now,
	}
	if text != "" {
		t := text
		answer.Transcript = &t
	}

	var jobs []queue.TranscriptionJob
	if s.AppendAnswer(answer) && answer.Transcript == nil && recording != "" {
		jobs = append(jobs, queue.TranscriptionJob{
			CallSID:      s.CallSID,
			QuestionID:   q.ID,
			RecordingURL: recording,
			RecordingSID: evt.RecordingSID,
			EnqueuedAt:   now,
		})
	}

	s.Cursor++
	s.Reprompts = 0
	if s.Cursor >= len(questions) {
		instr, _, err := e.finish(s, domain.SessionStatusCompleted, "closing", e.cfg.Prompts.Closing, now)
		return instr, jobs, err
	}
	return e.askQuestion(questions[s.Cursor]), jobs, nil
}

func (e *Engine) onRescheduleTime(ctx context.Context, s *domain.CallSession, evt domain.Event, now time.Time) (domain.Instruction, []queue.TranscriptionJob, error) {
	text, recording := e.utterance(ctx, s, evt, true)
	note := text
	if note == "" {
		note = recording
	}
	if note == "" {
		if s.Reprompts >= e.cfg.MaxReprompts {
			s.Phase = domain.PhaseDone
			return e.hangup("goodbye", e.cfg.Prompts.Goodbye), nil, nil
		}
		s.Reprompts++
		return e.ask("reschedule-request", e.cfg.Prompts.RescheduleRequest), nil, nil
	}
	s.RescheduleNote = note
	s.Reprompts = 0
	s.Phase = domain.PhaseDone
	return e.hangup("reschedule-confirm", e.cfg.Prompts.RescheduleConfirm), nil, nil
}

func (e *Engine) askOrComplete(ctx context.Context, s *domain.CallSession, now time.Time) (domain.Instruction, []queue.TranscriptionJob, error) {
	questions, err := e.questions(ctx, s.Role)
	if err != nil {
		return domain.Instruction{}, nil, err
	}
	if s.Cursor >= len(questions) {
		return e.finish(s, domain.SessionStatusCompleted, "closing", e.cfg.Prompts.Closing, now)
	}
	s.Phase = domain.PhaseAskingQuestion
	return e.askQuestion(questions[s.Cursor]), nil, nil
}

func (e *Engine) toReschedule(s *domain.CallSession, now time.Time) (domain.Instruction, []queue.TranscriptionJob, error) {
	if err := s.SetStatus(domain.SessionStatusRescheduled, now); err != nil {
		return domain.Instruction{}, nil, fmt.Errorf("dialogue: reschedule: %w: %w", apperrors.ErrInvalidState, err)
	}
	s.Phase = domain.PhaseAwaitingRescheduleTime
	s.Reprompts = 0
	return e.ask("reschedule-request", e.cfg.Prompts.RescheduleRequest), nil, nil
}

// reprompt asks the current question again, unchanged, until the
// re-prompt budget is spent.
func (e *Engine) reprompt(s *domain.CallSession, q domain.Question, now time.Time) (domain.Instruction, []queue.TranscriptionJob, error) {
	if s.Reprompts >= e.cfg.MaxReprompts {
		return e.finish(s, domain.SessionStatusFailed, "apology", e.cfg.Prompts.Apology, now)
	}
	s.Reprompts++
	return e.askQuestion(q), nil, nil
}

func (e *Engine) finish(s *domain.CallSession, status domain.SessionStatus, key, text string, now time.Time) (domain.Instruction, []queue.TranscriptionJob, error) {
	if err := s.SetStatus(status, now); err != nil {
		return domain.Instruction{}, nil, fmt.Errorf("dialogue: finish: %w: %w", apperrors.ErrInvalidState, err)
	}
	s.Phase = domain.PhaseDone
	return e.hangup(key, text), nil, nil
}

func (e *Engine) questions(ctx context.Context, role string) ([]domain.Question, error) {
	qs, err := e.deps.Questions.ListByRole(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("dialogue: questions for %s: %w: %w", role, apperrors.ErrPersistence, err)
	}
	return qs, nil
}

// history rebuilds the answered exchanges for the decision service.
func (e *Engine) history(s *domain.CallSession, questions []domain.Question) []domain.Exchange {
	byID := make(map[int64]string, len(questions))
	for _, q := range questions {
		byID[q.ID] = q.Text
	}
	out := make([]domain.Exchange, 0, len(s.Answers)+1)
	for _, a := range s.Answers {
		if a.Transcript == nil {
			continue
		}
		out = append(out, domain.Exchange{Question: byID[a.QuestionID], Answer: *a.Transcript})
	}
	return out
}

func (e *Engine) classify(ctx context.Context, s *domain.CallSession, history []domain.Exchange, schema decision.Schema) domain.DecisionResult {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.DecisionTimeout)
	defer cancel()

	result, err := e.deps.Decision.Classify(cctx, history, schema)
	if err != nil {
		e.logger.WithContext(ctx).Warn("dialogue: decision failed, treating as unknown",
			zap.String("call_sid", s.CallSID),
			zap.String("schema", schema.Name),
			zap.Error(err),
		)
		return decision.Unknown
	}
	if !schema.Allows(result.Action) {
		return decision.Unknown
	}
	if result.Action == domain.ActionClarify && strings.TrimSpace(result.Message) == "" {
		return decision.Unknown
	}
	return result
}

func (e *Engine) ask(key, text string) domain.Instruction {
	c := &domain.Capture{
		Mode:     e.cfg.CaptureMode,
		Language: e.cfg.Language,
		Timeout:  e.cfg.GatherTimeout,
	}
	if c.Mode == domain.CaptureRecord {
		c.Timeout = e.cfg.RecordingTimeout
		c.MaxLength = e.cfg.MaxRecordingLength
	}
	return domain.Instruction{Prompt: domain.Prompt{Key: key, Text: text}, Capture: c}
}

// askQuestion asks a catalog question. Its audio does not depend on the call,
// so it may come from the shared pre-generated artifact.
func (e *Engine) askQuestion(q domain.Question) domain.Instruction {
	instr := e.ask(questionKey(q), q.Text)
	instr.Prompt.Shared = true
	return instr
}

func (e *Engine) hangup(key, text string) domain.Instruction {
	return domain.Instruction{Prompt: domain.Prompt{Key: key, Text: text}, Hangup: true}
}

func questionKey(q domain.Question) string {
	return domain.QuestionPromptKey(q.ID)
}

func joinPrompt(first, second string) string {
	first = strings.TrimSpace(first)
	second = strings.TrimSpace(second)
	switch {
	case first == "":
		return second
	case second == "":
		return first
	}
	return first + " " + second
}
