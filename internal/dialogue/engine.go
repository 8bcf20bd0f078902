// Package dialogue drives one interview call from provider webhooks. Each
// webhook is turned into exactly one instruction and at most one write to the
// conversation store.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/voice-interview/internal/decision"
	"github.com/acme/voice-interview/internal/domain"
	"github.com/acme/voice-interview/internal/queue"
	"github.com/acme/voice-interview/internal/repository"
	"github.com/acme/voice-interview/internal/service/concurrency"
	"github.com/acme/voice-interview/internal/speech"
	apperrors "github.com/acme/voice-interview/pkg/errors"
	"github.com/acme/voice-interview/pkg/logger"
)

// Dependencies wires the engine to its collaborators. Store, Questions and
// Decision are required; the rest may be nil.
type Dependencies struct {
	Store          repository.SessionStore
	Questions      QuestionSource
	Candidates     CandidateLookup
	Decision       decision.Service
	Transcriber    speech.Transcriber
	Narrator       Narrator
	Events         EventPublisher
	Transcriptions TranscriptionQueue
	Dialer         Interrupter
	Locker         concurrency.Locker
	Clock          func() time.Time
}

// Engine is the call dialogue state machine.
type Engine struct {
	cfg     Config
	deps    Dependencies
	phrases map[string]struct{}
	logger  *logger.Logger
}

// New constructs an engine.
func New(cfg Config, deps Dependencies, lg *logger.Logger) *Engine {
	cfg.applyDefaults()
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Now().UTC() }
	}
	unclear := make(map[string]struct{}, len(cfg.UnclearPhrases))
	for _, p := range cfg.UnclearPhrases {
		if n := normalize(p); n != "" {
			unclear[n] = struct{}{}
		}
	}
	return &Engine{cfg: cfg, deps: deps, phrases: unclear, logger: lg.Named("dialogue")}
}

var tracer = otel.Tracer("interview.dialogue")

// outcome is the result of one attempt at applying a webhook.
type outcome struct {
	session *domain.CallSession
	instr   domain.Instruction
	replay  bool
	jobs    []queue.TranscriptionJob
}

// Handle applies one voice webhook and returns the instruction to render.
// It never fails: any internal error becomes a spoken apology and hangup.
func (e *Engine) Handle(ctx context.Context, evt domain.Event) (instr domain.Instruction) {
	ctx, span := tracer.Start(ctx, "dialogue.handle", trace.WithAttributes(
		attribute.String("call.sid", evt.CallSID),
		attribute.Int("turn", evt.Turn),
	))
	defer span.End()
	lg := e.logger.WithContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			lg.Error("dialogue: panic", zap.String("call_sid", evt.CallSID), zap.Any("panic", r))
			instr = e.apology()
		}
	}()

	if evt.CallSID == "" {
		lg.Warn("dialogue: webhook without call sid")
		return e.apology()
	}

	release := e.lock(ctx, concurrency.CallKey(evt.CallSID))
	defer release()

	var (
		out outcome
		err error
	)
	for attempt := 0; attempt < 2; attempt++ {
		out, err = e.step(ctx, evt)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrConflict) && !errors.Is(err, apperrors.ErrPersistence) {
			break
		}
		lg.Warn("dialogue: store write failed, retrying",
			zap.String("call_sid", evt.CallSID),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	if err != nil {
		span.RecordError(err)
		lg.Error("dialogue: handle", zap.String("call_sid", evt.CallSID), zap.Error(err))
		return e.apology()
	}

	if out.replay {
		lg.Info("dialogue: replaying last instruction",
			zap.String("call_sid", evt.CallSID),
			zap.Int("event_turn", evt.Turn),
		)
	} else {
		e.afterSave(ctx, out)
		lg.Info("dialogue: transition",
			zap.String("call_sid", out.session.CallSID),
			zap.String("status", string(out.session.Status)),
			zap.String("phase", string(out.session.Phase)),
			zap.Int("turn", out.session.Turn),
			zap.Int("cursor", out.session.Cursor),
		)
	}
	return e.narrate(ctx, evt.CallSID, out.instr)
}

// step loads the session, computes the transition and persists it.
func (e *Engine) step(ctx context.Context, evt domain.Event) (outcome, error) {
	lg := e.logger.WithContext(ctx)

	current, err := e.deps.Store.Get(ctx, evt.CallSID)
	created := false
	switch {
	case errors.Is(err, repository.ErrNotFound):
		if evt.Turn > 0 {
			return outcome{}, fmt.Errorf("dialogue: turn %d for unknown call %s: %w", evt.Turn, evt.CallSID, apperrors.ErrInvalidState)
		}
		var release func()
		current, release, err = e.bootstrap(ctx, evt)
		if err != nil {
			return outcome{}, err
		}
		defer release()
		created = true
	case err != nil:
		return outcome{}, fmt.Errorf("dialogue: load %s: %w: %w", evt.CallSID, apperrors.ErrPersistence, err)
	}

	if !created {
		if evt.Turn != current.Turn && current.LastInstruction != nil {
			return outcome{instr: current.LastInstruction.Clone(), replay: true}, nil
		}
		if evt.Step != "" && evt.Step != string(current.Phase) {
			lg.Warn("dialogue: step hint does not match phase",
				zap.String("call_sid", evt.CallSID),
				zap.String("step", evt.Step),
				zap.String("phase", string(current.Phase)),
			)
		}
		if !current.AcceptsInput() {
			if current.LastInstruction != nil {
				return outcome{instr: current.LastInstruction.Clone(), replay: true}, nil
			}
			return outcome{instr: e.hangup("goodbye", e.cfg.Prompts.Goodbye), replay: true}, nil
		}
	}

	next := current.Clone()
	now := e.deps.Clock()
	instr, jobs, err := e.transition(ctx, next, evt, now)
	if err != nil {
		return outcome{}, err
	}
	e.stamp(next, &instr, now)

	if created {
		err = e.deps.Store.Create(ctx, next)
	} else {
		err = e.deps.Store.Update(ctx, next)
	}
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return outcome{}, err
		}
		return outcome{}, fmt.Errorf("dialogue: save %s: %w: %w", evt.CallSID, apperrors.ErrPersistence, err)
	}
	return outcome{session: next, instr: instr, jobs: jobs}, nil
}

// stamp advances the idempotency fence and records the instruction for replay.
func (e *Engine) stamp(s *domain.CallSession, instr *domain.Instruction, now time.Time) {
	s.Turn++
	if instr.Capture != nil {
		instr.Capture.Turn = s.Turn
		instr.Capture.Step = s.Phase
	}
	stored := instr.Clone()
	stored.Prompt.AudioURL = ""
	s.LastInstruction = &stored
	s.UpdatedAt = now
}

// bootstrap builds a session for a call the dispatcher did not register.
// For a known candidate the returned release holds the candidate lock until
// the session is created, so two calls cannot both become active for them.
func (e *Engine) bootstrap(ctx context.Context, evt domain.Event) (*domain.CallSession, func(), error) {
	now := e.deps.Clock()
	if e.deps.Candidates != nil {
		for _, phone := range []string{evt.To, evt.From} {
			if phone == "" {
				continue
			}
			cand, err := e.deps.Candidates.GetByPhone(ctx, phone)
			if err == nil {
				return e.bootstrapCandidate(ctx, evt, cand, now)
			}
			if !errors.Is(err, repository.ErrNotFound) {
				return nil, nil, fmt.Errorf("dialogue: candidate lookup: %w: %w", apperrors.ErrPersistence, err)
			}
		}
	}
	if e.cfg.DefaultRole == "" {
		return nil, nil, fmt.Errorf("dialogue: no session or candidate for %s: %w", evt.CallSID, apperrors.ErrInvalidState)
	}
	phone := evt.From
	if phone == "" {
		phone = evt.To
	}
	return domain.NewCallSession(evt.CallSID, 0, phone, e.cfg.DefaultRole, now), func() {}, nil
}

func (e *Engine) bootstrapCandidate(ctx context.Context, evt domain.Event, cand *domain.Candidate, now time.Time) (*domain.CallSession, func(), error) {
	release := e.lock(ctx, concurrency.CandidateKey(cand.ID))
	active, err := e.deps.Store.LatestActiveForCandidate(ctx, cand.ID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return domain.NewCallSession(evt.CallSID, cand.ID, cand.Phone, cand.Role, now), release, nil
	case err != nil:
		release()
		return nil, nil, fmt.Errorf("dialogue: active session for candidate %d: %w: %w", cand.ID, apperrors.ErrPersistence, err)
	}
	release()
	if active.CallSID == evt.CallSID {
		// Created concurrently; the retry loads it.
		return nil, nil, fmt.Errorf("dialogue: session %s already created: %w", evt.CallSID, repository.ErrConflict)
	}
	return nil, nil, fmt.Errorf("dialogue: candidate %d already on call %s: %w", cand.ID, active.CallSID, apperrors.ErrInvalidState)
}

func (e *Engine) afterSave(ctx context.Context, out outcome) {
	lg := e.logger.WithContext(ctx)
	e.publish(ctx, out.session)
	if e.deps.Transcriptions == nil {
		return
	}
	for _, job := range out.jobs {
		if err := e.deps.Transcriptions.DispatchTranscription(ctx, job); err != nil {
			lg.Error("dialogue: enqueue transcription",
				zap.String("call_sid", job.CallSID),
				zap.Int64("question_id", job.QuestionID),
				zap.Error(err),
			)
		}
	}
}

func (e *Engine) publish(ctx context.Context, s *domain.CallSession) {
	if e.deps.Events == nil {
		return
	}
	if err := e.deps.Events.PublishTransition(ctx, queue.NewTransitionEvent(s)); err != nil {
		e.logger.WithContext(ctx).Error("dialogue: publish transition", zap.String("call_sid", s.CallSID), zap.Error(err))
	}
}

// narrate swaps inline speech for synthesized audio when available.
func (e *Engine) narrate(ctx context.Context, callSID string, instr domain.Instruction) domain.Instruction {
	if e.deps.Narrator == nil || instr.Prompt.Text == "" || instr.Prompt.AudioURL != "" {
		return instr
	}
	key := callSID + "-" + instr.Prompt.Key
	if instr.Prompt.Shared {
		key = instr.Prompt.Key
	}
	url, err := e.deps.Narrator.Synthesize(ctx, instr.Prompt.Text, key)
	if err != nil {
		e.logger.WithContext(ctx).Warn("dialogue: narration failed, speaking inline",
			zap.String("call_sid", callSID),
			zap.String("prompt", instr.Prompt.Key),
			zap.Error(err),
		)
		return instr
	}
	instr.Prompt.AudioURL = url
	return instr
}

func (e *Engine) lock(ctx context.Context, key string) func() {
	if e.deps.Locker == nil {
		return func() {}
	}
	release, err := e.deps.Locker.Lock(ctx, key)
	if err != nil {
		// The compare-and-set write still rejects a concurrent transition.
		e.logger.WithContext(ctx).Warn("dialogue: proceeding without lock", zap.String("key", key), zap.Error(err))
		return func() {}
	}
	return release
}

func (e *Engine) apology() domain.Instruction {
	return e.hangup("apology", e.cfg.Prompts.Apology)
}

// HandleStatus applies a call-progress or async machine-detection callback.
func (e *Engine) HandleStatus(ctx context.Context, se domain.StatusEvent) error {
	ctx, span := tracer.Start(ctx, "dialogue.status", trace.WithAttributes(
		attribute.String("call.sid", se.CallSID),
		attribute.String("call.status", se.CallStatus),
	))
	defer span.End()

	if se.CallSID == "" {
		return fmt.Errorf("dialogue: status without call sid: %w", apperrors.ErrValidation)
	}

	release := e.lock(ctx, concurrency.CallKey(se.CallSID))
	defer release()

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = e.applyStatus(ctx, se)
		if !errors.Is(err, repository.ErrConflict) {
			break
		}
	}
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (e *Engine) applyStatus(ctx context.Context, se domain.StatusEvent) error {
	lg := e.logger.WithContext(ctx)

	current, err := e.deps.Store.Get(ctx, se.CallSID)
	if errors.Is(err, repository.ErrNotFound) {
		lg.Debug("dialogue: status for unknown call", zap.String("call_sid", se.CallSID), zap.String("status", se.CallStatus))
		return nil
	}
	if err != nil {
		return fmt.Errorf("dialogue: load %s: %w: %w", se.CallSID, apperrors.ErrPersistence, err)
	}

	now := e.deps.Clock()
	next := current.Clone()
	var interrupt *domain.Instruction

	switch {
	case domain.IsMachine(se.AnsweredBy) && current.AcceptsInput():
		instr, _, err := e.toVoicemail(next, now)
		if err != nil {
			return err
		}
		e.stamp(next, &instr, now)
		interrupt = &instr
	case se.CallStatus == domain.ProviderStatusRinging && current.Status == domain.SessionStatusScheduled:
		if err := next.SetStatus(domain.SessionStatusRinging, now); err != nil {
			return err
		}
		next.UpdatedAt = now
	case se.Ended():
		switch current.Status {
		case domain.SessionStatusScheduled, domain.SessionStatusRinging:
			if err := next.SetStatus(domain.SessionStatusFailed, now); err != nil {
				return err
			}
			next.Phase = domain.PhaseDone
		case domain.SessionStatusInProgress:
			if current.DisconnectedAt != nil {
				return nil
			}
			at := now
			next.DisconnectedAt = &at
		default:
			return nil
		}
		next.UpdatedAt = now
	default:
		return nil
	}

	if err := e.deps.Store.Update(ctx, next); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return err
		}
		return fmt.Errorf("dialogue: save %s: %w: %w", se.CallSID, apperrors.ErrPersistence, err)
	}
	e.publish(ctx, next)
	lg.Info("dialogue: status applied",
		zap.String("call_sid", next.CallSID),
		zap.String("provider_status", se.CallStatus),
		zap.String("status", string(next.Status)),
	)

	if interrupt != nil && e.deps.Dialer != nil && !se.Ended() {
		instr := e.narrate(ctx, next.CallSID, *interrupt)
		if err := e.deps.Dialer.Interrupt(ctx, next.CallSID, instr); err != nil {
			lg.Warn("dialogue: interrupt live call", zap.String("call_sid", next.CallSID), zap.Error(err))
		}
	}
	return nil
}

// Finish completes an in-progress interview on operator request. The answers
// collected so far are kept and a connected caller hears the closing line.
func (e *Engine) Finish(ctx context.Context, callSID string) (*domain.CallSession, error) {
	ctx, span := tracer.Start(ctx, "dialogue.finish", trace.WithAttributes(
		attribute.String("call.sid", callSID),
	))
	defer span.End()

	release := e.lock(ctx, concurrency.CallKey(callSID))
	defer release()

	var (
		next *domain.CallSession
		err  error
	)
	for attempt := 0; attempt < 2; attempt++ {
		next, err = e.finishCall(ctx, callSID)
		if !errors.Is(err, repository.ErrConflict) {
			break
		}
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	lg := e.logger.WithContext(ctx)
	e.publish(ctx, next)
	lg.Info("dialogue: call finished by operator", zap.String("call_sid", callSID))

	if e.deps.Dialer != nil && next.DisconnectedAt == nil && next.LastInstruction != nil {
		instr := e.narrate(ctx, callSID, next.LastInstruction.Clone())
		if err := e.deps.Dialer.Interrupt(ctx, callSID, instr); err != nil {
			lg.Warn("dialogue: interrupt live call", zap.String("call_sid", callSID), zap.Error(err))
		}
	}
	return next, nil
}

func (e *Engine) finishCall(ctx context.Context, callSID string) (*domain.CallSession, error) {
	current, err := e.deps.Store.Get(ctx, callSID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("dialogue: finish unknown call %s: %w", callSID, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("dialogue: load %s: %w: %w", callSID, apperrors.ErrPersistence, err)
	}
	if current.Status != domain.SessionStatusInProgress {
		return nil, fmt.Errorf("dialogue: finish call %s in status %s: %w", callSID, current.Status, apperrors.ErrInvalidState)
	}

	now := e.deps.Clock()
	next := current.Clone()
	instr, _, err := e.finish(next, domain.SessionStatusCompleted, "closing", e.cfg.Prompts.Closing, now)
	if err != nil {
		return nil, err
	}
	e.stamp(next, &instr, now)

	if err := e.deps.Store.Update(ctx, next); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("dialogue: save %s: %w: %w", callSID, apperrors.ErrPersistence, err)
	}
	return next, nil
}

// ApplyTranscript fills in the transcript of a recorded answer. A transcript
// that is already present is kept.
func (e *Engine) ApplyTranscript(ctx context.Context, upd domain.TranscriptUpdate) error {
	ctx, span := tracer.Start(ctx, "dialogue.transcript", trace.WithAttributes(
		attribute.String("call.sid", upd.CallSID),
		attribute.Int64("question.id", upd.QuestionID),
	))
	defer span.End()

	release := e.lock(ctx, concurrency.CallKey(upd.CallSID))
	defer release()

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = e.applyTranscript(ctx, upd)
		if !errors.Is(err, repository.ErrConflict) {
			break
		}
	}
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (e *Engine) applyTranscript(ctx context.Context, upd domain.TranscriptUpdate) error {
	current, err := e.deps.Store.Get(ctx, upd.CallSID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("dialogue: transcript for unknown call %s: %w", upd.CallSID, apperrors.ErrInvalidState)
		}
		return fmt.Errorf("dialogue: load %s: %w: %w", upd.CallSID, apperrors.ErrPersistence, err)
	}

	next := current.Clone()
	answer, ok := next.AnswerFor(upd.QuestionID)
	if !ok {
		return fmt.Errorf("dialogue: call %s has no answer for question %d: %w", upd.CallSID, upd.QuestionID, apperrors.ErrInvalidState)
	}
	if answer.Transcript != nil {
		return nil
	}
	text := upd.Transcript
	answer.Transcript = &text
	next.UpdatedAt = e.deps.Clock()

	if err := e.deps.Store.Update(ctx, next); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return err
		}
		return fmt.Errorf("dialogue: save %s: %w: %w", upd.CallSID, apperrors.ErrPersistence, err)
	}
	e.publish(ctx, next)
	return nil
}
