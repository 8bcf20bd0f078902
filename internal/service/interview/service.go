package interview

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/voice-interview/internal/domain"
	"github.com/acme/voice-interview/internal/queue"
	"github.com/acme/voice-interview/internal/repository"
	"github.com/acme/voice-interview/internal/service/concurrency"
	"github.com/acme/voice-interview/internal/telephony"
	apperrors "github.com/acme/voice-interview/pkg/errors"
	"github.com/acme/voice-interview/pkg/logger"
)

// EventPublisher receives the freshly registered session.
type EventPublisher interface {
	PublishTransition(ctx context.Context, evt queue.TransitionEvent) error
}

// Service dials candidates and registers their call sessions.
type Service struct {
	sessions   repository.SessionStore
	candidates repository.CandidateRepository
	requests   repository.InterviewRequestRepository
	dialer     telephony.Dialer
	locker     concurrency.Locker
	events     EventPublisher
	logger     *logger.Logger
	now        func() time.Time
}

// NewService builds the interview dispatcher. requests and events may be nil.
func NewService(
	sessions repository.SessionStore,
	candidates repository.CandidateRepository,
	requests repository.InterviewRequestRepository,
	dialer telephony.Dialer,
	locker concurrency.Locker,
	events EventPublisher,
	lg *logger.Logger,
) *Service {
	return &Service{
		sessions:   sessions,
		candidates: candidates,
		requests:   requests,
		dialer:     dialer,
		locker:     locker,
		events:     events,
		logger:     lg.Named("interview"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// StartInput identifies the candidate to interview.
type StartInput struct {
	CandidateID int64
}

// Start places the call and registers the session. It refuses while the
// candidate already has an active interview.
func (s *Service) Start(ctx context.Context, input StartInput) (*domain.CallSession, error) {
	if input.CandidateID <= 0 {
		return nil, fmt.Errorf("%w: candidate_id is required", apperrors.ErrValidation)
	}

	cand, err := s.candidates.Get(ctx, input.CandidateID)
	if err != nil {
		return nil, fmt.Errorf("interview service: lookup candidate: %w", err)
	}

	if s.locker != nil {
		release, err := s.locker.Lock(ctx, concurrency.CandidateKey(cand.ID))
		if err != nil {
			return nil, fmt.Errorf("interview service: lock candidate %d: %w", cand.ID, err)
		}
		defer release()
	}

	active, err := s.sessions.LatestActiveForCandidate(ctx, cand.ID)
	switch {
	case err == nil:
		return nil, fmt.Errorf("interview service: candidate %d already on call %s: %w", cand.ID, active.CallSID, apperrors.ErrConflict)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("interview service: check active session: %w", err)
	}

	callSID, err := s.dialer.PlaceCall(ctx, telephony.CallRequest{
		To:          cand.Phone,
		CandidateID: cand.ID,
		Role:        cand.Role,
	})
	if err != nil {
		return nil, fmt.Errorf("interview service: place call: %w", err)
	}

	session := domain.NewCallSession(callSID, cand.ID, cand.Phone, cand.Role, s.now())
	if err := s.sessions.Create(ctx, session); err != nil {
		if !errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("interview service: register session %s: %w", callSID, err)
		}
		// The first webhook beat us and bootstrapped the session.
		existing, gerr := s.sessions.Get(ctx, callSID)
		if gerr != nil {
			return nil, fmt.Errorf("interview service: load session %s: %w", callSID, gerr)
		}
		return existing, nil
	}

	if s.events != nil {
		if err := s.events.PublishTransition(ctx, queue.NewTransitionEvent(session)); err != nil {
			s.logger.WithContext(ctx).Warn("interview service: publish registration", zap.String("call_sid", callSID), zap.Error(err))
		}
	}

	s.logger.WithContext(ctx).Info("interview started",
		zap.String("call_sid", callSID),
		zap.Int64("candidate_id", cand.ID),
		zap.String("role", cand.Role),
	)
	return session, nil
}

// ScheduleInput requests an interview, now or at a later time.
type ScheduleInput struct {
	CandidateID int64
	ScheduledAt *time.Time
}

// ScheduleResult holds either the started session or the stored request.
type ScheduleResult struct {
	Session *domain.CallSession
	Request *domain.InterviewRequest
}

// Schedule dials immediately when no future time is given, otherwise stores
// a request for the scheduler.
func (s *Service) Schedule(ctx context.Context, input ScheduleInput) (ScheduleResult, error) {
	now := s.now()
	if input.ScheduledAt == nil || !input.ScheduledAt.After(now) {
		session, err := s.Start(ctx, StartInput{CandidateID: input.CandidateID})
		if err != nil {
			return ScheduleResult{}, err
		}
		return ScheduleResult{Session: session}, nil
	}

	if s.requests == nil {
		return ScheduleResult{}, fmt.Errorf("interview service: scheduling disabled: %w", apperrors.ErrUnavailable)
	}
	if input.CandidateID <= 0 {
		return ScheduleResult{}, fmt.Errorf("%w: candidate_id is required", apperrors.ErrValidation)
	}
	if _, err := s.candidates.Get(ctx, input.CandidateID); err != nil {
		return ScheduleResult{}, fmt.Errorf("interview service: lookup candidate: %w", err)
	}

	req := &domain.InterviewRequest{
		ID:          uuid.New(),
		CandidateID: input.CandidateID,
		ScheduledAt: input.ScheduledAt.UTC(),
		State:       domain.InterviewRequestPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return ScheduleResult{}, fmt.Errorf("interview service: store request: %w", err)
	}
	return ScheduleResult{Request: req}, nil
}

// DispatchResult summarises one scheduler pass.
type DispatchResult struct {
	Dispatched int
	Failed     int
}

// DispatchDue claims requests whose time has come and dials them.
func (s *Service) DispatchDue(ctx context.Context, limit int) (DispatchResult, error) {
	var res DispatchResult
	if s.requests == nil {
		return res, nil
	}

	due, err := s.requests.ClaimDue(ctx, s.now(), limit)
	if err != nil {
		return res, fmt.Errorf("interview service: claim due: %w", err)
	}

	lg := s.logger.WithContext(ctx)
	for _, req := range due {
		session, err := s.Start(ctx, StartInput{CandidateID: req.CandidateID})
		if err != nil {
			res.Failed++
			lg.Warn("interview service: scheduled dial failed",
				zap.String("request_id", req.ID.String()),
				zap.Int64("candidate_id", req.CandidateID),
				zap.Error(err),
			)
			if merr := s.requests.MarkFailed(ctx, req.ID, err.Error()); merr != nil {
				lg.Error("interview service: mark failed", zap.String("request_id", req.ID.String()), zap.Error(merr))
			}
			continue
		}
		res.Dispatched++
		if merr := s.requests.MarkDispatched(ctx, req.ID, session.CallSID); merr != nil {
			lg.Error("interview service: mark dispatched", zap.String("request_id", req.ID.String()), zap.Error(merr))
		}
	}
	return res, nil
}

// Session returns the live conversation state of a call.
func (s *Service) Session(ctx context.Context, callSID string) (*domain.CallSession, error) {
	if callSID == "" {
		return nil, fmt.Errorf("%w: call sid is required", apperrors.ErrValidation)
	}
	return s.sessions.Get(ctx, callSID)
}
