package catalog

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/acme/voice-interview/internal/domain"
	"github.com/acme/voice-interview/internal/repository"
	apperrors "github.com/acme/voice-interview/pkg/errors"
)

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

// Narrator synthesizes prompt audio under a cache key.
type Narrator interface {
	Synthesize(ctx context.Context, text, cacheKey string) (string, error)
}

// Service manages candidates and the question sets asked per role.
type Service struct {
	candidates repository.CandidateRepository
	questions  repository.QuestionRepository
	answers    repository.AnswerRepository
	calls      repository.CallRecordRepository
	narrator   Narrator
}

// NewService constructs a catalog service. narrator may be nil, in which
// case question audio cannot be generated ahead of calls.
func NewService(
	candidates repository.CandidateRepository,
	questions repository.QuestionRepository,
	calls repository.CallRecordRepository,
	answers repository.AnswerRepository,
	narrator Narrator,
) *Service {
	return &Service{candidates: candidates, questions: questions, calls: calls, answers: answers, narrator: narrator}
}

// CandidateInput captures candidate registration parameters.
type CandidateInput struct {
	Name  string
	Phone string
	Role  string
}

// QuestionInput captures one question of a role's set.
type QuestionInput struct {
	Role     string
	Text     string
	Position int
}

// CreateCandidate registers a candidate.
func (s *Service) CreateCandidate(ctx context.Context, input CandidateInput) (*domain.Candidate, error) {
	c, err := newCandidate(input)
	if err != nil {
		return nil, err
	}
	if err := s.candidates.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("catalog service: create candidate: %w", err)
	}
	return c, nil
}

// UpsertCandidate registers or refreshes a candidate keyed by phone.
func (s *Service) UpsertCandidate(ctx context.Context, input CandidateInput) (*domain.Candidate, error) {
	c, err := newCandidate(input)
	if err != nil {
		return nil, err
	}
	if err := s.candidates.Upsert(ctx, c); err != nil {
		return nil, fmt.Errorf("catalog service: upsert candidate: %w", err)
	}
	return c, nil
}

// GetCandidate fetches one candidate.
func (s *Service) GetCandidate(ctx context.Context, id int64) (*domain.Candidate, error) {
	return s.candidates.Get(ctx, id)
}

// ListCandidates pages through candidates.
func (s *Service) ListCandidates(ctx context.Context, afterID int64, limit int) ([]*domain.Candidate, error) {
	return s.candidates.List(ctx, afterID, limit)
}

// UpdateCandidate replaces a candidate's details.
func (s *Service) UpdateCandidate(ctx context.Context, id int64, input CandidateInput) (*domain.Candidate, error) {
	if err := validateCandidateInput(input); err != nil {
		return nil, err
	}
	c, err := s.candidates.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Name = strings.TrimSpace(input.Name)
	c.Phone = strings.TrimSpace(input.Phone)
	c.Role = strings.TrimSpace(input.Role)
	if err := s.candidates.Update(ctx, c); err != nil {
		return nil, fmt.Errorf("catalog service: update candidate %d: %w", id, err)
	}
	return c, nil
}

// DeleteCandidate removes a candidate without call history.
func (s *Service) DeleteCandidate(ctx context.Context, id int64) error {
	if err := s.candidates.Delete(ctx, id); err != nil {
		return fmt.Errorf("catalog service: delete candidate %d: %w", id, err)
	}
	return nil
}

// CreateQuestion adds a question to a role's set.
func (s *Service) CreateQuestion(ctx context.Context, input QuestionInput) (*domain.Question, error) {
	q, err := newQuestion(input)
	if err != nil {
		return nil, err
	}
	if err := s.questions.Upsert(ctx, q); err != nil {
		return nil, fmt.Errorf("catalog service: store question: %w", err)
	}
	return q, nil
}

// Questions returns a role's questions in asking order.
func (s *Service) Questions(ctx context.Context, role string) ([]domain.Question, error) {
	role = strings.TrimSpace(role)
	if role == "" {
		return nil, fmt.Errorf("%w: role is required", apperrors.ErrValidation)
	}
	return s.questions.ListByRole(ctx, role)
}

// GetQuestion fetches one question.
func (s *Service) GetQuestion(ctx context.Context, id int64) (*domain.Question, error) {
	return s.questions.Get(ctx, id)
}

// UpdateQuestion replaces a question's role, text and position.
func (s *Service) UpdateQuestion(ctx context.Context, id int64, input QuestionInput) (*domain.Question, error) {
	if err := validateQuestionInput(input); err != nil {
		return nil, err
	}
	q, err := s.questions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	q.Role = strings.TrimSpace(input.Role)
	q.Text = strings.TrimSpace(input.Text)
	q.Position = input.Position
	if err := s.questions.Update(ctx, q); err != nil {
		return nil, fmt.Errorf("catalog service: update question %d: %w", id, err)
	}
	return q, nil
}

// DeleteQuestion removes a question from its role's set.
func (s *Service) DeleteQuestion(ctx context.Context, id int64) error {
	if err := s.questions.Delete(ctx, id); err != nil {
		return fmt.Errorf("catalog service: delete question %d: %w", id, err)
	}
	return nil
}

// GenerateQuestionAudio synthesizes a question's audio under the key calls
// use for it, so the first caller to hear it does not wait on synthesis.
func (s *Service) GenerateQuestionAudio(ctx context.Context, id int64) (string, error) {
	if s.narrator == nil {
		return "", fmt.Errorf("catalog service: narration is not configured: %w", apperrors.ErrUnavailable)
	}
	q, err := s.questions.Get(ctx, id)
	if err != nil {
		return "", err
	}
	url, err := s.narrator.Synthesize(ctx, q.Text, domain.QuestionPromptKey(q.ID))
	if err != nil {
		return "", fmt.Errorf("catalog service: synthesize question %d: %w: %w", id, apperrors.ErrProviderUnavailable, err)
	}
	return url, nil
}

// Call returns the projected record of a call.
func (s *Service) Call(ctx context.Context, callSID string) (*domain.CallRecord, error) {
	return s.calls.Get(ctx, callSID)
}

// Answers returns the projected answers of a call.
func (s *Service) Answers(ctx context.Context, callSID string) ([]domain.AnswerRecord, error) {
	return s.answers.ListByCall(ctx, callSID)
}

func newCandidate(input CandidateInput) (*domain.Candidate, error) {
	if err := validateCandidateInput(input); err != nil {
		return nil, err
	}
	return &domain.Candidate{
		Name:      strings.TrimSpace(input.Name),
		Phone:     strings.TrimSpace(input.Phone),
		Role:      strings.TrimSpace(input.Role),
		CreatedAt: time.Now().UTC(),
	}, nil
}

func newQuestion(input QuestionInput) (*domain.Question, error) {
	if err := validateQuestionInput(input); err != nil {
		return nil, err
	}
	return &domain.Question{
		Role:      strings.TrimSpace(input.Role),
		Text:      strings.TrimSpace(input.Text),
		Position:  input.Position,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func validateCandidateInput(input CandidateInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return fmt.Errorf("%w: name is required", apperrors.ErrValidation)
	}
	if !e164.MatchString(strings.TrimSpace(input.Phone)) {
		return fmt.Errorf("%w: phone must be in E.164 format", apperrors.ErrValidation)
	}
	if strings.TrimSpace(input.Role) == "" {
		return fmt.Errorf("%w: role is required", apperrors.ErrValidation)
	}
	return nil
}

func validateQuestionInput(input QuestionInput) error {
	if strings.TrimSpace(input.Role) == "" {
		return fmt.Errorf("%w: role is required", apperrors.ErrValidation)
	}
	if strings.TrimSpace(input.Text) == "" {
		return fmt.Errorf("%w: text is required", apperrors.ErrValidation)
	}
	if input.Position <= 0 {
		return fmt.Errorf("%w: position must be positive", apperrors.ErrValidation)
	}
	return nil
}
