package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/acme/voice-interview/internal/domain"
	"github.com/acme/voice-interview/internal/repository"
	apperrors "github.com/acme/voice-interview/pkg/errors"
)

func TestValidateCandidateInputFailures(t *testing.T) {
	cases := []CandidateInput{
		{Name: "", Phone: "+15550000001", Role: "backend"},
		{Name: "Ada", Phone: "5550000001", Role: "backend"},
		{Name: "Ada", Phone: "+0550000001", Role: "backend"},
		{Name: "Ada", Phone: "+15550000001", Role: " "},
	}

	for _, tc := range cases {
		if err := validateCandidateInput(tc); err == nil {
			t.Errorf("expected validation error for input %+v", tc)
		}
	}
}

func TestValidateCandidateInputSuccess(t *testing.T) {
	input := CandidateInput{Name: "Ada", Phone: "+447700900123", Role: "backend"}
	if err := validateCandidateInput(input); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateQuestionInput(t *testing.T) {
	if err := validateQuestionInput(QuestionInput{Role: "backend", Text: "Why Go?", Position: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, tc := range []QuestionInput{
		{Role: "", Text: "Why Go?", Position: 1},
		{Role: "backend", Text: "", Position: 1},
		{Role: "backend", Text: "Why Go?", Position: 0},
	} {
		if err := validateQuestionInput(tc); err == nil {
			t.Errorf("expected validation error for input %+v", tc)
		}
	}
}

func TestNewCandidateTrimsInput(t *testing.T) {
	c, err := newCandidate(CandidateInput{Name: " Ada ", Phone: " +15550000001 ", Role: "backend "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Name != "Ada" || c.Phone != "+15550000001" || c.Role != "backend" {
		t.Fatalf("input not trimmed: %+v", c)
	}
}

type roleStore struct {
	roles map[string][]domain.Question
}

func (r *roleStore) Create(context.Context, *domain.Question) error { return nil }
func (r *roleStore) Upsert(context.Context, *domain.Question) error { return nil }
func (r *roleStore) ListByRole(_ context.Context, role string) ([]domain.Question, error) {
	return r.roles[role], nil
}
func (r *roleStore) ReplaceRole(_ context.Context, role string, qs []domain.Question) error {
	if r.roles == nil {
		r.roles = make(map[string][]domain.Question)
	}
	r.roles[role] = qs
	return nil
}
func (r *roleStore) Get(_ context.Context, id int64) (*domain.Question, error) {
	for _, qs := range r.roles {
		for _, q := range qs {
			if q.ID == id {
				q := q
				return &q, nil
			}
		}
	}
	return nil, repository.ErrNotFound
}
func (r *roleStore) Update(_ context.Context, q *domain.Question) error {
	if err := r.Delete(context.Background(), q.ID); err != nil {
		return err
	}
	r.roles[q.Role] = append(r.roles[q.Role], *q)
	return nil
}
func (r *roleStore) Delete(_ context.Context, id int64) error {
	for role, qs := range r.roles {
		for i, q := range qs {
			if q.ID == id {
				r.roles[role] = append(qs[:i:i], qs[i+1:]...)
				return nil
			}
		}
	}
	return repository.ErrNotFound
}

type phoneBook struct {
	byPhone map[string]*domain.Candidate
}

func (p *phoneBook) Create(ctx context.Context, c *domain.Candidate) error { return p.Upsert(ctx, c) }
func (p *phoneBook) Upsert(_ context.Context, c *domain.Candidate) error {
	if p.byPhone == nil {
		p.byPhone = make(map[string]*domain.Candidate)
	}
	if existing, ok := p.byPhone[c.Phone]; ok {
		c.ID = existing.ID
	} else {
		c.ID = int64(len(p.byPhone) + 1)
	}
	p.byPhone[c.Phone] = c
	return nil
}
func (p *phoneBook) Get(_ context.Context, id int64) (*domain.Candidate, error) {
	for _, c := range p.byPhone {
		if c.ID == id {
			copied := *c
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}
func (p *phoneBook) GetByPhone(_ context.Context, phone string) (*domain.Candidate, error) {
	return p.byPhone[phone], nil
}
func (p *phoneBook) List(context.Context, int64, int) ([]*domain.Candidate, error) { return nil, nil }
func (p *phoneBook) Update(_ context.Context, c *domain.Candidate) error {
	for phone, existing := range p.byPhone {
		if existing.ID == c.ID {
			delete(p.byPhone, phone)
			p.byPhone[c.Phone] = c
			return nil
		}
	}
	return repository.ErrNotFound
}
func (p *phoneBook) Delete(_ context.Context, id int64) error {
	for phone, existing := range p.byPhone {
		if existing.ID == id {
			delete(p.byPhone, phone)
			return nil
		}
	}
	return repository.ErrNotFound
}

type recordingNarrator struct {
	keys []string
	err  error
}

func (n *recordingNarrator) Synthesize(_ context.Context, text, cacheKey string) (string, error) {
	if n.err != nil {
		return "", n.err
	}
	n.keys = append(n.keys, cacheKey)
	return "https://example.test/media/" + cacheKey + ".mp3", nil
}

func TestUpdateCandidateReplacesDetails(t *testing.T) {
	candidates := &phoneBook{}
	svc := NewService(candidates, &roleStore{}, nil, nil, nil)
	created, err := svc.CreateCandidate(context.Background(), CandidateInput{Name: "Ada", Phone: "+15550001111", Role: "backend"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := svc.UpdateCandidate(context.Background(), created.ID, CandidateInput{Name: " Grace ", Phone: "+15550002222", Role: "frontend"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ID != created.ID || updated.Name != "Grace" || updated.Phone != "+15550002222" || updated.Role != "frontend" {
		t.Fatalf("unexpected candidate %+v", updated)
	}
	if _, ok := candidates.byPhone["+15550001111"]; ok {
		t.Fatalf("old phone still indexed")
	}

	if _, err := svc.UpdateCandidate(context.Background(), created.ID, CandidateInput{Name: "Grace", Phone: "bad", Role: "frontend"}); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.UpdateCandidate(context.Background(), 99, CandidateInput{Name: "Grace", Phone: "+15550002222", Role: "frontend"}); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteCandidate(t *testing.T) {
	candidates := &phoneBook{}
	svc := NewService(candidates, &roleStore{}, nil, nil, nil)
	created, err := svc.CreateCandidate(context.Background(), CandidateInput{Name: "Ada", Phone: "+15550001111", Role: "backend"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.DeleteCandidate(context.Background(), created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.DeleteCandidate(context.Background(), created.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestQuestionLifecycle(t *testing.T) {
	questions := &roleStore{roles: map[string][]domain.Question{
		"backend": {{ID: 7, Role: "backend", Text: "Why Go?", Position: 1}},
	}}
	svc := NewService(&phoneBook{}, questions, nil, nil, nil)
	ctx := context.Background()

	q, err := svc.GetQuestion(ctx, 7)
	if err != nil || q.Text != "Why Go?" {
		t.Fatalf("get: %+v %v", q, err)
	}

	q, err = svc.UpdateQuestion(ctx, 7, QuestionInput{Role: "backend", Text: " Why Rust? ", Position: 2})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if q.Text != "Why Rust?" || q.Position != 2 {
		t.Fatalf("unexpected question %+v", q)
	}
	if _, err := svc.UpdateQuestion(ctx, 7, QuestionInput{Role: "backend", Text: "", Position: 2}); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	if err := svc.DeleteQuestion(ctx, 7); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.GetQuestion(ctx, 7); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestGenerateQuestionAudioUsesSharedQuestionKey(t *testing.T) {
	questions := &roleStore{roles: map[string][]domain.Question{
		"backend": {{ID: 7, Role: "backend", Text: "Why Go?", Position: 1}},
	}}
	narrator := &recordingNarrator{}
	svc := NewService(&phoneBook{}, questions, nil, nil, narrator)

	url, err := svc.GenerateQuestionAudio(context.Background(), 7)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(narrator.keys) != 1 || narrator.keys[0] != domain.QuestionPromptKey(7) {
		t.Fatalf("unexpected cache keys %v", narrator.keys)
	}
	if url == "" {
		t.Fatalf("expected audio url")
	}

	if _, err := svc.GenerateQuestionAudio(context.Background(), 8); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	narrator.err = errors.New("quota")
	if _, err := svc.GenerateQuestionAudio(context.Background(), 7); !errors.Is(err, apperrors.ErrProviderUnavailable) {
		t.Fatalf("expected provider unavailable, got %v", err)
	}
}

func TestGenerateQuestionAudioWithoutNarrator(t *testing.T) {
	svc := NewService(&phoneBook{}, &roleStore{}, nil, nil, nil)
	if _, err := svc.GenerateQuestionAudio(context.Background(), 7); !errors.Is(err, apperrors.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

const seedDoc = `
roles:
  backend:
    - Tell me about a system you designed.
    - How do you debug a production incident?
candidates:
  - name: Ada
    phone: "+15550001111"
    role: backend
  - name: Ada L.
    phone: "+15550001111"
    role: backend
`

func TestImportSeed(t *testing.T) {
	seed, err := LoadSeed(strings.NewReader(seedDoc))
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}

	questions := &roleStore{}
	candidates := &phoneBook{}
	svc := NewService(candidates, questions, nil, nil, nil)

	res, err := svc.Import(context.Background(), seed)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Roles != 1 || res.Questions != 2 || res.Candidates != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	qs := questions.roles["backend"]
	if len(qs) != 2 || qs[1].Position != 2 || qs[1].Text != "How do you debug a production incident?" {
		t.Fatalf("unexpected questions %+v", qs)
	}
	if len(candidates.byPhone) != 1 || candidates.byPhone["+15550001111"].Name != "Ada L." {
		t.Fatalf("expected candidate upserted by phone, got %+v", candidates.byPhone)
	}
}

func TestLoadSeedRejectsUnknownFields(t *testing.T) {
	if _, err := LoadSeed(strings.NewReader("rolez: {}\n")); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSeedValidateRejectsBadCandidate(t *testing.T) {
	seed := Seed{Candidates: []SeedCandidate{{Name: "Ada", Phone: "555", Role: "backend"}}}
	if err := seed.Validate(); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
