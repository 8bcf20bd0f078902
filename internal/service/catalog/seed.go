package catalog

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/acme/voice-interview/internal/domain"
	apperrors "github.com/acme/voice-interview/pkg/errors"
)

// Seed is the importable catalog document:
//
//	roles:
//	  backend:
//	    - Tell me about a system you designed.
//	candidates:
//	  - {name: Ada, phone: "+15550001111", role: backend}
type Seed struct {
	Roles      map[string][]string `yaml:"roles"`
	Candidates []SeedCandidate     `yaml:"candidates"`
}

// SeedCandidate is one candidate entry of a seed file.
type SeedCandidate struct {
	Name  string `yaml:"name"`
	Phone string `yaml:"phone"`
	Role  string `yaml:"role"`
}

// ImportResult counts what an import wrote.
type ImportResult struct {
	Roles      int
	Questions  int
	Candidates int
}

// LoadSeed decodes a YAML seed document.
func LoadSeed(r io.Reader) (Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return Seed{}, fmt.Errorf("%w: decode seed: %v", apperrors.ErrValidation, err)
	}
	return seed, nil
}

// Validate checks the whole document before anything is written.
func (s Seed) Validate() error {
	for role, texts := range s.Roles {
		if strings.TrimSpace(role) == "" {
			return fmt.Errorf("%w: role name is required", apperrors.ErrValidation)
		}
		for i, text := range texts {
			if strings.TrimSpace(text) == "" {
				return fmt.Errorf("%w: role %s question %d is empty", apperrors.ErrValidation, role, i+1)
			}
		}
	}
	for i, c := range s.Candidates {
		if err := validateCandidateInput(CandidateInput(c)); err != nil {
			return fmt.Errorf("candidate %d: %w", i+1, err)
		}
	}
	return nil
}

// Import replaces the question set of every role in the seed and upserts
// its candidates by phone.
func (s *Service) Import(ctx context.Context, seed Seed) (ImportResult, error) {
	var res ImportResult
	if err := seed.Validate(); err != nil {
		return res, err
	}

	roles := make([]string, 0, len(seed.Roles))
	for role := range seed.Roles {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	now := time.Now().UTC()
	for _, role := range roles {
		texts := seed.Roles[role]
		questions := make([]domain.Question, 0, len(texts))
		for i, text := range texts {
			questions = append(questions, domain.Question{
				Role:      strings.TrimSpace(role),
				Text:      strings.TrimSpace(text),
				Position:  i + 1,
				CreatedAt: now,
			})
		}
		if err := s.questions.ReplaceRole(ctx, strings.TrimSpace(role), questions); err != nil {
			return res, fmt.Errorf("catalog service: import role %s: %w", role, err)
		}
		res.Roles++
		res.Questions += len(questions)
	}

	for _, c := range seed.Candidates {
		if _, err := s.UpsertCandidate(ctx, CandidateInput(c)); err != nil {
			return res, err
		}
		res.Candidates++
	}
	return res, nil
}
