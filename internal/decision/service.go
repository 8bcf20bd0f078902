// Package decision classifies caller replies into the closed action set that
// drives the dialogue engine.
package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/acme/voice-interview/internal/domain"
	apperrors "github.com/acme/voice-interview/pkg/errors"
)

// Service is the classification oracle. Implementations never return an
// action outside schema.Allowed.
type Service interface {
	Classify(ctx context.Context, history []domain.Exchange, schema Schema) (domain.DecisionResult, error)
}

// Stage tells the backend which question is being answered.
type Stage string

const (
	StageConsent Stage = "consent"
	StageAnswer  Stage = "answer"
)

// Schema constrains one classification.
type Schema struct {
	Name         string
	Stage        Stage
	Instructions string
	Allowed      []domain.Action
}

// Allows reports whether the action is part of the schema.
func (s Schema) Allows(a domain.Action) bool {
	for _, allowed := range s.Allowed {
		if allowed == a {
			return true
		}
	}
	return false
}

// ConsentSchema classifies the reply to the greeting.
var ConsentSchema = Schema{
	Name:  "consent_decision",
	Stage: StageConsent,
	Instructions: `You screen replies to a phone interview invitation.
Pick exactly one action for the candidate's last answer:
- "next": the candidate agrees to start now (yes, sure, okay, go ahead).
- "end": the candidate refuses (no, not interested, stop calling).
- "reschedule": the candidate wants to be called at another time.
- "repeat": the candidate asks to hear the question again.
- "clarify": the candidate asks what this is about; put a short explanation in "message".
- "unknown": anything else or if you are not sure.`,
	Allowed: []domain.Action{
		domain.ActionNext, domain.ActionEnd, domain.ActionReschedule,
		domain.ActionRepeat, domain.ActionClarify, domain.ActionUnknown,
	},
}

// AnswerSchema classifies the reply to an interview question.
var AnswerSchema = Schema{
	Name:  "answer_decision",
	Stage: StageAnswer,
	Instructions: `You run a structured phone interview. Judge the candidate's last answer
to the last question and pick exactly one action:
- "next": the answer addresses the question, move on.
- "repeat": the candidate asks to hear the question again.
- "clarify": the candidate is confused; put a one-sentence rephrasing of the question in "message".
- "reschedule": the candidate wants to continue at another time.
- "end": the candidate wants to stop the interview.
- "unknown": the answer is inaudible or unrelated.`,
	Allowed: []domain.Action{
		domain.ActionNext, domain.ActionRepeat, domain.ActionClarify,
		domain.ActionReschedule, domain.ActionEnd, domain.ActionUnknown,
	},
}

// Unknown is the safe default result.
var Unknown = domain.DecisionResult{Action: domain.ActionUnknown}

type rawDecision struct {
	Action  string `json:"action"`
	Message string `json:"message"`
}

// Decode validates model output against the schema. Malformed JSON is
// repaired once; anything outside the schema degrades to Unknown together
// with ErrClassificationAmbiguous.
func Decode(data []byte, schema Schema) (domain.DecisionResult, error) {
	var raw rawDecision
	if err := unmarshalJSON(data, &raw); err != nil {
		return Unknown, fmt.Errorf("%w: %v", apperrors.ErrClassificationAmbiguous, err)
	}

	action, ok := domain.ParseAction(strings.ToLower(strings.TrimSpace(raw.Action)))
	if !ok {
		return Unknown, fmt.Errorf("%w: action %q", apperrors.ErrClassificationAmbiguous, raw.Action)
	}
	if !schema.Allows(action) {
		return Unknown, fmt.Errorf("%w: action %q not allowed for %s", apperrors.ErrClassificationAmbiguous, action, schema.Name)
	}

	result := domain.DecisionResult{Action: action, Message: strings.TrimSpace(raw.Message)}
	if action == domain.ActionClarify && result.Message == "" {
		return Unknown, fmt.Errorf("%w: clarify without message", apperrors.ErrClassificationAmbiguous)
	}
	return result, nil
}

func unmarshalJSON(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	if _, ok := err.(*json.SyntaxError); ok {
		fixed, rerr := jsonrepair.JSONRepair(string(data))
		if rerr != nil {
			return rerr
		}
		return json.Unmarshal([]byte(fixed), v)
	}
	return err
}

// Transcript renders history the way the model sees it.
func Transcript(history []domain.Exchange) string {
	var b strings.Builder
	for _, ex := range history {
		fmt.Fprintf(&b, "Question: %s\nAnswer: %s\n", ex.Question, ex.Answer)
	}
	return b.String()
}

func lastAnswer(history []domain.Exchange) string {
	if len(history) == 0 {
		return ""
	}
	return history[len(history)-1].Answer
}
