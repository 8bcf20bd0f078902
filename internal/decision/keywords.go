package decision

import (
	"context"
	"strings"

	"github.com/acme/voice-interview/internal/domain"
)

// KeywordConfig lists the phrases recognised by the offline backend.
type KeywordConfig struct {
	Affirmative []string
	Negative    []string
	Reschedule  []string
	Repeat      []string
}

// DefaultKeywords are used for any list left empty.
var DefaultKeywords = KeywordConfig{
	Affirmative: []string{"yes", "yeah", "yep", "sure", "okay", "ok", "ready", "go ahead", "of course", "let's start", "absolutely"},
	Negative:    []string{"no", "nope", "not interested", "don't call", "stop", "never"},
	Reschedule:  []string{"later", "another time", "reschedule", "call me back", "call back", "tomorrow", "busy right now", "not now"},
	Repeat:      []string{"repeat", "say that again", "pardon", "come again", "didn't hear", "didn't catch"},
}

// Keywords is a deterministic Service used when no model is configured.
type Keywords struct {
	cfg KeywordConfig
}

// NewKeywords builds the offline backend.
func NewKeywords(cfg KeywordConfig) *Keywords {
	if len(cfg.Affirmative) == 0 {
		cfg.Affirmative = DefaultKeywords.Affirmative
	}
	if len(cfg.Negative) == 0 {
		cfg.Negative = DefaultKeywords.Negative
	}
	if len(cfg.Reschedule) == 0 {
		cfg.Reschedule = DefaultKeywords.Reschedule
	}
	if len(cfg.Repeat) == 0 {
		cfg.Repeat = DefaultKeywords.Repeat
	}
	return &Keywords{cfg: cfg}
}

// Classify implements Service. Reschedule wins over refusal ("no, call me
// later") and refusal over agreement.
func (k *Keywords) Classify(_ context.Context, history []domain.Exchange, schema Schema) (domain.DecisionResult, error) {
	text := normalize(lastAnswer(history))
	if strings.TrimSpace(text) == "" {
		return Unknown, nil
	}

	var action domain.Action
	switch {
	case containsAny(text, k.cfg.Repeat):
		action = domain.ActionRepeat
	case containsAny(text, k.cfg.Reschedule):
		action = domain.ActionReschedule
	case schema.Stage == StageAnswer:
		action = domain.ActionNext
	case containsAny(text, k.cfg.Negative):
		action = domain.ActionEnd
	case containsAny(text, k.cfg.Affirmative):
		action = domain.ActionNext
	default:
		action = domain.ActionUnknown
	}

	if !schema.Allows(action) {
		return Unknown, nil
	}
	return domain.DecisionResult{Action: action}, nil
}

func normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '.', ',', '!', '?', ';', ':', '"':
			return ' '
		}
		return r
	}, s)
	return " " + strings.Join(strings.Fields(s), " ") + " "
}

// containsAny matches whole words or phrases so "no" does not match "know".
func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if strings.Contains(text, " "+p+" ") {
			return true
		}
	}
	return false
}
