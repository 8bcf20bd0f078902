package decision

import (
	"context"
	"testing"

	"github.com/acme/voice-interview/internal/domain"
)

func TestKeywordsConsent(t *testing.T) {
	k := NewKeywords(KeywordConfig{})
	cases := map[string]domain.Action{
		"Yes, let's do it":            domain.ActionNext,
		"sure.":                       domain.ActionNext,
		"No thanks":                   domain.ActionEnd,
		"no, call me later":           domain.ActionReschedule,
		"I'm busy right now":          domain.ActionReschedule,
		"could you repeat that":       domain.ActionRepeat,
		"I know a thing or two":       domain.ActionUnknown,
		"":                            domain.ActionUnknown,
		"banana":                      domain.ActionUnknown,
	}

	for input, want := range cases {
		got, err := k.Classify(context.Background(), []domain.Exchange{{Question: "Can we start?", Answer: input}}, ConsentSchema)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", input, err)
		}
		if got.Action != want {
			t.Errorf("%q: expected %s, got %s", input, want, got.Action)
		}
	}
}

func TestKeywordsAnswerStage(t *testing.T) {
	k := NewKeywords(KeywordConfig{})
	history := []domain.Exchange{{Question: "Do you know SQL?", Answer: "no, mostly NoSQL"}}

	got, err := k.Classify(context.Background(), history, AnswerSchema)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Action != domain.ActionNext {
		t.Fatalf("a plain answer should advance, got %s", got.Action)
	}
}

func TestKeywordsCustomLists(t *testing.T) {
	k := NewKeywords(KeywordConfig{Affirmative: []string{"oui"}})
	got, _ := k.Classify(context.Background(), []domain.Exchange{{Answer: "Oui"}}, ConsentSchema)
	if got.Action != domain.ActionNext {
		t.Fatalf("expected custom affirmative to match, got %s", got.Action)
	}
	got, _ = k.Classify(context.Background(), []domain.Exchange{{Answer: "yes"}}, ConsentSchema)
	if got.Action != domain.ActionUnknown {
		t.Fatalf("expected default affirmative list to be replaced, got %s", got.Action)
	}
}
