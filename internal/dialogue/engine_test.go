package dialogue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/acme/voice-interview/internal/decision"
	"github.com/acme/voice-interview/internal/domain"
	"github.com/acme/voice-interview/internal/queue"
	"github.com/acme/voice-interview/internal/repository"
	"github.com/acme/voice-interview/internal/repository/memory"
	"github.com/acme/voice-interview/internal/speech"
	apperrors "github.com/acme/voice-interview/pkg/errors"
	"github.com/acme/voice-interview/pkg/logger"
)

var testNow = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

type staticQuestions map[string][]domain.Question

func (q staticQuestions) ListByRole(_ context.Context, role string) ([]domain.Question, error) {
	return q[role], nil
}

type scriptedDecision struct {
	result domain.DecisionResult
	err    error
	calls  int
}

func (d *scriptedDecision) Classify(context.Context, []domain.Exchange, decision.Schema) (domain.DecisionResult, error) {
	d.calls++
	return d.result, d.err
}

type recordingEvents struct {
	mu     sync.Mutex
	events []queue.TransitionEvent
}

func (r *recordingEvents) PublishTransition(_ context.Context, evt queue.TransitionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

type recordingJobs struct {
	jobs []queue.TranscriptionJob
}

func (r *recordingJobs) DispatchTranscription(_ context.Context, job queue.TranscriptionJob) error {
	r.jobs = append(r.jobs, job)
	return nil
}

type recordingDialer struct {
	interrupted map[string]domain.Instruction
}

func (d *recordingDialer) Interrupt(_ context.Context, callSID string, instr domain.Instruction) error {
	if d.interrupted == nil {
		d.interrupted = make(map[string]domain.Instruction)
	}
	d.interrupted[callSID] = instr
	return nil
}

type stubNarrator struct {
	err   error
	calls int
}

func (n *stubNarrator) Synthesize(_ context.Context, _ string, cacheKey string) (string, error) {
	n.calls++
	if n.err != nil {
		return "", n.err
	}
	return "https://voice.example.com/media/" + cacheKey + ".mp3", nil
}

type stubTranscriber struct {
	text string
	err  error
}

func (s stubTranscriber) Transcribe(context.Context, speech.AudioRef) (string, error) {
	return s.text, s.err
}

type stubCandidates map[string]*domain.Candidate

func (c stubCandidates) GetByPhone(_ context.Context, phone string) (*domain.Candidate, error) {
	if cand, ok := c[phone]; ok {
		return cand, nil
	}
	return nil, repository.ErrNotFound
}

// flakyStore fails the next n updates with a plain error.
type flakyStore struct {
	*memory.SessionStore
	failures int
}

func (f *flakyStore) Update(ctx context.Context, s *domain.CallSession) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("write timeout")
	}
	return f.SessionStore.Update(ctx, s)
}

type harness struct {
	engine *Engine
	store  *memory.SessionStore
	events *recordingEvents
	jobs   *recordingJobs
	dialer *recordingDialer
}

func threeQuestions() []domain.Question {
	return []domain.Question{
		{ID: 11, Role: "backend", Text: "Tell me about your last project.", Position: 1},
		{ID: 12, Role: "backend", Text: "How do you test your code?", Position: 2},
		{ID: 13, Role: "backend", Text: "Why do you want this job?", Position: 3},
	}
}

func newHarness(t *testing.T, cfg Config, questions []domain.Question, mutate func(*Dependencies)) *harness {
	t.Helper()
	h := &harness{
		store:  memory.NewSessionStore(),
		events: &recordingEvents{},
		jobs:   &recordingJobs{},
		dialer: &recordingDialer{},
	}
	deps := Dependencies{
		Store:          h.store,
		Questions:      staticQuestions{"backend": questions},
		Decision:       decision.NewKeywords(decision.KeywordConfig{}),
		Events:         h.events,
		Transcriptions: h.jobs,
		Dialer:         h.dialer,
		Clock:          func() time.Time { return testNow },
	}
	if mutate != nil {
		mutate(&deps)
	}
	h.engine = New(cfg, deps, logger.NewNop())
	return h
}

func (h *harness) seed(t *testing.T, callSID string) {
	t.Helper()
	s := domain.NewCallSession(callSID, 1, "+15551230000", "backend", testNow)
	if err := h.store.Create(context.Background(), s); err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

func (h *harness) session(t *testing.T, callSID string) *domain.CallSession {
	t.Helper()
	s, err := h.store.Get(context.Background(), callSID)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	return s
}

// reply answers the instruction currently awaiting input.
func (h *harness) reply(t *testing.T, callSID, text string) domain.Instruction {
	t.Helper()
	s := h.session(t, callSID)
	return h.engine.Handle(context.Background(), domain.Event{
		CallSID:      callSID,
		SpeechResult: text,
		Turn:         s.Turn,
		Step:         string(s.Phase),
	})
}

func (h *harness) start(t *testing.T, callSID string) domain.Instruction {
	t.Helper()
	h.seed(t, callSID)
	return h.engine.Handle(context.Background(), domain.Event{CallSID: callSID, CallStatus: "in-progress", Turn: 0})
}

func TestFirstWebhookGreetsAndAsksForConsent(t *testing.T) {
	h := newHarness(t, Config{}, threeQuestions(), nil)

	instr := h.start(t, "CA1")
	if instr.Hangup || instr.Capture == nil {
		t.Fatalf("expected capture instruction, got %+v", instr)
	}
	if instr.Prompt.Key != "greeting" || instr.Capture.Mode != domain.CaptureGather {
		t.Fatalf("unexpected greeting %+v", instr)
	}

	s := h.session(t, "CA1")
	if s.Status != domain.SessionStatusInProgress || s.Phase != domain.PhaseAwaitingConsent {
		t.Fatalf("unexpected session state %s/%s", s.Status, s.Phase)
	}
	if s.Turn != 1 || instr.Capture.Turn != 1 || instr.Capture.Step != domain.PhaseAwaitingConsent {
		t.Fatalf("capture not tagged with turn: session turn %d, capture %+v", s.Turn, instr.Capture)
	}
	if s.StartedAt == nil {
		t.Fatalf("expected started_at")
	}
}

func TestYesAsksFirstQuestion(t *testing.T) {
	h := newHarness(t, Config{}, threeQuestions(), nil)
	h.start(t, "CA1")

	instr := h.reply(t, "CA1", "Yes, sure.")
	if instr.Capture == nil || instr.Capture.Mode != domain.CaptureGather {
		t.Fatalf("expected gather, got %+v", instr)
	}
	if instr.Prompt.Text != "Tell me about your last project." {
		t.Fatalf("expected first question, got %q", instr.Prompt.Text)
	}

	s := h.session(t, "CA1")
	if s.Consent != domain.ConsentGranted || s.Cursor != 0 || s.Phase != domain.PhaseAskingQuestion {
		t.Fatalf("unexpected session %+v", s)
	}
}

func TestDuplicateWebhookReplaysWithoutWrite(t *testing.T) {
	h := newHarness(t, Config{}, threeQuestions(), nil)
	h.start(t, "CA1")

	first := h.engine.Handle(context.Background(), domain.Event{CallSID: "CA1", SpeechResult: "yes", Turn: 1})
	writes := h.store.Writes()
	before := h.session(t, "CA1")

	second := h.engine.Handle(context.Background(), domain.Event{CallSID: "CA1", SpeechResult: "yes", Turn: 1})

	if h.store.Writes() != writes {
		t.Fatalf("replay wrote to the store")
	}
	if first.Prompt != second.Prompt || second.Capture == nil || *first.Capture != *second.Capture {
		t.Fatalf("replay differs: %+v vs %+v", first, second)
	}
	after := h.session(t, "CA1")
	if after.Turn != before.Turn || after.Cursor != before.Cursor || len(after.Answers) != len(before.Answers) {
		t.Fatalf("replay changed session")
	}
}

func TestEmptyQuestionSetCompletesAfterConsent(t *testing.T) {
	h := newHarness(t, Config{}, nil, nil)
	h.start(t, "CA1")

	instr := h.reply(t, "CA1", "yes")
	if !instr.Hangup || instr.Prompt.Key != "closing" {
		t.Fatalf("expected closing hangup, got %+v", instr)
	}
	s := h.session(t, "CA1")
	if s.Status != domain.SessionStatusCompleted || s.Consent != domain.ConsentGranted || s.CompletedAt == nil {
		t.Fatalf("unexpected session %+v", s)
	}
}

func TestUnclearConsentEndsWithDenialAtLimit(t *testing.T) {
	cfg := Config{MaxConsentAttempts: 3, UnclearPhrases: []string{"um", "I don't know"}}
	h := newHarness(t, cfg, threeQuestions(), nil)
	h.start(t, "CA1")

	replies := []string{"um", "", "purple elephants"}
	var instr domain.Instruction
	for i, r := range replies {
		instr = h.reply(t, "CA1", r)
		s := h.session(t, "CA1")
		if s.ConsentAttempts != i+1 {
			t.Fatalf("reply %d: expected %d attempts, got %d", i, i+1, s.ConsentAttempts)
		}
		if i < len(replies)-1 && (instr.Hangup || instr.Prompt.Key != "consent-reprompt") {
			t.Fatalf("reply %d: expected consent reprompt, got %+v", i, instr)
		}
	}

	if !instr.Hangup || instr.Prompt.Key != "denial" {
		t.Fatalf("expected denial hangup, got %+v", instr)
	}
	s := h.session(t, "CA1")
	if s.Status != domain.SessionStatusCompleted || s.Consent != domain.ConsentDenied {
		t.Fatalf("unexpected session %s/%s", s.Status, s.Consent)
	}
}

func TestNegativeConsentCloses(t *testing.T) {
	h := newHarness(t, Config{}, threeQuestions(), nil)
	h.start(t, "CA1")

	instr := h.reply(t, "CA1", "No, not interested.")
	if !instr.Hangup || instr.Prompt.Key != "closing" {
		t.Fatalf("expected closing hangup, got %+v", instr)
	}
	if s := h.session(t, "CA1"); s.Consent != domain.ConsentDenied || s.Status != domain.SessionStatusCompleted {
		t.Fatalf("unexpected session %s/%s", s.Status, s.Consent)
	}
}

func TestFullInterviewStoresOrderedAnswers(t *testing.T) {
	h := newHarness(t, Config{}, threeQuestions(), nil)
	h.start(t, "CA1")
	h.reply(t, "CA1", "yes")

	answers := []string{"A payments service in Go.", "Table driven tests.", "I like the team."}
	var instr domain.Instruction
	for i, a := range answers {
		instr = h.reply(t, "CA1", a)
		if s := h.session(t, "CA1"); s.Cursor != i+1 {
			t.Fatalf("answer %d: expected cursor %d, got %d", i, i+1, s.Cursor)
		}
	}

	if !instr.Hangup || instr.Prompt.Key != "closing" {
		t.Fatalf("expected closing hangup, got %+v", instr)
	}
	s := h.session(t, "CA1")
	if s.Status != domain.SessionStatusCompleted || len(s.Answers) != 3 {
		t.Fatalf("unexpected session %s with %d answers", s.Status, len(s.Answers))
	}
	for i, a := range s.Answers {
		if a.QuestionID != threeQuestions()[i].ID || a.Transcript == nil || *a.Transcript != answers[i] {
			t.Fatalf("answer %d out of order: %+v", i, a)
		}
	}
}

func TestRescheduleCapturesPreference(t *testing.T) {
	h := newHarness(t, Config{}, threeQuestions(), nil)
	h.start(t, "CA1")

	instr := h.reply(t, "CA1", "Can you call me later?")
	if instr.Hangup || instr.Capture == nil || instr.Prompt.Key != "reschedule-request" {
		t.Fatalf("expected reschedule request, got %+v", instr)
	}
	s := h.session(t, "CA1")
	if s.Status != domain.SessionStatusRescheduled || s.Phase != domain.PhaseAwaitingRescheduleTime {
		t.Fatalf("unexpected session %s/%s", s.Status, s.Phase)
	}

	instr = h.reply(t, "CA1", "Tomorrow at 5 pm")
	if !instr.Hangup || instr.Prompt.Key != "reschedule-confirm" {
		t.Fatalf("expected confirmation hangup, got %+v", instr)
	}
	s = h.session(t, "CA1")
	if s.RescheduleNote != "Tomorrow at 5 pm" || s.Phase != domain.PhaseDone || s.Status != domain.SessionStatusRescheduled {
		t.Fatalf("unexpected session %+v", s)
	}

	// The call is over; further input changes nothing.
	writes := h.store.Writes()
	h.reply(t, "CA1", "hello?")
	if h.store.Writes() != writes {
		t.Fatalf("terminal session was written")
	}
}

func TestEmptyAnswerRepeatsSameQuestion(t *testing.T) {
	h := newHarness(t, Config{MaxReprompts: 2}, threeQuestions(), nil)
	h.start(t, "CA1")
	h.reply(t, "CA1", "yes")
	h.reply(t, "CA1", "first answer")
	asked := h.reply(t, "CA1", "second answer")
	if asked.Prompt.Text != "Why do you want this job?" {
		t.Fatalf("expected third question, got %+v", asked.Prompt)
	}

	for i := 0; i < 2; i++ {
		instr := h.reply(t, "CA1", "")
		if instr.Hangup || instr.Prompt != asked.Prompt {
			t.Fatalf("reprompt %d: expected %+v unchanged, got %+v", i, asked.Prompt, instr.Prompt)
		}
		if s := h.session(t, "CA1"); s.Reprompts != i+1 {
			t.Fatalf("reprompt %d: expected %d reprompts counted, got %d", i, i+1, s.Reprompts)
		}
		if s := h.session(t, "CA1"); s.Cursor != 2 || len(s.Answers) != 2 {
			t.Fatalf("reprompt %d: cursor moved to %d", i, s.Cursor)
		}
	}

	instr := h.reply(t, "CA1", "")
	if !instr.Hangup || instr.Prompt.Key != "apology" {
		t.Fatalf("expected apology once budget is spent, got %+v", instr)
	}
	if s := h.session(t, "CA1"); s.Status != domain.SessionStatusFailed || s.Cursor != 2 {
		t.Fatalf("unexpected session %s cursor %d", s.Status, s.Cursor)
	}
}

func TestMachineAnsweredMidInterview(t *testing.T) {
	h := newHarness(t, Config{}, threeQuestions(), nil)
	h.start(t, "CA1")
	h.reply(t, "CA1", "yes")

	s := h.session(t, "CA1")
	instr := h.engine.Handle(context.Background(), domain.Event{CallSID: "CA1", AnsweredBy: "machine_end_beep", Turn: s.Turn})
	if !instr.Hangup || instr.Capture != nil || instr.Prompt.Key != "voicemail" {
		t.Fatalf("expected voicemail hangup, got %+v", instr)
	}
	s = h.session(t, "CA1")
	if s.Status != domain.SessionStatusVoicemail {
		t.Fatalf("expected voicemail status, got %s", s.Status)
	}

	next := h.reply(t, "CA1", "hello")
	if next.Capture != nil || !next.Hangup {
		t.Fatalf("expected no further prompts, got %+v", next)
	}
}

func TestMachineDuringRescheduleRequestKeepsRescheduled(t *testing.T) {
	h := newHarness(t, Config{}, threeQuestions(), nil)
	h.start(t, "CA1")
	h.reply(t, "CA1", "Can you call me later?")

	s := h.session(t, "CA1")
	instr := h.engine.Handle(context.Background(), domain.Event{CallSID: "CA1", AnsweredBy: "machine_end_beep", Turn: s.Turn})
	if !instr.Hangup || instr.Capture != nil || instr.Prompt.Key != "voicemail" {
		t.Fatalf("expected voicemail hangup, got %+v", instr)
	}
	s = h.session(t, "CA1")
	if s.Status != domain.SessionStatusRescheduled || s.Phase != domain.PhaseDone {
		t.Fatalf("expected rescheduled/done, got %s/%s", s.Status, s.Phase)
	}
}

func TestAsyncMachineDetectionDuringRescheduleRequest(t *testing.T) {
	h := newHarness(t, Config{}, threeQuestions(), nil)
	h.start(t, "CA1")
	h.reply(t, "CA1", "Can you call me later?")

	err := h.engine.HandleStatus(context.Background(), domain.StatusEvent{CallSID: "CA1", CallStatus: "in-progress", AnsweredBy: "machine_end_other"})
	if err != nil {
		t.Fatalf("handle status: %v", err)
	}
	s := h.session(t, "CA1")
	if s.Status != domain.SessionStatusRescheduled || s.Phase != domain.PhaseDone {
		t.Fatalf("expected rescheduled/done, got %s/%s", s.Status, s.Phase)
	}
	if instr, ok := h.dialer.interrupted["CA1"]; !ok || instr.Prompt.Key != "voicemail" {
		t.Fatalf("expected voicemail interrupt, got %+v", instr)
	}
}

func TestAsyncMachineDetectionInterruptsCall(t *testing.T) {
	h := newHarness(t, Config{}, threeQuestions(), nil)
	h.start(t, "CA1")

	err := h.engine.HandleStatus(context.Background(), domain.StatusEvent{CallSID: "CA1", CallStatus: "in-progress", AnsweredBy: "machine_start"})
	if err != nil {
		t.Fatalf("handle status: %v", err)
	}
	if s := h.session(t, "CA1"); s.Status != domain.SessionStatusVoicemail || s.Turn != 2 {
		t.Fatalf("unexpected session %s turn %d", s.Status, s.Turn)
	}
	instr, ok := h.dialer.interrupted["CA1"]
	if !ok || !instr.Hangup || instr.Prompt.Key != "voicemail" {
		t.Fatalf("expected voicemail interrupt, got %+v", instr)
	}

	// The gather posted before the interrupt is stale.
	late := h.engine.Handle(context.Background(), domain.Event{CallSID: "CA1", SpeechResult: "yes", Turn: 1})
	if !late.Hangup || late.Prompt.Key != "voicemail" {
		t.Fatalf("expected replay of voicemail, got %+v", late)
	}
}

func TestStatusCallbacks(t *testing.T) {
	h := newHarness(t, Config{}, threeQuestions(), nil)
	ctx := context.Background()

	h.seed(t, "CA-ring")
	if err := h.engine.HandleStatus(ctx, domain.StatusEvent{CallSID: "CA-ring", CallStatus: "ringing"}); err != nil {
		t.Fatalf("ringing: %v", err)
	}
	if s := h.session(t, "CA-ring"); s.Status != domain.SessionStatusRinging {
		t.Fatalf("expected ringing, got %s", s.Status)
	}
	if err := h.engine.HandleStatus(ctx, domain.StatusEvent{CallSID: "CA-ring", CallStatus: "no-answer"}); err != nil {
		t.Fatalf("no-answer: %v", err)
	}
	if s := h.session(t, "CA-ring"); s.Status != domain.SessionStatusFailed || s.Active() {
		t.Fatalf("expected failed, got %s", s.Status)
	}

	h.start(t, "CA-live")
	if err := h.engine.HandleStatus(ctx, domain.StatusEvent{CallSID: "CA-live", CallStatus: "completed"}); err != nil {
		t.Fatalf("completed: %v", err)
	}
	s := h.session(t, "CA-live")
	if s.Status != domain.SessionStatusInProgress || s.DisconnectedAt == nil || s.Active() {
		t.Fatalf("expected disconnected in-progress session, got %s %v", s.Status, s.DisconnectedAt)
	}

	if err := h.engine.HandleStatus(ctx, domain.StatusEvent{CallSID: "CA-unknown", CallStatus: "completed"}); err != nil {
		t.Fatalf("unknown call should be ignored: %v", err)
	}
}

func TestNarrationFallsBackToSay(t *testing.T) {
	narrator := &stubNarrator{err: errors.New("quota exceeded")}
	h := newHarness(t, Config{}, threeQuestions(), func(d *Dependencies) { d.Narrator = narrator })

	instr := h.start(t, "CA1")
	if instr.Prompt.AudioURL != "" || instr.Prompt.Text == "" || instr.Capture == nil {
		t.Fatalf("expected inline speech, got %+v", instr)
	}
	if narrator.calls != 1 {
		t.Fatalf("expected one narration call, got %d", narrator.calls)
	}
}

func TestNarrationAudioIsNotPersisted(t *testing.T) {
	narrator := &stubNarrator{}
	h := newHarness(t, Config{}, threeQuestions(), func(d *Dependencies) { d.Narrator = narrator })

	instr := h.start(t, "CA1")
	if instr.Prompt.AudioURL != "https://voice.example.com/media/CA1-greeting.mp3" {
		t.Fatalf("unexpected audio url %q", instr.Prompt.AudioURL)
	}
	if s := h.session(t, "CA1"); s.LastInstruction == nil || s.LastInstruction.Prompt.AudioURL != "" {
		t.Fatalf("stored instruction should not carry audio: %+v", s.LastInstruction)
	}
}

func TestDecisionFailureCountsAsUnknown(t *testing.T) {
	dec := &scriptedDecision{err: errors.New("timeout")}
	h := newHarness(t, Config{}, threeQuestions(), func(d *Dependencies) { d.Decision = dec })
	h.start(t, "CA1")

	instr := h.reply(t, "CA1", "yes please")
	if instr.Prompt.Key != "consent-reprompt" {
		t.Fatalf("expected consent reprompt, got %+v", instr)
	}
	if s := h.session(t, "CA1"); s.ConsentAttempts != 1 || s.Consent != domain.ConsentUnknown {
		t.Fatalf("unexpected consent state %d/%s", s.ConsentAttempts, s.Consent)
	}
	if dec.calls != 1 {
		t.Fatalf("expected one decision call, got %d", dec.calls)
	}
}

func TestClarifyDoesNotConsumeAttempts(t *testing.T) {
	dec := &scriptedDecision{result: domain.DecisionResult{Action: domain.ActionClarify, Message: "This is a short screening call for the backend role."}}
	h := newHarness(t, Config{}, threeQuestions(), func(d *Dependencies) { d.Decision = dec })
	h.start(t, "CA1")

	instr := h.reply(t, "CA1", "what is this about?")
	if !strings.HasPrefix(instr.Prompt.Text, "This is a short screening call") || instr.Capture == nil {
		t.Fatalf("expected clarification, got %+v", instr)
	}
	if s := h.session(t, "CA1"); s.ConsentAttempts != 0 {
		t.Fatalf("clarify consumed an attempt")
	}
}

func TestRecordedAnswersAreTranscribedInBackground(t *testing.T) {
	cfg := Config{CaptureMode: domain.CaptureRecord}
	h := newHarness(t, cfg, threeQuestions()[:1], func(d *Dependencies) {
		d.Transcriber = stubTranscriber{text: "yes"}
	})
	ctx := context.Background()

	instr := h.start(t, "CA1")
	if instr.Capture == nil || instr.Capture.Mode != domain.CaptureRecord {
		t.Fatalf("expected record capture, got %+v", instr)
	}

	s := h.session(t, "CA1")
	instr = h.engine.Handle(ctx, domain.Event{CallSID: "CA1", RecordingURL: "https://api.example.com/rec/RE1", RecordingSID: "RE1", RecordingDuration: 2, Turn: s.Turn})
	if instr.Prompt.Key != "question-11" {
		t.Fatalf("expected first question after inline consent transcription, got %+v", instr)
	}

	s = h.session(t, "CA1")
	instr = h.engine.Handle(ctx, domain.Event{CallSID: "CA1", RecordingURL: "https://api.example.com/rec/RE2", RecordingSID: "RE2", RecordingDuration: 40, Turn: s.Turn})
	if !instr.Hangup {
		t.Fatalf("expected closing, got %+v", instr)
	}

	s = h.session(t, "CA1")
	if len(s.Answers) != 1 || s.Answers[0].Transcript != nil || s.Answers[0].RecordingURL != "https://api.example.com/rec/RE2" {
		t.Fatalf("unexpected answers %+v", s.Answers)
	}
	if len(h.jobs.jobs) != 1 || h.jobs.jobs[0].QuestionID != 11 || h.jobs.jobs[0].RecordingSID != "RE2" {
		t.Fatalf("unexpected jobs %+v", h.jobs.jobs)
	}

	if err := h.engine.ApplyTranscript(ctx, domain.TranscriptUpdate{CallSID: "CA1", QuestionID: 11, Transcript: "I built a billing system."}); err != nil {
		t.Fatalf("apply transcript: %v", err)
	}
	if err := h.engine.ApplyTranscript(ctx, domain.TranscriptUpdate{CallSID: "CA1", QuestionID: 11, Transcript: "overwritten"}); err != nil {
		t.Fatalf("apply transcript again: %v", err)
	}
	s = h.session(t, "CA1")
	if s.Answers[0].Transcript == nil || *s.Answers[0].Transcript != "I built a billing system." {
		t.Fatalf("unexpected transcript %+v", s.Answers[0].Transcript)
	}

	if err := h.engine.ApplyTranscript(ctx, domain.TranscriptUpdate{CallSID: "CA1", QuestionID: 99, Transcript: "x"}); err == nil {
		t.Fatalf("expected error for unknown question")
	}
}

func TestStoreFailureIsRetriedOnce(t *testing.T) {
	base := memory.NewSessionStore()
	flaky := &flakyStore{SessionStore: base, failures: 1}
	h := newHarness(t, Config{}, threeQuestions(), func(d *Dependencies) { d.Store = flaky })
	h.store = base

	instr := h.start(t, "CA1")
	if instr.Prompt.Key != "greeting" {
		t.Fatalf("expected greeting after one retry, got %+v", instr)
	}

	flaky.failures = 2
	instr = h.reply(t, "CA1", "yes")
	if !instr.Hangup || instr.Prompt.Key != "apology" {
		t.Fatalf("expected apology after repeated failure, got %+v", instr)
	}
	if s := h.session(t, "CA1"); s.Phase != domain.PhaseAwaitingConsent {
		t.Fatalf("failed write changed the session")
	}
}

func TestUnknownCallBootstrapsFromCandidate(t *testing.T) {
	cands := stubCandidates{"+15550009999": {ID: 42, Phone: "+15550009999", Role: "backend"}}
	h := newHarness(t, Config{}, threeQuestions(), func(d *Dependencies) { d.Candidates = cands })

	instr := h.engine.Handle(context.Background(), domain.Event{CallSID: "CA7", To: "+15550009999", From: "+15550000000"})
	if instr.Prompt.Key != "greeting" {
		t.Fatalf("expected greeting, got %+v", instr)
	}
	if s := h.session(t, "CA7"); s.CandidateID != 42 || s.Role != "backend" {
		t.Fatalf("unexpected bootstrapped session %+v", s)
	}
}

func TestUnknownCallRefusedWhileCandidateIsOnAnotherCall(t *testing.T) {
	cands := stubCandidates{"+15551230000": {ID: 1, Phone: "+15551230000", Role: "backend"}}
	h := newHarness(t, Config{}, threeQuestions(), func(d *Dependencies) { d.Candidates = cands })
	h.start(t, "CA1")

	instr := h.engine.Handle(context.Background(), domain.Event{CallSID: "CA2", From: "+15551230000"})
	if !instr.Hangup || instr.Prompt.Key != "apology" {
		t.Fatalf("expected apology, got %+v", instr)
	}
	if _, err := h.store.Get(context.Background(), "CA2"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected no second session, got %v", err)
	}
	if s := h.session(t, "CA1"); s.Status != domain.SessionStatusInProgress {
		t.Fatalf("first call disturbed: %s", s.Status)
	}
}

// lateStore misses the first lookup of a session, as when the dispatcher
// registers the call between the webhook's read and its bootstrap.
type lateStore struct {
	*memory.SessionStore
	misses int
}

func (l *lateStore) Get(ctx context.Context, callSID string) (*domain.CallSession, error) {
	if l.misses > 0 {
		l.misses--
		return nil, repository.ErrNotFound
	}
	return l.SessionStore.Get(ctx, callSID)
}

func TestBootstrapDefersToSessionRegisteredMeanwhile(t *testing.T) {
	cands := stubCandidates{"+15551230000": {ID: 1, Phone: "+15551230000", Role: "backend"}}
	late := &lateStore{misses: 1}
	h := newHarness(t, Config{}, threeQuestions(), func(d *Dependencies) {
		d.Candidates = cands
		late.SessionStore = d.Store.(*memory.SessionStore)
		d.Store = late
	})
	h.seed(t, "CA1")

	instr := h.engine.Handle(context.Background(), domain.Event{CallSID: "CA1", To: "+15551230000"})
	if instr.Prompt.Key != "greeting" {
		t.Fatalf("expected greeting, got %+v", instr)
	}
	if s := h.session(t, "CA1"); s.Status != domain.SessionStatusInProgress || s.Turn != 1 {
		t.Fatalf("unexpected session %s turn %d", s.Status, s.Turn)
	}
}

func TestFinishCompletesLiveCall(t *testing.T) {
	h := newHarness(t, Config{}, threeQuestions(), nil)
	h.start(t, "CA1")
	h.reply(t, "CA1", "yes")
	h.reply(t, "CA1", "first answer")

	s, err := h.engine.Finish(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if s.Status != domain.SessionStatusCompleted || s.Phase != domain.PhaseDone || s.CompletedAt == nil || len(s.Answers) != 1 {
		t.Fatalf("unexpected session %+v", s)
	}
	if instr, ok := h.dialer.interrupted["CA1"]; !ok || !instr.Hangup || instr.Prompt.Key != "closing" {
		t.Fatalf("expected closing interrupt, got %+v", instr)
	}

	// A gather posted before the finish replays the closing line.
	late := h.engine.Handle(context.Background(), domain.Event{CallSID: "CA1", SpeechResult: "more", Turn: s.Turn - 1})
	if !late.Hangup || late.Prompt.Key != "closing" {
		t.Fatalf("expected closing replay, got %+v", late)
	}

	if _, err := h.engine.Finish(context.Background(), "CA1"); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Fatalf("expected invalid state on second finish, got %v", err)
	}
	if _, err := h.engine.Finish(context.Background(), "CA-missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFinishWithoutLiveCallDoesNotInterrupt(t *testing.T) {
	h := newHarness(t, Config{}, threeQuestions(), nil)
	h.start(t, "CA1")
	if err := h.engine.HandleStatus(context.Background(), domain.StatusEvent{CallSID: "CA1", CallStatus: "completed"}); err != nil {
		t.Fatalf("hangup status: %v", err)
	}

	s, err := h.engine.Finish(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if s.Status != domain.SessionStatusCompleted {
		t.Fatalf("expected completed, got %s", s.Status)
	}
	if _, ok := h.dialer.interrupted["CA1"]; ok {
		t.Fatalf("disconnected call was interrupted")
	}
}

func TestQuestionAudioIsSharedAcrossCalls(t *testing.T) {
	narrator := &stubNarrator{}
	h := newHarness(t, Config{}, threeQuestions(), func(d *Dependencies) { d.Narrator = narrator })
	h.start(t, "CA1")
	first := h.reply(t, "CA1", "yes")
	h.start(t, "CA2")
	second := h.reply(t, "CA2", "yes")

	want := "https://voice.example.com/media/question-11.mp3"
	if first.Prompt.AudioURL != want || second.Prompt.AudioURL != want {
		t.Fatalf("expected shared question audio, got %q and %q", first.Prompt.AudioURL, second.Prompt.AudioURL)
	}
}

func TestUnknownCallWithoutCandidateApologizes(t *testing.T) {
	h := newHarness(t, Config{}, threeQuestions(), func(d *Dependencies) { d.Candidates = stubCandidates{} })

	instr := h.engine.Handle(context.Background(), domain.Event{CallSID: "CA8", To: "+15550001234"})
	if !instr.Hangup || instr.Prompt.Key != "apology" {
		t.Fatalf("expected apology, got %+v", instr)
	}
	if _, err := h.store.Get(context.Background(), "CA8"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected no session, got %v", err)
	}
}

func TestEveryTransitionIsPublished(t *testing.T) {
	h := newHarness(t, Config{}, threeQuestions(), nil)
	h.start(t, "CA1")
	h.reply(t, "CA1", "yes")
	h.reply(t, "CA1", "yes")

	if len(h.events.events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(h.events.events))
	}
	last := h.events.events[2]
	if last.Cursor != 1 || len(last.Answers) != 1 || last.Status != domain.SessionStatusInProgress {
		t.Fatalf("unexpected last event %+v", last)
	}
}

func TestAdaptiveAnswersConsultDecision(t *testing.T) {
	dec := &scriptedDecision{result: domain.DecisionResult{Action: domain.ActionNext}}
	h := newHarness(t, Config{AdaptiveAnswers: true}, threeQuestions(), func(d *Dependencies) { d.Decision = dec })
	h.start(t, "CA1")
	h.reply(t, "CA1", "yes")

	dec.result = domain.DecisionResult{Action: domain.ActionUnknown}
	instr := h.reply(t, "CA1", "bananas")
	if !strings.Contains(instr.Prompt.Text, "Tell me about your last project.") {
		t.Fatalf("unknown must re-prompt the same question, got %+v", instr)
	}
	if s := h.session(t, "CA1"); s.Cursor != 0 || len(s.Answers) != 0 {
		t.Fatalf("unknown advanced the interview")
	}

	dec.result = domain.DecisionResult{Action: domain.ActionNext}
	instr = h.reply(t, "CA1", "I shipped a queue.")
	if instr.Prompt.Text != "How do you test your code?" {
		t.Fatalf("expected second question, got %+v", instr)
	}
}

func TestRecordedAnswersWithoutQueueAreTranscribedInline(t *testing.T) {
	cfg := Config{CaptureMode: domain.CaptureRecord}
	h := newHarness(t, cfg, threeQuestions()[:1], func(d *Dependencies) {
		d.Transcriber = stubTranscriber{text: "yes"}
		d.Transcriptions = nil
	})
	ctx := context.Background()

	h.start(t, "CA1")
	s := h.session(t, "CA1")
	h.engine.Handle(ctx, domain.Event{CallSID: "CA1", RecordingURL: "https://api.example.com/rec/RE1", RecordingSID: "RE1", RecordingDuration: 2, Turn: s.Turn})

	s = h.session(t, "CA1")
	instr := h.engine.Handle(ctx, domain.Event{CallSID: "CA1", RecordingURL: "https://api.example.com/rec/RE2", RecordingSID: "RE2", RecordingDuration: 40, Turn: s.Turn})
	if !instr.Hangup {
		t.Fatalf("expected closing, got %+v", instr)
	}

	s = h.session(t, "CA1")
	if len(s.Answers) != 1 || s.Answers[0].Transcript == nil || *s.Answers[0].Transcript != "yes" {
		t.Fatalf("expected inline transcript, got %+v", s.Answers)
	}
	if len(h.jobs.jobs) != 0 {
		t.Fatalf("expected no background jobs, got %+v", h.jobs.jobs)
	}
}
