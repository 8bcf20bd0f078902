package domain

import (
	"fmt"
	"time"
)

// SessionStatus enumerates the lifecycle of an interview call.
type SessionStatus string

const (
	SessionStatusScheduled   SessionStatus = "scheduled"
	SessionStatusRinging     SessionStatus = "ringing"
	SessionStatusInProgress  SessionStatus = "in_progress"
	SessionStatusCompleted   SessionStatus = "completed"
	SessionStatusRescheduled SessionStatus = "rescheduled"
	SessionStatusVoicemail   SessionStatus = "voicemail"
	SessionStatusFailed      SessionStatus = "failed"
)

var statusTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusScheduled: {
		SessionStatusRinging, SessionStatusInProgress, SessionStatusVoicemail, SessionStatusFailed,
	},
	SessionStatusRinging: {
		SessionStatusInProgress, SessionStatusVoicemail, SessionStatusFailed,
	},
	SessionStatusInProgress: {
		SessionStatusCompleted, SessionStatusRescheduled, SessionStatusVoicemail, SessionStatusFailed,
	},
}

// Terminal reports whether no further question prompts may follow.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusRescheduled, SessionStatusVoicemail, SessionStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	if s == next {
		return true
	}
	for _, candidate := range statusTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ConsentState tracks the candidate's agreement to be interviewed.
type ConsentState string

const (
	ConsentUnknown ConsentState = "unknown"
	ConsentGranted ConsentState = "granted"
	ConsentDenied  ConsentState = "denied"
)

// Phase is the dialogue position persisted between webhooks.
type Phase string

const (
	PhaseInitial                Phase = "initial"
	PhaseAwaitingConsent        Phase = "awaiting_consent"
	PhaseAskingQuestion         Phase = "asking_question"
	PhaseAwaitingRescheduleTime Phase = "awaiting_reschedule_time"
	PhaseDone                   Phase = "done"
)

// Answer is one captured response tied to a question of the role's set.
type Answer struct {
	QuestionID   int64     `json:"question_id"`
	Position     int       `json:"position"`
	Transcript   *string   `json:"transcript,omitempty"`
	RecordingURL string    `json:"recording_url,omitempty"`
	AnsweredAt   time.Time `json:"answered_at"`
}

// CallSession is the durable per-call interview record.
type CallSession struct {
	CallSID         string        `json:"call_sid"`
	CandidateID     int64         `json:"candidate_id"`
	Phone           string        `json:"phone"`
	Role            string        `json:"role"`
	Status          SessionStatus `json:"status"`
	Phase           Phase         `json:"phase"`
	Consent         ConsentState  `json:"consent"`
	ConsentAttempts int           `json:"consent_attempts"`
	Cursor          int           `json:"cursor"`
	Answers         []Answer      `json:"answers"`
	Reprompts       int           `json:"reprompts"`
	Turn            int           `json:"turn"`
	LastInstruction *Instruction  `json:"last_instruction,omitempty"`
	RescheduleNote  string        `json:"reschedule_note,omitempty"`
	RecordingURLs   []string      `json:"recording_urls,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	DisconnectedAt  *time.Time    `json:"disconnected_at,omitempty"`
	UpdatedAt       time.Time     `json:"updated_at"`
	Version         int64         `json:"version"`
}

// NewCallSession returns a freshly registered session awaiting pickup.
func NewCallSession(callSID string, candidateID int64, phone, role string, now time.Time) *CallSession {
	return &CallSession{
		CallSID:     callSID,
		CandidateID: candidateID,
		Phone:       phone,
		Role:        role,
		Status:      SessionStatusScheduled,
		Phase:       PhaseInitial,
		Consent:     ConsentUnknown,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// SetStatus moves the session along the status graph.
func (s *CallSession) SetStatus(next SessionStatus, now time.Time) error {
	if !s.Status.CanTransitionTo(next) {
		return fmt.Errorf("session %s: illegal status transition %s -> %s", s.CallSID, s.Status, next)
	}
	if next == SessionStatusInProgress && s.StartedAt == nil {
		started := now
		s.StartedAt = &started
	}
	if next.Terminal() && s.CompletedAt == nil {
		completed := now
		s.CompletedAt = &completed
	}
	s.Status = next
	return nil
}

// Active reports whether the session still blocks a new interview for the candidate.
func (s *CallSession) Active() bool {
	return !s.Status.Terminal() && s.DisconnectedAt == nil
}

// AcceptsInput reports whether a captured utterance can still change the session.
func (s *CallSession) AcceptsInput() bool {
	if s.Status == SessionStatusRescheduled {
		return s.Phase == PhaseAwaitingRescheduleTime
	}
	return !s.Status.Terminal()
}

// AnswerFor returns the stored answer for a question, if any.
func (s *CallSession) AnswerFor(questionID int64) (*Answer, bool) {
	for i := range s.Answers {
		if s.Answers[i].QuestionID == questionID {
			return &s.Answers[i], true
		}
	}
	return nil, false
}

// AppendAnswer stores an answer once per question. It reports whether the
// answer was new.
func (s *CallSession) AppendAnswer(answer Answer) bool {
	if _, ok := s.AnswerFor(answer.QuestionID); ok {
		return false
	}
	s.Answers = append(s.Answers, answer)
	if answer.RecordingURL != "" {
		s.RecordingURLs = append(s.RecordingURLs, answer.RecordingURL)
	}
	return true
}

// Clone returns a deep copy so a transition can be computed without touching
// the stored value.
func (s *CallSession) Clone() *CallSession {
	if s == nil {
		return nil
	}
	out := *s
	if s.Answers != nil {
		out.Answers = make([]Answer, len(s.Answers))
		for i, a := range s.Answers {
			out.Answers[i] = a
			if a.Transcript != nil {
				t := *a.Transcript
				out.Answers[i].Transcript = &t
			}
		}
	}
	if s.RecordingURLs != nil {
		out.RecordingURLs = append([]string(nil), s.RecordingURLs...)
	}
	if s.LastInstruction != nil {
		instr := s.LastInstruction.Clone()
		out.LastInstruction = &instr
	}
	out.StartedAt = cloneTime(s.StartedAt)
	out.CompletedAt = cloneTime(s.CompletedAt)
	out.DisconnectedAt = cloneTime(s.DisconnectedAt)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
