package domain

import (
	"strconv"
	"time"
)

// CaptureMode selects how the caller's reply is collected.
type CaptureMode string

const (
	CaptureGather CaptureMode = "gather"
	CaptureRecord CaptureMode = "record"
)

// Prompt is what the caller hears. AudioURL is filled in when a synthesized
// artifact exists; otherwise the provider speaks Text directly. Shared marks
// prompts whose audio is the same on every call, such as catalog questions.
type Prompt struct {
	Key      string `json:"key"`
	Text     string `json:"text"`
	AudioURL string `json:"audio_url,omitempty"`
	Shared   bool   `json:"shared,omitempty"`
}

// QuestionPromptKey is the prompt key of a catalog question.
func QuestionPromptKey(questionID int64) string {
	return "question-" + strconv.FormatInt(questionID, 10)
}

// Capture asks the provider to collect the caller's reply and post it back
// tagged with the turn it answers.
type Capture struct {
	Mode      CaptureMode   `json:"mode"`
	Turn      int           `json:"turn"`
	Step      Phase         `json:"step"`
	Timeout   time.Duration `json:"timeout"`
	MaxLength time.Duration `json:"max_length,omitempty"`
	Language  string        `json:"language,omitempty"`
}

// Instruction is the provider-agnostic reply to one webhook.
type Instruction struct {
	Prompt  Prompt   `json:"prompt"`
	Capture *Capture `json:"capture,omitempty"`
	Hangup  bool     `json:"hangup"`
}

// Clone returns a copy that shares no pointers with the receiver.
func (i Instruction) Clone() Instruction {
	out := i
	if i.Capture != nil {
		c := *i.Capture
		out.Capture = &c
	}
	return out
}
