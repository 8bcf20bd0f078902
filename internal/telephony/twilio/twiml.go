package twilio

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/twilio/twilio-go/twiml"

	"github.com/acme/voice-interview/internal/domain"
	"github.com/acme/voice-interview/internal/telephony"
)

// Renderer turns provider-agnostic instructions into TwiML documents.
type Renderer struct {
	baseURL  string
	voice    string
	language string
}

// NewRenderer constructs a renderer. Action URLs are absolute so they
// survive proxies that rewrite the request host.
func NewRenderer(publicBaseURL, voice, language string) *Renderer {
	return &Renderer{
		baseURL:  strings.TrimRight(publicBaseURL, "/"),
		voice:    voice,
		language: language,
	}
}

// Render builds the TwiML response for one instruction.
func (r *Renderer) Render(instr domain.Instruction) (string, error) {
	var verbs []twiml.Element

	switch {
	case instr.Prompt.AudioURL != "":
		verbs = append(verbs, &twiml.VoicePlay{Url: instr.Prompt.AudioURL})
	case instr.Prompt.Text != "":
		verbs = append(verbs, &twiml.VoiceSay{
			Message:  instr.Prompt.Text,
			Voice:    r.voice,
			Language: r.language,
		})
	}

	if c := instr.Capture; c != nil && !instr.Hangup {
		action := r.ActionURL(c.Turn, c.Step)
		switch c.Mode {
		case domain.CaptureRecord:
			verbs = append(verbs, &twiml.VoiceRecord{
				Action:    action,
				Method:    "POST",
				Timeout:   seconds(c.Timeout),
				MaxLength: seconds(c.MaxLength),
				PlayBeep:  "true",
				Trim:      "trim-silence",
			})
		default:
			lang := c.Language
			if lang == "" {
				lang = r.language
			}
			verbs = append(verbs, &twiml.VoiceGather{
				Action:              action,
				Method:              "POST",
				Input:               "speech",
				Timeout:             seconds(c.Timeout),
				SpeechTimeout:       "auto",
				Language:            lang,
				ActionOnEmptyResult: "true",
			})
		}
		// Reached only when the caller said nothing; the engine treats the
		// redirect as empty input for the same turn.
		verbs = append(verbs, &twiml.VoiceRedirect{Url: action, Method: "POST"})
	}

	if instr.Hangup {
		verbs = append(verbs, &twiml.VoiceHangup{})
	}

	doc, err := twiml.Voice(verbs)
	if err != nil {
		return "", fmt.Errorf("twiml: render: %w", err)
	}
	return doc, nil
}

// ActionURL is the voice webhook URL tagged with the turn being answered.
func (r *Renderer) ActionURL(turn int, step domain.Phase) string {
	q := url.Values{}
	q.Set("turn", strconv.Itoa(turn))
	if step != "" {
		q.Set("step", string(step))
	}
	return r.baseURL + telephony.VoicePath + "?" + q.Encode()
}

// URL joins a webhook path onto the public base URL.
func (r *Renderer) URL(path string) string {
	return r.baseURL + path
}

func seconds(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	s := int(d.Round(time.Second) / time.Second)
	if s < 1 {
		s = 1
	}
	return strconv.Itoa(s)
}
