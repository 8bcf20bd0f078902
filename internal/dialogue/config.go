package dialogue

import (
	"time"

	"github.com/acme/voice-interview/internal/config"
	"github.com/acme/voice-interview/internal/domain"
)

// Prompts are the fixed lines spoken outside of the question set.
type Prompts struct {
	Greeting          string
	ConsentReprompt   string
	Closing           string
	Denial            string
	RescheduleRequest string
	RescheduleConfirm string
	Voicemail         string
	Apology           string
	Goodbye           string
}

// Config tunes the engine.
type Config struct {
	MaxConsentAttempts   int
	MaxReprompts         int
	GatherTimeout        time.Duration
	RecordingTimeout     time.Duration
	MaxRecordingLength   time.Duration
	Language             string
	CaptureMode          domain.CaptureMode
	AdaptiveAnswers      bool
	UnclearPhrases       []string
	DefaultRole          string
	TranscriptionTimeout time.Duration
	DecisionTimeout      time.Duration
	Prompts              Prompts
}

// ConfigFrom maps application configuration onto engine settings.
func ConfigFrom(ic config.InterviewConfig, pc config.PromptsConfig) Config {
	return Config{
		MaxConsentAttempts:   ic.MaxConsentAttempts,
		MaxReprompts:         ic.MaxReprompts,
		GatherTimeout:        ic.SpeechGatherTimeout,
		RecordingTimeout:     ic.RecordingTimeout,
		MaxRecordingLength:   ic.MaxRecordingLength,
		Language:             ic.Language,
		CaptureMode:          domain.CaptureMode(ic.CaptureMode),
		AdaptiveAnswers:      ic.AdaptiveAnswers,
		UnclearPhrases:       ic.UnclearPhrases,
		DefaultRole:          ic.DefaultRole,
		TranscriptionTimeout: ic.TranscriptionTimeout,
		DecisionTimeout:      ic.DecisionTimeout,
		Prompts: Prompts{
			Greeting:          pc.Greeting,
			ConsentReprompt:   pc.ConsentReprompt,
			Closing:           pc.Closing,
			Denial:            pc.Denial,
			RescheduleRequest: pc.RescheduleRequest,
			RescheduleConfirm: pc.RescheduleConfirm,
			Voicemail:         pc.Voicemail,
			Apology:           pc.Apology,
			Goodbye:           pc.Goodbye,
		},
	}
}

func (c *Config) applyDefaults() {
	if c.MaxConsentAttempts <= 0 {
		c.MaxConsentAttempts = 3
	}
	if c.MaxReprompts <= 0 {
		c.MaxReprompts = 3
	}
	if c.GatherTimeout <= 0 {
		c.GatherTimeout = 5 * time.Second
	}
	if c.RecordingTimeout <= 0 {
		c.RecordingTimeout = 3 * time.Second
	}
	if c.MaxRecordingLength <= 0 {
		c.MaxRecordingLength = 2 * time.Minute
	}
	if c.CaptureMode == "" {
		c.CaptureMode = domain.CaptureGather
	}
	if c.TranscriptionTimeout <= 0 {
		c.TranscriptionTimeout = 8 * time.Second
	}
	if c.DecisionTimeout <= 0 {
		c.DecisionTimeout = 5 * time.Second
	}
	p := &c.Prompts
	setDefault(&p.Greeting, "Hello, this is an automated screening interview. Do you have a few minutes to answer some questions now?")
	setDefault(&p.ConsentReprompt, "Sorry, I did not catch that. Is now a good time to do the interview? Please say yes or no.")
	setDefault(&p.Closing, "Thank you for your time. Goodbye.")
	setDefault(&p.Denial, "No problem. We will not continue the interview. Goodbye.")
	setDefault(&p.RescheduleRequest, "Of course. When would be a better time to call you back?")
	setDefault(&p.RescheduleConfirm, "Thank you. We will call you back then. Goodbye.")
	setDefault(&p.Voicemail, "Hello, we tried to reach you for a screening interview. We will try again later.")
	setDefault(&p.Apology, "We are sorry, something went wrong on our side. We will call you back later. Goodbye.")
	setDefault(&p.Goodbye, "Goodbye.")
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}
