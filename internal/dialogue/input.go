package dialogue

import (
	"context"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/acme/voice-interview/internal/domain"
	"github.com/acme/voice-interview/internal/speech"
)

// utterance extracts the caller's reply. Recorded audio is transcribed inline
// only when the reply must be understood before answering; otherwise the
// recording URL is returned for background transcription.
func (e *Engine) utterance(ctx context.Context, s *domain.CallSession, evt domain.Event, needText bool) (string, string) {
	if text := strings.TrimSpace(evt.SpeechResult); text != "" {
		return text, evt.RecordingURL
	}
	if !evt.HasRecording() {
		return "", ""
	}
	if !needText || e.deps.Transcriber == nil {
		return "", evt.RecordingURL
	}

	tctx, cancel := context.WithTimeout(ctx, e.cfg.TranscriptionTimeout)
	defer cancel()
	text, err := e.deps.Transcriber.Transcribe(tctx, speech.AudioRef{URL: evt.RecordingURL, SID: evt.RecordingSID})
	if err != nil {
		e.logger.WithContext(ctx).Warn("dialogue: inline transcription failed",
			zap.String("call_sid", s.CallSID),
			zap.String("phase", string(s.Phase)),
			zap.Error(err),
		)
		return "", evt.RecordingURL
	}
	return strings.TrimSpace(text), evt.RecordingURL
}

// unclear reports whether a reply carries no usable content.
func (e *Engine) unclear(text string) bool {
	return normalize(text) == "" || e.unclearPhrase(text)
}

// unclearPhrase reports whether the reply is one of the configured filler phrases.
func (e *Engine) unclearPhrase(text string) bool {
	n := normalize(text)
	if n == "" {
		return false
	}
	_, ok := e.phrases[n]
	return ok
}

func normalize(text string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'':
			b.WriteRune(r)
			space = false
		case !space && b.Len() > 0:
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}
