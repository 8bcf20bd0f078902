package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/acme/voice-interview/internal/poll"
	apperrors "github.com/acme/voice-interview/pkg/errors"
)

// Config configures the ElevenLabs speech-to-text adapter.
type Config struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
	// RecordingUser/RecordingPassword authenticate recording downloads
	// (account SID and auth token for Twilio-hosted audio).
	RecordingUser     string
	RecordingPassword string
	Poll              poll.Policy
	RequestTimeout    time.Duration
}

// ElevenLabs downloads provider recordings and submits them for transcription.
type ElevenLabs struct {
	cfg  Config
	http *http.Client
}

// NewElevenLabs builds the adapter. A nil client falls back to a client with
// the configured request timeout.
func NewElevenLabs(cfg Config, client *http.Client) *ElevenLabs {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if cfg.Model == "" {
		cfg.Model = "scribe_v1"
	}
	if client == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &ElevenLabs{cfg: cfg, http: client}
}

// Transcribe implements Transcriber.
func (e *ElevenLabs) Transcribe(ctx context.Context, ref AudioRef) (string, error) {
	if ref.URL == "" {
		return "", ErrEmptyAudio
	}

	audio, err := e.download(ctx, ref)
	if err != nil {
		return "", err
	}
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}

	return e.submit(ctx, audio)
}

// download fetches the mp3 rendition of a recording. Freshly finished
// recordings answer 404 for a few seconds, so those are polled.
func (e *ElevenLabs) download(ctx context.Context, ref AudioRef) ([]byte, error) {
	url := mp3URL(ref.URL)
	audio, err := poll.Until(ctx, e.cfg.Poll, func(ctx context.Context) poll.Result[[]byte] {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return poll.Failed[[]byte](err)
		}
		if e.cfg.RecordingUser != "" {
			req.SetBasicAuth(e.cfg.RecordingUser, e.cfg.RecordingPassword)
		}

		resp, err := e.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return poll.Failed[[]byte](ctx.Err())
			}
			return poll.Pending[[]byte]()
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return poll.Failed[[]byte](err)
			}
			return poll.Ready(body)
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode >= 500:
			return poll.Pending[[]byte]()
		default:
			return poll.Failed[[]byte](fmt.Errorf("recording download: unexpected status %d", resp.StatusCode))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%w: speech: download %s: %v", apperrors.ErrProviderUnavailable, ref.SID, err)
	}
	return audio, nil
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

func (e *ElevenLabs) submit(ctx context.Context, audio []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("model_id", e.cfg.Model)
	if lang := languageCode(e.cfg.Language); lang != "" {
		_ = mw.WriteField("language_code", lang)
	}
	part, err := mw.CreateFormFile("file", "answer.mp3")
	if err != nil {
		return "", fmt.Errorf("speech: build form: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("speech: build form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("speech: build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(e.cfg.BaseURL, "/")+"/v1/speech-to-text", &body)
	if err != nil {
		return "", fmt.Errorf("speech: build request: %w", err)
	}
	req.Header.Set("xi-api-key", e.cfg.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: speech: submit: %v", apperrors.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: speech: submit status %d: %s", apperrors.ErrProviderUnavailable, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("speech: decode response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}

// mp3URL asks the provider for its mp3 rendition of the recording.
func mp3URL(url string) string {
	lower := strings.ToLower(url)
	if strings.HasSuffix(lower, ".mp3") || strings.HasSuffix(lower, ".wav") {
		return url
	}
	return url + ".mp3"
}

// languageCode reduces a locale such as en-US to its ISO 639-1 part.
func languageCode(locale string) string {
	locale = strings.TrimSpace(locale)
	if i := strings.IndexAny(locale, "-_"); i > 0 {
		locale = locale[:i]
	}
	return strings.ToLower(locale)
}
