package narration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/acme/voice-interview/internal/media"
	apperrors "github.com/acme/voice-interview/pkg/errors"
	"github.com/acme/voice-interview/pkg/logger"
)

type countingSynth struct {
	calls int
	err   error
}

func (c *countingSynth) Synthesize(context.Context, string) ([]byte, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []byte("mp3"), nil
}

func TestNarratorCachesByKey(t *testing.T) {
	store, err := media.NewDisk(t.TempDir())
	if err != nil {
		t.Fatalf("disk: %v", err)
	}
	synth := &countingSynth{}
	n := NewNarrator(synth, store, "https://voice.example.com/", logger.NewNop())

	first, err := n.Synthesize(context.Background(), "What is a goroutine?", "CA1-question-3")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	second, err := n.Synthesize(context.Background(), "What is a goroutine?", "CA1-question-3")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}

	if synth.calls != 1 {
		t.Fatalf("expected one synthesis, got %d", synth.calls)
	}
	if first != second {
		t.Fatalf("expected stable url, got %s and %s", first, second)
	}
	if !strings.HasPrefix(first, "https://voice.example.com/media/CA1-question-3-") {
		t.Fatalf("unexpected url %s", first)
	}

	if _, err := n.Synthesize(context.Background(), "What is a channel?", "CA1-question-3"); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if synth.calls != 2 {
		t.Fatalf("changed text must produce a new artifact, got %d calls", synth.calls)
	}
}

func TestNarratorPropagatesSynthFailure(t *testing.T) {
	store, _ := media.NewDisk(t.TempDir())
	synth := &countingSynth{err: apperrors.ErrProviderUnavailable}
	n := NewNarrator(synth, store, "http://x", logger.NewNop())

	if _, err := n.Synthesize(context.Background(), "hi", "k"); !errors.Is(err, apperrors.ErrProviderUnavailable) {
		t.Fatalf("expected provider unavailable, got %v", err)
	}
}

func TestArtifactNameIsSafe(t *testing.T) {
	name := ArtifactName("../CA1/consent", "hello")
	if !media.ValidName(name) {
		t.Fatalf("expected a valid artifact name, got %s", name)
	}
}

func TestElevenLabsSynthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/text-to-speech/voice-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("xi-api-key") != "key" {
			t.Errorf("missing api key")
		}
		var body ttsRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.Text != "Hello" || body.VoiceSettings.Stability != 0.5 || body.VoiceSettings.SimilarityBoost != 0.75 {
			t.Errorf("unexpected body %+v", body)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3"))
	}))
	defer srv.Close()

	synth := NewElevenLabs(ElevenLabsConfig{
		APIKey: "key", BaseURL: srv.URL, VoiceID: "voice-1", ModelID: "m",
		Stability: 0.5, SimilarityBoost: 0.75,
	}, srv.Client())

	audio, err := synth.Synthesize(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if string(audio) != "ID3" {
		t.Fatalf("unexpected audio %q", audio)
	}
}

func TestElevenLabsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	synth := NewElevenLabs(ElevenLabsConfig{BaseURL: srv.URL, VoiceID: "v"}, srv.Client())
	if _, err := synth.Synthesize(context.Background(), "Hello"); !errors.Is(err, apperrors.ErrProviderUnavailable) {
		t.Fatalf("expected provider unavailable, got %v", err)
	}
}
