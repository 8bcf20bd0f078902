// Package narration turns prompt text into playable audio, caching every
// artifact so the same prompt is never synthesized twice for a call.
package narration

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/acme/voice-interview/internal/media"
	"github.com/acme/voice-interview/pkg/logger"
)

// Synthesizer produces mp3 audio for text.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Narrator resolves prompts to public audio URLs.
type Narrator struct {
	synth   Synthesizer
	store   media.Store
	baseURL string
	logger  *logger.Logger
}

// NewNarrator wires a synthesizer to an artifact store. publicBaseURL is the
// externally reachable root that serves /media/.
func NewNarrator(synth Synthesizer, store media.Store, publicBaseURL string, lg *logger.Logger) *Narrator {
	return &Narrator{
		synth:   synth,
		store:   store,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:  lg,
	}
}

// Synthesize returns the URL of the audio for text under cacheKey, calling
// the synthesizer only when no artifact exists yet.
func (n *Narrator) Synthesize(ctx context.Context, text, cacheKey string) (string, error) {
	name := ArtifactName(cacheKey, text)

	exists, err := n.store.Exists(ctx, name)
	if err != nil {
		n.logger.Warn("narration: cache lookup failed", zap.String("artifact", name), zap.Error(err))
	}
	if exists {
		return n.URL(name), nil
	}

	audio, err := n.synth.Synthesize(ctx, text)
	if err != nil {
		return "", err
	}
	if err := n.store.Put(ctx, name, audio, media.ContentType(name)); err != nil {
		return "", fmt.Errorf("narration: store %s: %w", name, err)
	}
	return n.URL(name), nil
}

// URL is the public location of an artifact.
func (n *Narrator) URL(name string) string {
	return n.baseURL + "/media/" + name
}

// ArtifactName derives the file name for a prompt. The text hash keeps an
// edited prompt from replaying stale audio under the same key.
func ArtifactName(cacheKey, text string) string {
	sum := sha1.Sum([]byte(text))
	return sanitize(cacheKey) + "-" + hex.EncodeToString(sum[:4]) + ".mp3"
}

func sanitize(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.TrimLeft(b.String(), "_-")
	if out == "" {
		out = "prompt"
	}
	if len(out) > 150 {
		out = out[:150]
	}
	return out
}
