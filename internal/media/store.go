// Package media stores synthesized prompt audio and serves it back by name.
package media

import (
	"context"
	"errors"
	"io"
	"regexp"
)

// Store persists audio artifacts under flat file names.
type Store interface {
	Exists(ctx context.Context, name string) (bool, error)
	Put(ctx context.Context, name string, data []byte, contentType string) error
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// ErrInvalidName rejects names that could escape the store.
var ErrInvalidName = errors.New("media: invalid artifact name")

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,199}$`)

// ValidName reports whether name is a safe flat artifact name.
func ValidName(name string) bool {
	return namePattern.MatchString(name) && !containsDotDot(name)
}

func containsDotDot(name string) bool {
	for i := 0; i+1 < len(name); i++ {
		if name[i] == '.' && name[i+1] == '.' {
			return true
		}
	}
	return false
}

// ContentType guesses the MIME type from the artifact extension.
func ContentType(name string) string {
	switch {
	case hasSuffix(name, ".mp3"):
		return "audio/mpeg"
	case hasSuffix(name, ".wav"):
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}
