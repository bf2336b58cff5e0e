// Package tts defines the Provider interface for batch text-to-speech backends.
//
// A provider turns one complete text into one encoded audio payload in the
// provider's native container (typically mp3). Container conversion is the
// caller's concern.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/types"
)

// Audio is a synthesised payload tagged with its container.
type Audio struct {
	Data      []byte
	Container audio.Container
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with the given voice and waits for the full
	// payload. An empty voice ID selects the provider default.
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (Audio, error)

	// ListVoices returns the voices available from this provider.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)
}
