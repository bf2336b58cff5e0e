// Package mock provides a test double for the tts.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/types"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Ctx   context.Context
	Text  string
	Voice types.VoiceProfile
}

// Provider is a mock implementation of tts.Provider. A zero Provider returns a
// short fake mp3 payload for every call.
type Provider struct {
	mu sync.Mutex

	// Data is returned as the synthesised payload. Defaults to "ID3mock".
	Data []byte

	// Container tags the payload. Defaults to mp3.
	Container audio.Container

	// Err, if non-nil, is returned from Synthesize.
	Err error

	// Voices is returned by ListVoices.
	Voices []types.VoiceProfile

	// Calls records every invocation of Synthesize in order.
	Calls []SynthesizeCall
}

var _ tts.Provider = (*Provider)(nil)

// Synthesize records the call and returns the configured payload or Err.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (tts.Audio, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})
	if p.Err != nil {
		return tts.Audio{}, p.Err
	}
	data := p.Data
	if data == nil {
		data = []byte("ID3mock")
	}
	c := p.Container
	if c == "" {
		c = audio.MP3
	}
	return tts.Audio{Data: append([]byte(nil), data...), Container: c}, nil
}

// ListVoices returns Voices, or Err when set.
func (p *Provider) ListVoices(context.Context) ([]types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Voices, nil
}

// CallCount returns the number of recorded Synthesize calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
