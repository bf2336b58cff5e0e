// Package speech bridges the session orchestrator to the remote
// transcription and synthesis providers.
//
// No call is retried here. Failures surface as [*RemoteServiceError].
package speech

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/types"
)

// DefaultLanguage is the transcription language hint.
const DefaultLanguage = "en"

// RemoteServiceError wraps a failure of a remote AI service: network,
// authentication, quota or malformed response.
type RemoteServiceError struct {
	// Op is the failed operation: "transcribe", "synthesize" or "complete".
	Op string

	// Provider is the configured provider name, if known.
	Provider string

	Err error
}

func (e *RemoteServiceError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s via %s failed: %v", e.Op, e.Provider, e.Err)
}

func (e *RemoteServiceError) Unwrap() error { return e.Err }

// Bridge implements transcription and synthesis for the orchestrator.
// It is safe for concurrent use.
type Bridge struct {
	stt      stt.Provider
	tts      tts.Provider
	sttName  string
	ttsName  string
	language string
	metrics  *observe.Metrics

	mu    sync.RWMutex
	voice types.VoiceProfile
}

// Option configures a [Bridge].
type Option func(*Bridge)

// WithLanguage sets the transcription language. Default: [DefaultLanguage].
func WithLanguage(lang string) Option {
	return func(b *Bridge) { b.language = lang }
}

// WithVoice sets the synthesis voice. The zero value selects the provider default.
func WithVoice(v types.VoiceProfile) Option {
	return func(b *Bridge) { b.voice = v }
}

// WithProviderNames labels metrics and errors.
func WithProviderNames(sttName, ttsName string) Option {
	return func(b *Bridge) { b.sttName, b.ttsName = sttName, ttsName }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// New creates a [Bridge].
func New(s stt.Provider, t tts.Provider, opts ...Option) *Bridge {
	b := &Bridge{
		stt:      s,
		tts:      t,
		language: DefaultLanguage,
		sttName:  "stt",
		ttsName:  "tts",
	}
	for _, o := range opts {
		o(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	return b
}

// SetVoice replaces the synthesis voice.
func (b *Bridge) SetVoice(v types.VoiceProfile) {
	b.mu.Lock()
	b.voice = v
	b.mu.Unlock()
}

// Voice returns the current synthesis voice.
func (b *Bridge) Voice() types.VoiceProfile {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.voice
}

// Transcribe sends the recording at path to the STT provider and returns the
// transcript text. The file is deleted before Transcribe returns, whatever
// the outcome; a failed deletion is logged and otherwise ignored.
func (b *Bridge) Transcribe(ctx context.Context, path string) (text string, err error) {
	ctx, span := observe.StartSpan(ctx, "speech.transcribe")
	defer func() { observe.EndSpan(span, err) }()

	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			observe.Logger(ctx).Warn("failed to delete recording", "path", path, "error", rmErr)
		}
	}()

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("speech: read recording: %w", err)
	}
	c, err := audio.ContainerFromPath(path)
	if err != nil {
		return "", fmt.Errorf("speech: %w", err)
	}

	start := time.Now()
	tr, err := b.stt.Transcribe(ctx, stt.Request{
		Audio:     data,
		Filename:  filepath.Base(path),
		Container: c,
		Language:  b.language,
	})
	b.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		b.recordFailure(ctx, b.sttName, "stt")
		return "", &RemoteServiceError{Op: "transcribe", Provider: b.sttName, Err: err}
	}
	b.metrics.RecordProviderRequest(ctx, b.sttName, "stt", "ok")
	return strings.TrimSpace(tr.Text), nil
}

// Synthesize renders text with the configured voice and returns the
// provider's native payload. Conversion is left to the gateway.
func (b *Bridge) Synthesize(ctx context.Context, text string) (out tts.Audio, err error) {
	ctx, span := observe.StartSpan(ctx, "speech.synthesize")
	defer func() { observe.EndSpan(span, err) }()

	start := time.Now()
	out, err = b.tts.Synthesize(ctx, text, b.Voice())
	b.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		b.recordFailure(ctx, b.ttsName, "tts")
		return tts.Audio{}, &RemoteServiceError{Op: "synthesize", Provider: b.ttsName, Err: err}
	}
	if len(out.Data) == 0 {
		b.recordFailure(ctx, b.ttsName, "tts")
		return tts.Audio{}, &RemoteServiceError{Op: "synthesize", Provider: b.ttsName, Err: errors.New("empty audio payload")}
	}
	if out.Container == "" {
		out.Container = audio.MP3
	}
	b.metrics.RecordProviderRequest(ctx, b.ttsName, "tts", "ok")
	return out, nil
}

func (b *Bridge) recordFailure(ctx context.Context, provider, kind string) {
	b.metrics.RecordProviderRequest(ctx, provider, kind, "error")
	b.metrics.RecordProviderError(ctx, provider, kind)
}
