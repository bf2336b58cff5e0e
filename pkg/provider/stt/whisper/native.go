// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/types"
)

var _ stt.Provider = (*NativeProvider)(nil)

// ErrNeedsWAV is returned by [NativeProvider.Transcribe] for non-WAV input
// when no transcoder is available to convert it.
var ErrNeedsWAV = errors.New("whisper: native inference requires wav input")

// NativeProvider implements stt.Provider using whisper.cpp Go bindings. The
// model is loaded once and shared; each call creates its own context.
type NativeProvider struct {
	model      whisperlib.Model
	language   string
	transcoder audio.Transcoder

	// whisper contexts are not cheap; bound concurrent inference.
	sem chan struct{}
	mu  sync.Mutex
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the default language code. Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeTranscoder lets the provider convert mp3/m4a/ogg uploads to WAV
// before inference.
func WithNativeTranscoder(t audio.Transcoder) NativeOption {
	return func(p *NativeProvider) { p.transcoder = t }
}

// WithNativeConcurrency bounds the number of simultaneous inferences. Defaults to 1.
func WithNativeConcurrency(n int) NativeOption {
	return func(p *NativeProvider) {
		if n > 0 {
			p.sem = make(chan struct{}, n)
		}
	}
}

// NewNative loads the whisper.cpp model at modelPath. The caller must call
// Close when the provider is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:      model,
		language:   defaultLanguage,
		transcoder: audio.Unavailable{},
		sem:        make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return nil
	}
	err := p.model.Close()
	p.model = nil
	return err
}

// Transcribe implements stt.Provider.
func (p *NativeProvider) Transcribe(ctx context.Context, req stt.Request) (types.Transcript, error) {
	wav := req.Audio
	if req.Container != audio.WAV {
		if !p.transcoder.Available() {
			return types.Transcript{}, fmt.Errorf("%w: got %s", ErrNeedsWAV, req.Container)
		}
		var err error
		wav, err = p.transcoder.Transcode(ctx, req.Audio, req.Container, audio.WAV)
		if err != nil {
			return types.Transcript{}, fmt.Errorf("whisper: convert %s to wav: %w", req.Container, err)
		}
	}

	samples, err := wavToSamples(wav)
	if err != nil {
		return types.Transcript{}, err
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return types.Transcript{}, ctx.Err()
	}
	defer func() { <-p.sem }()

	text, err := p.infer(samples, lang)
	if err != nil {
		return types.Transcript{}, err
	}
	return types.Transcript{Text: text, Language: lang}, nil
}

// infer runs whisper.cpp inference on 16 kHz mono float32 samples and returns
// the concatenated segment text.
func (p *NativeProvider) infer(samples []float32, lang string) (string, error) {
	p.mu.Lock()
	model := p.model
	p.mu.Unlock()
	if model == nil {
		return "", errors.New("whisper: provider is closed")
	}

	wctx, err := model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
