package app

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/internal/tutor"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/llm"
	llmmock "github.com/MrWong99/parley/pkg/provider/llm/mock"
	"github.com/MrWong99/parley/pkg/provider/stt"
	sttmock "github.com/MrWong99/parley/pkg/provider/stt/mock"
	"github.com/MrWong99/parley/pkg/provider/tts"
	ttsmock "github.com/MrWong99/parley/pkg/provider/tts/mock"
)

// closingLLM counts Close calls so Shutdown ordering can be observed.
type closingLLM struct {
	*llmmock.Provider
	closed atomic.Int32
}

func (c *closingLLM) Close() error {
	c.closed.Add(1)
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{
		Server: config.ServerConfig{SessionIdleTimeout: time.Minute},
		Providers: config.ProvidersConfig{
			LLM: config.ProviderEntry{Name: "openai"},
			STT: config.ProviderEntry{Name: "whisper"},
			TTS: config.ProviderEntry{Name: "elevenlabs"},
		},
		Audio: config.AudioConfig{
			InputDir:   filepath.Join(root, "in"),
			OutputDir:  filepath.Join(root, "out"),
			Transcoder: config.TranscoderConfig{Name: "none"},
		},
		Tutor: config.TutorConfig{
			Language: "en",
			Voice:    config.VoiceConfig{ID: "rachel", Name: "Rachel"},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func testProviders(l llm.Provider) *Providers {
	if l == nil {
		l = &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Hello!"}}
	}
	return &Providers{
		LLM: []Named[llm.Provider]{{Name: "openai", Provider: l}},
		STT: []Named[stt.Provider]{{Name: "whisper", Provider: &sttmock.Provider{Text: "hi"}}},
		TTS: []Named[tts.Provider]{{Name: "elevenlabs", Provider: &ttsmock.Provider{}}},
	}
}

func newTestApp(t *testing.T, cfg *config.Config, ps *Providers, opts ...Option) *App {
	t.Helper()
	opts = append([]Option{WithMetrics(testMetrics(t))}, opts...)
	a, err := New(context.Background(), cfg, ps, opts...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)

	tests := []struct {
		name string
		ps   *Providers
	}{
		{"nil", nil},
		{"no llm", &Providers{STT: testProviders(nil).STT, TTS: testProviders(nil).TTS}},
		{"no tts", &Providers{LLM: testProviders(nil).LLM, STT: testProviders(nil).STT}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(context.Background(), cfg, tt.ps); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestNew_WiresSubsystems(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	a := newTestApp(t, cfg, testProviders(nil))

	if a.Config() != cfg {
		t.Error("Config() did not return the input config")
	}
	if a.Orchestrator() == nil || a.Sessions() == nil || a.Gateway() == nil || a.Metrics() == nil {
		t.Fatal("subsystem accessor returned nil")
	}
	if a.Archive() != nil {
		t.Error("archive should be disabled without a driver")
	}
	caps := a.Gateway().Capabilities()
	if caps.Transcoding {
		t.Error("transcoder \"none\" should leave transcoding unavailable")
	}
	if got := a.speech.Voice(); got.ID != "rachel" || got.Provider != "elevenlabs" {
		t.Errorf("voice = %+v, want rachel from elevenlabs", got)
	}

	ctx := context.Background()
	id := a.Sessions().Create(ctx)
	err := a.Sessions().With(ctx, id, func(s *session.Session) error {
		_, err := a.Orchestrator().Cycle(ctx, s, session.Input{})
		return err
	})
	if err != nil {
		t.Fatalf("idle cycle: %v", err)
	}
}

func TestNew_OpensSQLiteArchive(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Archive = config.ArchiveConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "archive.db")}
	a := newTestApp(t, cfg, testProviders(nil))

	if a.Archive() == nil {
		t.Fatal("archive not opened")
	}
	if err := a.Archive().Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNew_ArchiveOpenFailure(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Archive = config.ArchiveConfig{Driver: "mongodb", DSN: "x"}

	if _, err := New(context.Background(), cfg, testProviders(nil), WithMetrics(testMetrics(t))); err == nil {
		t.Fatal("expected error for unknown archive driver")
	}
}

func TestNew_InjectedTranscoder(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	a := newTestApp(t, cfg, testProviders(nil), WithTranscoder(audio.Unavailable{}))

	if a.transcoder != (audio.Unavailable{}) {
		t.Errorf("transcoder = %T, want injected", a.transcoder)
	}
}

func TestCheckers(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Archive = config.ArchiveConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "a.db")}
	a := newTestApp(t, cfg, testProviders(nil))

	checks := a.Checkers()
	byName := make(map[string]health.Checker, len(checks))
	for _, c := range checks {
		byName[c.Name] = c
	}
	for _, name := range []string{"llm", "stt", "tts", "transcoder", "archive"} {
		if _, ok := byName[name]; !ok {
			t.Errorf("missing checker %q", name)
		}
	}

	ctx := context.Background()
	tc := byName["transcoder"]
	if !tc.Optional {
		t.Error("transcoder checker should be optional")
	}
	if err := tc.Check(ctx); !errors.Is(err, audio.ErrTranscoderUnavailable) {
		t.Errorf("transcoder check = %v, want ErrTranscoderUnavailable", err)
	}
	for _, name := range []string{"llm", "stt", "tts", "archive"} {
		if byName[name].Optional {
			t.Errorf("%s checker should be required", name)
		}
		if err := byName[name].Check(ctx); err != nil {
			t.Errorf("%s check: %v", name, err)
		}
	}
}

func TestCheckers_OpenBreakerFailsReadiness(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	failing := &llmmock.Provider{CompleteErr: errors.New("upstream down")}
	a := newTestApp(t, cfg, testProviders(failing),
		WithBreakerConfig(resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}))

	if _, err := a.llm.Complete(context.Background(), llm.CompletionRequest{}); err == nil {
		t.Fatal("expected completion error")
	}

	for _, c := range a.Checkers() {
		if c.Name != "llm" {
			continue
		}
		err := c.Check(context.Background())
		if err == nil || !strings.Contains(err.Error(), "llm/openai") {
			t.Errorf("llm check = %v, want open circuit for llm/openai", err)
		}
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	a := newTestApp(t, cfg, testProviders(nil))

	next := *cfg
	next.Tutor.Apology = "Oops, try again."
	next.Tutor.Voice = config.VoiceConfig{ID: "adam"}
	next.Tutor.Prompts = tutor.Prompts{Conversation: "Talk to a {{.Level}} learner."}

	d := config.Diff(cfg, &next)
	if err := a.ApplyConfig(d, &next); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := a.tutor.Apology(); got != "Oops, try again." {
		t.Errorf("apology = %q", got)
	}
	if got := a.speech.Voice(); got.ID != "adam" || got.Provider != "elevenlabs" {
		t.Errorf("voice = %+v, want adam from elevenlabs", got)
	}
}

func TestApplyConfig_BadPromptKeepsOld(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	a := newTestApp(t, cfg, testProviders(nil))

	next := *cfg
	next.Tutor.Prompts = tutor.Prompts{Problem: "{{.Level"}
	err := a.ApplyConfig(config.ConfigDiff{PromptsChanged: true}, &next)
	if err == nil {
		t.Fatal("expected template error")
	}
}

func TestShutdown(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	l := &closingLLM{Provider: &llmmock.Provider{}}
	a, err := New(context.Background(), cfg, testProviders(l), WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()
	a.Sessions().Create(ctx)
	a.Sessions().Create(ctx)

	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Sessions().Len() != 0 {
		t.Errorf("sessions left after shutdown: %d", a.Sessions().Len())
	}
	if got := l.closed.Load(); got != 1 {
		t.Errorf("provider closed %d times, want 1", got)
	}

	// Idempotent.
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if got := l.closed.Load(); got != 1 {
		t.Errorf("provider closed %d times after second Shutdown, want 1", got)
	}
}

func TestShutdown_Deadline(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	l := &closingLLM{Provider: &llmmock.Provider{}}
	a, err := New(context.Background(), cfg, testProviders(l), WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown = %v, want context.Canceled", err)
	}
	if got := l.closed.Load(); got != 0 {
		t.Errorf("closer ran after deadline: %d", got)
	}
}
