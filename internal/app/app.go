// Package app wires the Parley subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems and Shutdown tears everything down in order. Transport lives
// in internal/api; the serve command runs both.
//
// For testing, inject doubles via functional options (WithTranscoder,
// WithArchive, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/archive"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/gateway"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/internal/speech"
	"github.com/MrWong99/parley/internal/tutor"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/types"
)

// Named pairs a provider with the name it was configured under.
type Named[P any] struct {
	Name     string
	Provider P
}

// Providers holds the configured providers per capability. The first entry
// of each slice is the primary; the rest are fallbacks in order. Populated
// by the serve command via the config registry.
type Providers struct {
	LLM []Named[llm.Provider]
	STT []Named[stt.Provider]
	TTS []Named[tts.Provider]
}

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics
	breaker resilience.CircuitBreakerConfig
	now     func() time.Time

	llm *resilience.LLMFallback
	stt *resilience.STTFallback
	tts *resilience.TTSFallback

	transcoder audio.Transcoder
	gateway    *gateway.Gateway
	speech     *speech.Bridge
	tutor      *tutor.Generator
	orch       *session.Orchestrator
	sessions   *SessionManager
	archive    archive.Store

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTranscoder injects a transcoder instead of building one from config.
func WithTranscoder(t audio.Transcoder) Option {
	return func(a *App) { a.transcoder = t }
}

// WithArchive injects an archive store instead of opening one from config.
// The App takes ownership and closes it on Shutdown.
func WithArchive(s archive.Store) Option {
	return func(a *App) { a.archive = s }
}

// WithBreakerConfig overrides the circuit breaker settings shared by every
// provider. Name and OnStateChange are always set by the App.
func WithBreakerConfig(cfg resilience.CircuitBreakerConfig) Option {
	return func(a *App) { a.breaker = cfg }
}

// WithClock overrides time.Now for sessions and expiry.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || len(providers.LLM) == 0 || len(providers.STT) == 0 || len(providers.TTS) == 0 {
		return nil, errors.New("app: llm, stt and tts providers are required")
	}
	a := &App{cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Provider groups ───────────────────────────────────────────────
	a.initProviders(providers)

	// ── 2. Audio gateway ─────────────────────────────────────────────────
	if err := a.initGateway(); err != nil {
		return nil, fmt.Errorf("app: init gateway: %w", err)
	}

	// ── 3. Speech bridge + tutor ─────────────────────────────────────────
	a.speech = speech.New(a.stt, a.tts,
		speech.WithLanguage(cfg.Tutor.Language),
		speech.WithVoice(voiceProfile(cfg.Tutor.Voice, providers.TTS[0].Name)),
		speech.WithProviderNames(providers.STT[0].Name, providers.TTS[0].Name),
		speech.WithMetrics(a.metrics),
	)
	tutorOpts := []tutor.Option{
		tutor.WithPrompts(cfg.Tutor.Prompts),
		tutor.WithProviderName(providers.LLM[0].Name),
		tutor.WithMetrics(a.metrics),
	}
	if cfg.Tutor.Apology != "" {
		tutorOpts = append(tutorOpts, tutor.WithApology(cfg.Tutor.Apology))
	}
	gen, err := tutor.New(a.llm, tutorOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: init tutor: %w", err)
	}
	a.tutor = gen

	// ── 4. State machine + sessions ──────────────────────────────────────
	a.orch = session.NewOrchestrator(a.gateway, a.speech, a.tutor,
		session.WithMetrics(a.metrics),
		session.WithClock(a.now),
	)
	a.sessions = NewSessionManager(SessionManagerConfig{
		Orchestrator: a.orch,
		Cleaner:      a.gateway,
		IdleTimeout:  cfg.Server.SessionIdleTimeout,
		Metrics:      a.metrics,
		Clock:        a.now,
	})

	// ── 5. Archive ───────────────────────────────────────────────────────
	if err := a.initArchive(ctx); err != nil {
		_ = a.Shutdown(ctx)
		return nil, fmt.Errorf("app: init archive: %w", err)
	}

	caps := a.gateway.Capabilities()
	slog.Info("application initialised",
		"llm", providers.LLM[0].Name,
		"stt", providers.STT[0].Name,
		"tts", providers.TTS[0].Name,
		"transcoding", caps.Transcoding,
		"live_capture", caps.LiveCapture,
		"archive", a.archive != nil,
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initProviders(ps *Providers) {
	fc := resilience.FallbackConfig{CircuitBreaker: a.breaker}
	fc.CircuitBreaker.OnStateChange = func(name string, from, to resilience.State) {
		slog.Warn("circuit breaker state changed", "provider", name, "from", from, "to", to)
		a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
	}

	a.llm = resilience.NewLLMFallback(ps.LLM[0].Provider, "llm/"+ps.LLM[0].Name, fc)
	for _, p := range ps.LLM[1:] {
		a.llm.AddFallback("llm/"+p.Name, p.Provider)
	}
	a.stt = resilience.NewSTTFallback(ps.STT[0].Provider, "stt/"+ps.STT[0].Name, fc)
	for _, p := range ps.STT[1:] {
		a.stt.AddFallback("stt/"+p.Name, p.Provider)
	}
	a.tts = resilience.NewTTSFallback(ps.TTS[0].Provider, "tts/"+ps.TTS[0].Name, fc)
	for _, p := range ps.TTS[1:] {
		a.tts.AddFallback("tts/"+p.Name, p.Provider)
	}

	for _, p := range ps.LLM {
		a.addCloser(p.Provider)
	}
	for _, p := range ps.STT {
		a.addCloser(p.Provider)
	}
	for _, p := range ps.TTS {
		a.addCloser(p.Provider)
	}
}

// addCloser registers v for Shutdown if it holds resources.
func (a *App) addCloser(v any) {
	if c, ok := v.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
}

func (a *App) initGateway() error {
	if a.transcoder == nil {
		switch a.cfg.Audio.Transcoder.Name {
		case "none":
			a.transcoder = audio.Unavailable{}
		default:
			a.transcoder = audio.NewFFmpeg(a.cfg.Audio.Transcoder.Path)
		}
	}
	gw, err := gateway.New(a.cfg.Audio.InputDir, a.cfg.Audio.OutputDir,
		gateway.WithTranscoder(a.transcoder),
		gateway.WithLiveCapture(a.cfg.Audio.LiveCapture),
		gateway.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	if !gw.Capabilities().Transcoding {
		slog.Warn("audio transcoding unavailable; replies keep their synthesized format and speed changes need wav")
	}
	a.gateway = gw
	return nil
}

func (a *App) initArchive(ctx context.Context) error {
	if a.archive == nil {
		store, err := archive.Open(ctx, a.cfg.Archive.Driver, a.cfg.Archive.DSN)
		if errors.Is(err, archive.ErrDisabled) {
			return nil
		}
		if err != nil {
			return err
		}
		a.archive = store
	}
	a.closers = append(a.closers, a.archive.Close)
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Config returns the configuration the App was built from.
func (a *App) Config() *config.Config { return a.cfg }

// Orchestrator returns the session state machine.
func (a *App) Orchestrator() *session.Orchestrator { return a.orch }

// Sessions returns the live session registry.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Gateway returns the audio gateway.
func (a *App) Gateway() *gateway.Gateway { return a.gateway }

// Archive returns the snapshot archive, or nil when archiving is disabled.
func (a *App) Archive() archive.Store { return a.archive }

// Metrics returns the metrics sink.
func (a *App) Metrics() *observe.Metrics { return a.metrics }

// Checkers returns the readiness probes for the health handler.
func (a *App) Checkers() []health.Checker {
	checks := []health.Checker{
		health.BreakerChecker("llm", a.llm.Status),
		health.BreakerChecker("stt", a.stt.Status),
		health.BreakerChecker("tts", a.tts.Status),
		{
			Name:     "transcoder",
			Optional: true,
			Check: func(context.Context) error {
				if !a.gateway.Capabilities().Transcoding {
					return audio.ErrTranscoderUnavailable
				}
				return nil
			},
		},
	}
	if a.archive != nil {
		checks = append(checks, health.PingChecker("archive", a.archive))
	}
	return checks
}

// ApplyConfig applies the hot-reloadable parts of a changed config: prompt
// templates, apology text and voice. Settings listed in
// d.RestartRequired are logged and otherwise ignored.
func (a *App) ApplyConfig(d config.ConfigDiff, cfg *config.Config) error {
	var errs []error
	if d.PromptsChanged {
		if err := a.tutor.SetPrompts(cfg.Tutor.Prompts); err != nil {
			errs = append(errs, err)
		} else {
			slog.Info("tutor prompts reloaded")
		}
	}
	if d.ApologyChanged {
		a.tutor.SetApology(cfg.Tutor.Apology)
	}
	if d.VoiceChanged {
		a.speech.SetVoice(voiceProfile(cfg.Tutor.Voice, a.speech.Voice().Provider))
		slog.Info("synthesis voice changed", "voice", cfg.Tutor.Voice.ID)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("configuration changes need a restart to take effect", "sections", d.RestartRequired)
	}
	return errors.Join(errs...)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown destroys all sessions, then runs the closers in order. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.sessions.Len(), "closers", len(a.closers))
		a.sessions.Close(ctx)

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func voiceProfile(vc config.VoiceConfig, provider string) types.VoiceProfile {
	return types.VoiceProfile{ID: vc.ID, Name: vc.Name, Provider: provider}
}
