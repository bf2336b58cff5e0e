package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied by [LoadFromReader] to fields left empty.
const (
	DefaultListenAddr         = ":8080"
	DefaultSessionIdleTimeout = 30 * time.Minute
	DefaultInputDir           = "data/input"
	DefaultOutputDir          = "data/output"
	DefaultLanguage           = "en"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"openai", "whisper", "whisper-native", "deepgram"},
	"tts": {"openai", "elevenlabs", "coqui"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. A .env file next to the config is loaded into the environment
// first; variables already set are not overridden.
func Load(path string) (*Config, error) {
	if err := LoadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadDotEnv loads path with godotenv. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: load %q: %w", path, err)
	}
	return nil
}

// LoadFromReader expands ${VAR} references, decodes a YAML config from r,
// applies defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(raw))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields of cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogFormatText
	}
	if cfg.Server.SessionIdleTimeout == 0 {
		cfg.Server.SessionIdleTimeout = DefaultSessionIdleTimeout
	}
	if cfg.Audio.InputDir == "" {
		cfg.Audio.InputDir = DefaultInputDir
	}
	if cfg.Audio.OutputDir == "" {
		cfg.Audio.OutputDir = DefaultOutputDir
	}
	if cfg.Audio.Transcoder.Name == "" {
		cfg.Audio.Transcoder.Name = "ffmpeg"
	}
	if cfg.Tutor.Language == "" {
		cfg.Tutor.Language = DefaultLanguage
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if cfg.Server.SessionIdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.session_idle_timeout %s must not be negative", cfg.Server.SessionIdleTimeout))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	for i, o := range cfg.Server.CORSOrigins {
		if o == "" {
			errs = append(errs, fmt.Errorf("server.cors_origins[%d] is empty", i))
		}
	}

	// Providers: every capability is needed by at least one mode.
	errs = append(errs, validateProvider("llm", "providers.llm", cfg.Providers.LLM)...)
	errs = append(errs, validateProvider("stt", "providers.stt", cfg.Providers.STT)...)
	errs = append(errs, validateProvider("tts", "providers.tts", cfg.Providers.TTS)...)

	// Audio
	switch cfg.Audio.Transcoder.Name {
	case "", "ffmpeg", "none":
	default:
		errs = append(errs, fmt.Errorf("audio.transcoder.name %q is invalid; valid values: ffmpeg, none", cfg.Audio.Transcoder.Name))
	}
	if cfg.Audio.InputDir != "" && cfg.Audio.InputDir == cfg.Audio.OutputDir {
		errs = append(errs, errors.New("audio.input_dir and audio.output_dir must differ"))
	}

	// Tutor
	if err := cfg.Tutor.Prompts.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tutor.prompts: %w", err))
	}

	// Archive
	switch cfg.Archive.Driver {
	case "":
		if cfg.Archive.DSN != "" {
			slog.Warn("archive.dsn is set but archive.driver is empty; archiving stays disabled")
		}
	case "sqlite", "postgres":
		if cfg.Archive.DSN == "" {
			errs = append(errs, fmt.Errorf("archive.dsn is required when archive.driver is %q", cfg.Archive.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.driver %q is invalid; valid values: sqlite, postgres", cfg.Archive.Driver))
	}

	return errors.Join(errs...)
}

func validateProvider(kind, prefix string, e ProviderEntry) []error {
	var errs []error
	if e.Name == "" {
		errs = append(errs, fmt.Errorf("%s.name is required", prefix))
	}
	validateProviderName(kind, e.Name)
	for i, fb := range e.Fallbacks {
		p := fmt.Sprintf("%s.fallbacks[%d]", prefix, i)
		if len(fb.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("%s.fallbacks: nested fallbacks are not supported", p))
		}
		errs = append(errs, validateProvider(kind, p, ProviderEntry{Name: fb.Name})...)
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
