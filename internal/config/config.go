// Package config provides the configuration schema, loader, and provider
// registry for the Parley tutoring server.
package config

import (
	"time"

	"github.com/MrWong99/parley/internal/tutor"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Audio     AudioConfig     `yaml:"audio"`
	Tutor     TutorConfig     `yaml:"tutor"`
	Archive   ArchiveConfig   `yaml:"archive"`
}

// ServerConfig holds network, logging and session lifetime settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel  LogLevel  `yaml:"log_level"`
	LogFormat LogFormat `yaml:"log_format"`

	// CORSOrigins lists browser origins allowed to call the API. Empty
	// disables CORS headers entirely.
	CORSOrigins []string `yaml:"cors_origins"`

	// SessionIdleTimeout destroys sessions with no cycle for this long,
	// together with their audio artifacts.
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation serves each
// remote capability.
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	// Use ${ENV_VAR} to keep it out of the file.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when this provider fails or its
	// circuit breaker is open.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// AudioConfig configures the audio gateway.
type AudioConfig struct {
	InputDir  string `yaml:"input_dir"`
	OutputDir string `yaml:"output_dir"`

	// LiveCapture enables the in-browser recording source.
	LiveCapture bool `yaml:"live_capture"`

	Transcoder TranscoderConfig `yaml:"transcoder"`
}

// TranscoderConfig selects the audio converter.
type TranscoderConfig struct {
	// Name is "ffmpeg" or "none".
	Name string `yaml:"name"`

	// Path overrides the ffmpeg binary looked up on PATH.
	Path string `yaml:"path"`
}

// TutorConfig configures the response generator and speech settings.
type TutorConfig struct {
	// Language is the transcription language code.
	Language string `yaml:"language"`

	Voice VoiceConfig `yaml:"voice"`

	// Prompts overrides the built-in system prompts. Empty fields keep the
	// defaults.
	Prompts tutor.Prompts `yaml:"prompts"`

	// Apology replaces the reply when completion fails.
	Apology string `yaml:"apology"`
}

// VoiceConfig specifies the synthesis voice.
type VoiceConfig struct {
	// ID is the provider-specific voice identifier (e.g., "alloy").
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// ArchiveConfig enables the snapshot archive.
type ArchiveConfig struct {
	// Driver is "sqlite", "postgres" or empty to disable archiving.
	Driver string `yaml:"driver"`

	// DSN is a file path for sqlite or a connection string for postgres.
	DSN string `yaml:"dsn"`
}
