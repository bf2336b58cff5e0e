// Package types defines the value types shared between providers and the
// tutoring core. Each package owns its domain types; only data that crosses
// provider boundaries lives here.
package types

import "time"

// Chat roles understood by every completion provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged entry of a completion request.
type Message struct {
	// Role is one of [RoleSystem], [RoleUser] or [RoleAssistant].
	Role string

	// Content is the text content of the message.
	Content string
}

// Transcript is the result of a batch speech-to-text call.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Language is the language tag the provider reports (or the one requested).
	Language string

	// Duration is the length of the transcribed audio when the provider reports it.
	Duration time.Duration
}

// VoiceProfile selects a synthesis voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier (e.g. "alloy").
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string
}

// ModelCapabilities describes what a completion model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int
}
