// Package session holds a learner's session state and the orchestrator that
// advances it one interaction cycle at a time.
//
// A [Session] is owned by exactly one caller at a time; the package does no
// locking of its own. Serialising cycles per session is the job of the
// session manager in internal/app.
package session

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/parley/internal/gateway"
	"github.com/MrWong99/parley/pkg/types"
)

// Mode is a learning mode.
type Mode string

const (
	ModeFreeConversation Mode = "free_conversation"
	ModeShadowing        Mode = "shadowing"
	ModeDictation        Mode = "dictation"
)

// Modes lists every mode in menu order.
var Modes = []Mode{ModeFreeConversation, ModeShadowing, ModeDictation}

// ParseMode validates s against [Modes].
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(Modes, m) {
		return "", &ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", s)}
	}
	return m, nil
}

// Level is the learner's proficiency.
type Level string

const (
	LevelBeginner     Level = "beginner"
	LevelIntermediate Level = "intermediate"
	LevelAdvanced     Level = "advanced"
)

// Levels lists every level in menu order.
var Levels = []Level{LevelBeginner, LevelIntermediate, LevelAdvanced}

// ParseLevel validates s against [Levels].
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(Levels, l) {
		return "", &ValidationError{Field: "level", Reason: fmt.Sprintf("unknown level %q", s)}
	}
	return l, nil
}

// DefaultSpeed is the initial playback speed.
const DefaultSpeed = 1.0

// Speeds is the fixed playback speed menu.
var Speeds = []float64{0.6, 0.8, 1.0, 1.2, 1.5, 2.0}

// ValidateSpeed reports a [*ValidationError] unless v is on the [Speeds] menu.
func ValidateSpeed(v float64) error {
	if !slices.Contains(Speeds, v) {
		return &ValidationError{Field: "speed", Reason: "must be one of " + speedMenu()}
	}
	return nil
}

func speedMenu() string {
	parts := make([]string, len(Speeds))
	for i, s := range Speeds {
		parts[i] = strconv.FormatFloat(s, 'f', -1, 64)
	}
	return strings.Join(parts, ", ")
}

// Role tags a conversation log entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"

	// RoleSeparator marks the end of a practice round. It carries no text.
	RoleSeparator Role = "separator"
)

// Message is one conversation log entry.
type Message struct {
	Role Role   `json:"role" yaml:"role"`
	Text string `json:"text,omitempty" yaml:"text,omitempty"`

	// Mode is the mode the entry was produced in. Only free-conversation
	// entries are fed back as completion context.
	Mode Mode `json:"mode,omitempty" yaml:"mode,omitempty"`
}

// ModeProgress tracks the round state of a practice mode.
type ModeProgress struct {
	// CycleCount is the number of completed rounds.
	CycleCount int `json:"cycle_count"`

	// IsFirstCycle is true until the first problem of the mode is generated.
	IsFirstCycle bool `json:"is_first_cycle"`

	// AwaitingRecording is true while a problem waits for the learner's
	// answer: a recording in shadowing, typed text in dictation.
	AwaitingRecording bool `json:"awaiting_recording"`

	// CurrentProblem is the practice sentence of the active round.
	CurrentProblem string `json:"current_problem,omitempty"`

	// CurrentProblemAudio is the synthesized problem. Its Container reflects
	// any transcoding fallback.
	CurrentProblemAudio *gateway.Artifact `json:"current_problem_audio,omitempty"`
}

func newProgress() ModeProgress {
	return ModeProgress{IsFirstCycle: true}
}

// InRound reports whether a problem has been generated and not yet evaluated.
func (p *ModeProgress) InRound() bool { return p.CurrentProblem != "" }

// Session is one learner's continuous use of the app.
type Session struct {
	ID              string
	Mode            Mode
	PreviousMode    Mode
	Speed           float64
	Level           Level
	ShowTranslation bool

	// Active is set when the learner starts learning. No mode pipeline runs
	// while it is false.
	Active bool

	// AnswerChannelOpen is true only while a dictation problem awaits its
	// typed answer.
	AnswerChannelOpen bool

	// Log is the chronological conversation transcript.
	Log []Message

	Shadowing ModeProgress
	Dictation ModeProgress

	// Reply is the latest free-conversation reply audio.
	Reply *gateway.Artifact

	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates a session in free-conversation mode with default settings.
func New(id string, now time.Time) *Session {
	return &Session{
		ID:              id,
		Mode:            ModeFreeConversation,
		Speed:           DefaultSpeed,
		Level:           LevelBeginner,
		ShowTranslation: true,
		Shadowing:       newProgress(),
		Dictation:       newProgress(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Progress returns the progress record of m, or nil for free conversation.
func (s *Session) Progress(m Mode) *ModeProgress {
	switch m {
	case ModeShadowing:
		return &s.Shadowing
	case ModeDictation:
		return &s.Dictation
	default:
		return nil
	}
}

// SwitchMode makes m the active mode. Any change resets the progress of
// every mode, closes the answer channel and clears Active so no pipeline
// runs until the learner starts again. It returns the artifacts that are no
// longer referenced. Selecting the current mode is a no-op.
func (s *Session) SwitchMode(m Mode) []gateway.Artifact {
	if m == s.Mode {
		return nil
	}
	s.PreviousMode = s.Mode
	s.Mode = m
	s.Active = false
	return s.clearProgress()
}

// Reset clears the log and all progress, closes the answer channel and
// clears Active. Mode and playback settings are kept. It returns the
// artifacts that are no longer referenced.
func (s *Session) Reset() []gateway.Artifact {
	s.Log = nil
	s.Active = false
	dropped := s.clearProgress()
	if s.Reply != nil {
		dropped = append(dropped, *s.Reply)
		s.Reply = nil
	}
	return dropped
}

func (s *Session) clearProgress() []gateway.Artifact {
	var dropped []gateway.Artifact
	for _, p := range []*ModeProgress{&s.Shadowing, &s.Dictation} {
		if p.CurrentProblemAudio != nil {
			dropped = append(dropped, *p.CurrentProblemAudio)
		}
		*p = newProgress()
	}
	s.AnswerChannelOpen = false
	return dropped
}

// Artifacts returns every artifact the session references.
func (s *Session) Artifacts() []gateway.Artifact {
	var out []gateway.Artifact
	if s.Reply != nil {
		out = append(out, *s.Reply)
	}
	for _, p := range []*ModeProgress{&s.Shadowing, &s.Dictation} {
		if p.CurrentProblemAudio != nil {
			out = append(out, *p.CurrentProblemAudio)
		}
	}
	return out
}

// History returns up to limit of the most recent free-conversation
// entries, oldest first, as completion messages.
func (s *Session) History(limit int) []types.Message {
	var out []types.Message
	for i := len(s.Log) - 1; i >= 0 && len(out) < limit; i-- {
		m := s.Log[i]
		if m.Mode != ModeFreeConversation {
			continue
		}
		switch m.Role {
		case RoleUser:
			out = append(out, types.Message{Role: types.RoleUser, Content: m.Text})
		case RoleAssistant:
			out = append(out, types.Message{Role: types.RoleAssistant, Content: m.Text})
		}
	}
	slices.Reverse(out)
	return out
}

// Stats are learning statistics derived from the log. They count
// interactions and say nothing about answer quality.
type Stats struct {
	UserMessages      int `json:"user_messages" yaml:"user_messages"`
	AssistantMessages int `json:"assistant_messages" yaml:"assistant_messages"`
	Exchanges         int `json:"exchanges" yaml:"exchanges"`
}

// Stats counts log entries by role.
func (s *Session) Stats() Stats {
	return statsOf(s.Log)
}

func statsOf(log []Message) Stats {
	var st Stats
	for _, m := range log {
		switch m.Role {
		case RoleUser:
			st.UserMessages++
		case RoleAssistant:
			st.AssistantMessages++
		}
	}
	st.Exchanges = (st.UserMessages + st.AssistantMessages) / 2
	return st
}

func (s *Session) appendLog(msgs ...Message) {
	s.Log = append(s.Log, msgs...)
}
