package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Format is an export file format.
type Format string

const (
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "md"
)

// ParseFormat maps a query value to a [Format]. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	default:
		return "", &ValidationError{Field: "format", Reason: fmt.Sprintf("unknown format %q", s)}
	}
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	switch f {
	case FormatYAML:
		return "application/yaml"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	default:
		return "application/json"
	}
}

// snapshotVersion is written to every export.
const snapshotVersion = 1

// Snapshot is the exported form of a session.
type Snapshot struct {
	Version         int       `json:"version" yaml:"version"`
	ExportedAt      time.Time `json:"exported_at" yaml:"exported_at"`
	SessionID       string    `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	Mode            Mode      `json:"mode" yaml:"mode"`
	Speed           float64   `json:"speed" yaml:"speed"`
	Level           Level     `json:"level" yaml:"level"`
	ShowTranslation bool      `json:"show_translation" yaml:"show_translation"`
	Stats           Stats     `json:"stats" yaml:"stats"`
	Messages        []Message `json:"messages" yaml:"messages"`

	// hasShowTranslation is false when an imported payload omitted the flag.
	hasShowTranslation bool
}

// Snapshot captures s for export.
func (s *Session) Snapshot(now time.Time) Snapshot {
	msgs := slices.Clone(s.Log)
	if msgs == nil {
		msgs = []Message{}
	}
	return Snapshot{
		Version:         snapshotVersion,
		ExportedAt:      now.UTC(),
		SessionID:       s.ID,
		Mode:            s.Mode,
		Speed:           s.Speed,
		Level:           s.Level,
		ShowTranslation: s.ShowTranslation,
		Stats:           statsOf(msgs),
		Messages:        msgs,

		hasShowTranslation: true,
	}
}

type exporter func(w io.Writer, snap Snapshot) error

var exporters = map[Format]exporter{
	FormatJSON:     exportJSON,
	FormatYAML:     exportYAML,
	FormatMarkdown: exportMarkdown,
}

// Export writes snap to w in format f.
func Export(w io.Writer, snap Snapshot, f Format) error {
	fn, ok := exporters[f]
	if !ok {
		return &ValidationError{Field: "format", Reason: fmt.Sprintf("unknown format %q", f)}
	}
	return fn(w, snap)
}

func exportJSON(w io.Writer, snap Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

func exportYAML(w io.Writer, snap Snapshot) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(snap); err != nil {
		return err
	}
	return enc.Close()
}

var roleLabels = map[Role]string{
	RoleUser:      "You",
	RoleAssistant: "Tutor",
}

func exportMarkdown(w io.Writer, snap Snapshot) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "# Conversation log")
	fmt.Fprintln(bw)
	fmt.Fprintf(bw, "- **Exported:** %s\n", snap.ExportedAt.Format(time.RFC3339))
	fmt.Fprintf(bw, "- **Mode:** %s\n", snap.Mode)
	fmt.Fprintf(bw, "- **Speed:** %sx\n", strconv.FormatFloat(snap.Speed, 'f', -1, 64))
	fmt.Fprintf(bw, "- **Level:** %s\n", snap.Level)
	fmt.Fprintf(bw, "- **Messages:** %d from you, %d from the tutor (%d exchanges)\n",
		snap.Stats.UserMessages, snap.Stats.AssistantMessages, snap.Stats.Exchanges)

	for _, m := range snap.Messages {
		fmt.Fprintln(bw)
		if m.Role == RoleSeparator {
			fmt.Fprintln(bw, "---")
			continue
		}
		fmt.Fprintf(bw, "**%s:** %s\n", roleLabels[m.Role], m.Text)
	}
	return bw.Flush()
}

// importDoc mirrors [Snapshot] with pointers so absent fields can be told
// apart from zero values.
type importDoc struct {
	Version    *int       `json:"version" yaml:"version"`
	ExportedAt *time.Time `json:"exported_at" yaml:"exported_at"`
	SessionID  string     `json:"session_id" yaml:"session_id"`
	Mode       *Mode      `json:"mode" yaml:"mode"`
	Speed      *float64   `json:"speed" yaml:"speed"`
	Level      *Level     `json:"level" yaml:"level"`
	Messages   *[]Message `json:"messages" yaml:"messages"`

	ShowTranslation *bool `json:"show_translation" yaml:"show_translation"`
	Stats           any   `json:"stats" yaml:"stats"`
}

// ParseSnapshot decodes and validates an exported session. Any problem is
// reported as a [*ValidationError]. Markdown exports are not importable.
func ParseSnapshot(data []byte, f Format) (Snapshot, error) {
	var doc importDoc
	switch f {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return Snapshot{}, &ValidationError{Field: "payload", Reason: err.Error()}
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return Snapshot{}, &ValidationError{Field: "payload", Reason: err.Error()}
		}
	default:
		return Snapshot{}, &ValidationError{Field: "format", Reason: fmt.Sprintf("cannot import %q", f)}
	}

	if doc.Messages == nil {
		return Snapshot{}, &ValidationError{Field: "messages", Reason: "conversation log is missing"}
	}
	if doc.Version != nil && *doc.Version > snapshotVersion {
		return Snapshot{}, &ValidationError{Field: "version", Reason: fmt.Sprintf("unsupported version %d", *doc.Version)}
	}
	for i, m := range *doc.Messages {
		if err := validateMessage(m); err != nil {
			err.Field = fmt.Sprintf("messages[%d].%s", i, err.Field)
			return Snapshot{}, err
		}
	}

	snap := Snapshot{
		Version:   snapshotVersion,
		SessionID: doc.SessionID,
		Messages:  slices.Clone(*doc.Messages),
	}
	if snap.Messages == nil {
		snap.Messages = []Message{}
	}
	if doc.ExportedAt != nil {
		snap.ExportedAt = *doc.ExportedAt
	}
	if doc.Mode != nil {
		if !slices.Contains(Modes, *doc.Mode) {
			return Snapshot{}, &ValidationError{Field: "mode", Reason: "unknown mode " + string(*doc.Mode)}
		}
		snap.Mode = *doc.Mode
	}
	if doc.Level != nil {
		if !slices.Contains(Levels, *doc.Level) {
			return Snapshot{}, &ValidationError{Field: "level", Reason: "unknown level " + string(*doc.Level)}
		}
		snap.Level = *doc.Level
	}
	if doc.Speed != nil {
		if err := ValidateSpeed(*doc.Speed); err != nil {
			return Snapshot{}, err
		}
		snap.Speed = *doc.Speed
	}
	if doc.ShowTranslation != nil {
		snap.ShowTranslation = *doc.ShowTranslation
		snap.hasShowTranslation = true
	}
	snap.Stats = statsOf(snap.Messages)
	return snap, nil
}

func validateMessage(m Message) *ValidationError {
	switch m.Role {
	case RoleUser, RoleAssistant:
		if strings.TrimSpace(m.Text) == "" {
			return &ValidationError{Field: "text", Reason: "must not be empty"}
		}
	case RoleSeparator:
		if m.Text != "" {
			return &ValidationError{Field: "text", Reason: "separators carry no text"}
		}
	default:
		return &ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %q", m.Role)}
	}
	if m.Mode != "" && !slices.Contains(Modes, m.Mode) {
		return &ValidationError{Field: "mode", Reason: "unknown mode " + string(m.Mode)}
	}
	return nil
}

// ApplySnapshot replaces the conversation log with snap's and adopts its
// speed, level and show-translation setting when set. Mode and round progress are left alone so an
// import never starts or abandons a round.
func (s *Session) ApplySnapshot(snap Snapshot) {
	s.Log = slices.Clone(snap.Messages)
	if snap.Speed != 0 {
		s.Speed = snap.Speed
	}
	if snap.Level != "" {
		s.Level = snap.Level
	}
	if snap.hasShowTranslation {
		s.ShowTranslation = snap.ShowTranslation
	}
}

// Import parses data and applies it to s. On any error s is unchanged.
func (o *Orchestrator) Import(s *Session, data []byte, f Format) error {
	snap, err := ParseSnapshot(data, f)
	if err != nil {
		return err
	}
	s.ApplySnapshot(snap)
	s.UpdatedAt = o.now()
	return nil
}

// Export writes s to w in format f.
func (o *Orchestrator) Export(w io.Writer, s *Session, f Format) error {
	return Export(w, s.Snapshot(o.now()), f)
}
