package api

import (
	"net/url"
	"time"

	"github.com/MrWong99/parley/internal/gateway"
	"github.com/MrWong99/parley/internal/session"
)

type audioView struct {
	Name        string  `json:"name"`
	URL         string  `json:"url"`
	ContentType string  `json:"content_type"`
	Speed       float64 `json:"speed"`
}

func newAudioView(sessionID string, a *gateway.Artifact) *audioView {
	if a == nil {
		return nil
	}
	return &audioView{
		Name:        a.Name,
		URL:         "/api/v1/sessions/" + url.PathEscape(sessionID) + "/audio/" + url.PathEscape(a.Name),
		ContentType: a.ContentType(),
		Speed:       a.Speed,
	}
}

type progressView struct {
	CycleCount        int        `json:"cycle_count"`
	IsFirstCycle      bool       `json:"is_first_cycle"`
	AwaitingRecording bool       `json:"awaiting_recording"`
	CurrentProblem    string     `json:"current_problem,omitempty"`
	Audio             *audioView `json:"audio,omitempty"`
}

type sessionView struct {
	ID                string               `json:"id"`
	Status            string               `json:"status"`
	Mode              session.Mode         `json:"mode"`
	PreviousMode      session.Mode         `json:"previous_mode,omitempty"`
	Speed             float64              `json:"speed"`
	Level             session.Level        `json:"level"`
	ShowTranslation   bool                 `json:"show_translation"`
	Active            bool                 `json:"active"`
	AnswerChannelOpen bool                 `json:"answer_channel_open"`
	Stats             session.Stats        `json:"stats"`
	Shadowing         progressView         `json:"shadowing"`
	Dictation         progressView         `json:"dictation"`
	Reply             *audioView           `json:"reply,omitempty"`
	Log               []session.Message    `json:"log"`
	Capabilities      gateway.Capabilities `json:"capabilities"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

func (h *Handler) newSessionView(s *session.Session) sessionView {
	log := s.Log
	if log == nil {
		log = []session.Message{}
	}
	return sessionView{
		ID:                s.ID,
		Status:            string(statusOf(s)),
		Mode:              s.Mode,
		PreviousMode:      s.PreviousMode,
		Speed:             s.Speed,
		Level:             s.Level,
		ShowTranslation:   s.ShowTranslation,
		Active:            s.Active,
		AnswerChannelOpen: s.AnswerChannelOpen,
		Stats:             s.Stats(),
		Shadowing:         newProgressView(s.ID, session.ModeShadowing, &s.Shadowing),
		Dictation:         newProgressView(s.ID, session.ModeDictation, &s.Dictation),
		Reply:             newAudioView(s.ID, s.Reply),
		Log:               log,
		Capabilities:      h.caps,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

func newProgressView(sessionID string, m session.Mode, p *session.ModeProgress) progressView {
	v := progressView{
		CycleCount:        p.CycleCount,
		IsFirstCycle:      p.IsFirstCycle,
		AwaitingRecording: p.AwaitingRecording,
		CurrentProblem:    p.CurrentProblem,
		Audio:             newAudioView(sessionID, p.CurrentProblemAudio),
	}
	// A dictation sentence is only revealed once it has been answered.
	if m == session.ModeDictation && p.AwaitingRecording {
		v.CurrentProblem = ""
	}
	return v
}

// statusOf derives what the session is waiting for.
func statusOf(s *session.Session) session.Status {
	if !s.Active {
		return session.StatusIdle
	}
	p := s.Progress(s.Mode)
	switch {
	case p == nil:
		return session.StatusAwaitingRecording
	case s.AnswerChannelOpen:
		return session.StatusAwaitingAnswer
	case p.AwaitingRecording:
		return session.StatusAwaitingRecording
	default:
		return session.StatusAwaitingNextRound
	}
}

type cycleView struct {
	Status   session.Status    `json:"status"`
	Mode     session.Mode      `json:"mode"`
	Audio    *audioView        `json:"audio,omitempty"`
	Appended []session.Message `json:"appended,omitempty"`
	Notices  []gateway.Notice  `json:"notices,omitempty"`
	Session  sessionView       `json:"session"`
}
