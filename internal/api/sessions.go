package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/parley/internal/gateway"
	"github.com/MrWong99/parley/internal/session"
)

// GetCapabilities reports the optional features resolved at startup.
func (h *Handler) GetCapabilities(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"capabilities": h.caps,
		"archive":      h.archive != nil,
		"modes":        session.Modes,
		"levels":       session.Levels,
		"speeds":       session.Speeds,
	})
}

// CreateSession starts a new session.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	id := h.sessions.Create(r.Context())
	var view sessionView
	err := h.sessions.With(r.Context(), id, func(s *session.Session) error {
		view = h.newSessionView(s)
		return nil
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/sessions/"+id)
	JSON(w, http.StatusCreated, view)
}

// GetSession returns the session state.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	var view sessionView
	err := h.sessions.With(r.Context(), chi.URLParam(r, "id"), func(s *session.Session) error {
		view = h.newSessionView(s)
		return nil
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, view)
}

// DeleteSession ends a session and deletes its audio.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Cycle runs one interaction cycle with the submitted settings and input.
func (h *Handler) Cycle(w http.ResponseWriter, r *http.Request) {
	req, err := readCycleRequest(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		fail(w, r, err)
		return
	}
	h.runCycle(w, r, in)
}

// Reset clears the conversation log and all round progress.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	h.runCycle(w, r, session.Input{Reset: true})
}

func (h *Handler) runCycle(w http.ResponseWriter, r *http.Request, in session.Input) {
	var out cycleView
	err := h.sessions.With(r.Context(), chi.URLParam(r, "id"), func(s *session.Session) error {
		res, err := h.orch.Cycle(r.Context(), s, in)
		if err != nil {
			return err
		}
		out = cycleView{
			Status:   res.Status,
			Mode:     res.Mode,
			Audio:    newAudioView(s.ID, res.Audio),
			Appended: res.Appended,
			Notices:  res.Notices,
			Session:  h.newSessionView(s),
		}
		return nil
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, out)
}

// Audio serves one of the session's current artifacts.
func (h *Handler) Audio(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	err := h.sessions.With(r.Context(), chi.URLParam(r, "id"), func(s *session.Session) error {
		for _, a := range s.Artifacts() {
			if a.Name != name {
				continue
			}
			f, err := os.Open(a.Path)
			if err != nil {
				return fmt.Errorf("api: open artifact: %w", err)
			}
			defer f.Close()
			fi, err := f.Stat()
			if err != nil {
				return fmt.Errorf("api: stat artifact: %w", err)
			}
			w.Header().Set("Content-Type", a.ContentType())
			w.Header().Set("Cache-Control", "no-store")
			http.ServeContent(w, r, a.Name, fi.ModTime(), f)
			return nil
		}
		return errAudioNotFound
	})
	switch {
	case errors.Is(err, errAudioNotFound):
		Error(w, http.StatusNotFound, "audio not found")
	case err != nil:
		fail(w, r, err)
	}
}

var errAudioNotFound = errors.New("api: audio not found")

// cycleRequest is the wire form of [session.Input]. JSON bodies carry the
// recording base64 encoded; multipart forms carry it as the "recording"
// file part.
type cycleRequest struct {
	Mode            *string  `json:"mode"`
	Speed           *float64 `json:"speed"`
	Level           *string  `json:"level"`
	ShowTranslation *bool    `json:"show_translation"`
	Start           bool     `json:"start"`
	NextRound       bool     `json:"next_round"`
	Reset           bool     `json:"reset"`
	Answer          string   `json:"answer"`
	Source          string   `json:"source"`
	Recording       []byte   `json:"recording"`
	Filename        string   `json:"filename"`
}

func (req cycleRequest) input() (session.Input, error) {
	in := session.Input{
		Speed:           req.Speed,
		ShowTranslation: req.ShowTranslation,
		Start:           req.Start,
		NextRound:       req.NextRound,
		Reset:           req.Reset,
		Answer:          req.Answer,
	}
	if req.Mode != nil {
		m, err := session.ParseMode(*req.Mode)
		if err != nil {
			return session.Input{}, err
		}
		in.Mode = &m
	}
	if req.Level != nil {
		l, err := session.ParseLevel(*req.Level)
		if err != nil {
			return session.Input{}, err
		}
		in.Level = &l
	}
	src, err := gateway.ParseSource(req.Source)
	if err != nil {
		return session.Input{}, &session.ValidationError{Field: "source", Reason: err.Error()}
	}
	if len(req.Recording) > 0 || src == gateway.SourceCapture {
		in.Recording = &gateway.PendingInput{Data: req.Recording, Filename: req.Filename, Source: src}
	}
	return in, nil
}

func readCycleRequest(w http.ResponseWriter, r *http.Request) (cycleRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+(1<<20))

	var req cycleRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return req, &session.ValidationError{Field: "body", Reason: err.Error()}
		}
		if err := readForm(r, &req); err != nil {
			return req, err
		}
		f, hdr, err := r.FormFile("recording")
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			return req, &session.ValidationError{Field: "recording", Reason: err.Error()}
		default:
			defer f.Close()
			if req.Recording, err = io.ReadAll(f); err != nil {
				return req, &session.ValidationError{Field: "recording", Reason: err.Error()}
			}
			req.Filename = hdr.Filename
		}
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return req, &session.ValidationError{Field: "body", Reason: err.Error()}
		}
		if err := readForm(r, &req); err != nil {
			return req, err
		}
	default:
		err := json.NewDecoder(r.Body).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			return req, &session.ValidationError{Field: "body", Reason: err.Error()}
		}
	}
	return req, nil
}

func readForm(r *http.Request, req *cycleRequest) error {
	optional := func(key string) *string {
		if v := r.FormValue(key); v != "" {
			return &v
		}
		return nil
	}
	flag := func(key string) (*bool, error) {
		v := r.FormValue(key)
		if v == "" {
			return nil, nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, &session.ValidationError{Field: key, Reason: fmt.Sprintf("%q is not a boolean", v)}
		}
		return &b, nil
	}

	req.Mode = optional("mode")
	req.Level = optional("level")
	req.Answer = r.FormValue("answer")
	req.Source = r.FormValue("source")
	if v := r.FormValue("speed"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return &session.ValidationError{Field: "speed", Reason: fmt.Sprintf("%q is not a number", v)}
		}
		req.Speed = &f
	}

	var err error
	if req.ShowTranslation, err = flag("show_translation"); err != nil {
		return err
	}
	for key, dst := range map[string]*bool{"start": &req.Start, "next_round": &req.NextRound, "reset": &req.Reset} {
		b, err := flag(key)
		if err != nil {
			return err
		}
		if b != nil {
			*dst = *b
		}
	}
	return nil
}
