package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/parley/internal/archive"
	"github.com/MrWong99/parley/internal/session"
)

// Export downloads the session in the format given by ?format=.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	f, err := session.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		fail(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")

	var buf bytes.Buffer
	err = h.sessions.With(r.Context(), id, func(s *session.Session) error {
		return h.orch.Export(&buf, s, f)
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", f.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="parley-%s.%s"`, id, f))
	_, _ = w.Write(buf.Bytes())
}

// Import replaces the conversation log with an uploaded JSON or YAML export.
// The format comes from ?format= or else the Content-Type.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	f, err := importFormat(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			Error(w, http.StatusRequestEntityTooLarge, "import too large")
			return
		}
		fail(w, r, err)
		return
	}

	var view sessionView
	err = h.sessions.With(r.Context(), chi.URLParam(r, "id"), func(s *session.Session) error {
		if err := h.orch.Import(s, data, f); err != nil {
			return err
		}
		view = h.newSessionView(s)
		return nil
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, view)
}

func importFormat(r *http.Request) (session.Format, error) {
	if q := r.URL.Query().Get("format"); q != "" {
		return session.ParseFormat(q)
	}
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		return session.FormatYAML, nil
	}
	return session.FormatJSON, nil
}

// ArchiveSession stores a snapshot of the session in the archive.
func (h *Handler) ArchiveSession(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		Error(w, http.StatusNotImplemented, archive.ErrDisabled.Error())
		return
	}
	var snap session.Snapshot
	err := h.sessions.With(r.Context(), chi.URLParam(r, "id"), func(s *session.Session) error {
		snap = s.Snapshot(time.Now())
		return nil
	})
	if err != nil {
		fail(w, r, err)
		return
	}

	rec, err := archive.NewRecord(snap)
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := h.archive.Save(r.Context(), rec); err != nil {
		fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/archive/"+rec.ID)
	JSON(w, http.StatusCreated, rec)
}

// ListArchive lists archived snapshots, newest first.
func (h *Handler) ListArchive(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		Error(w, http.StatusNotImplemented, archive.ErrDisabled.Error())
		return
	}
	limit := archive.DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			fail(w, r, &session.ValidationError{Field: "limit", Reason: "must be a positive integer"})
			return
		}
		limit = n
	}
	recs, err := h.archive.List(r.Context(), limit)
	if err != nil {
		fail(w, r, err)
		return
	}
	if recs == nil {
		recs = []archive.Record{}
	}
	JSON(w, http.StatusOK, map[string]any{"records": recs})
}

// GetArchive returns the stored JSON snapshot of one archive record.
func (h *Handler) GetArchive(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		Error(w, http.StatusNotImplemented, archive.ErrDisabled.Error())
		return
	}
	rec, err := h.archive.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", session.FormatJSON.ContentType())
	_, _ = w.Write(rec.Snapshot)
}
