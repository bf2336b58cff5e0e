// Package api exposes learning sessions over HTTP.
//
// Every request that changes a session runs inside
// [app.SessionManager.With], so cycles for one session never overlap.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/archive"
	"github.com/MrWong99/parley/internal/gateway"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/internal/speech"
)

const (
	// maxUploadBytes bounds a recording upload.
	maxUploadBytes = 32 << 20

	// maxImportBytes bounds an imported conversation.
	maxImportBytes = 4 << 20
)

// Config holds the dependencies of a [Handler].
type Config struct {
	Sessions     *app.SessionManager
	Orchestrator *session.Orchestrator

	// Archive is nil when archiving is disabled.
	Archive archive.Store

	Capabilities gateway.Capabilities

	// Health, if set, is mounted at /healthz and /readyz.
	Health *health.Handler

	Metrics     *observe.Metrics
	CORSOrigins []string
}

// Handler serves the session API.
type Handler struct {
	sessions *app.SessionManager
	orch     *session.Orchestrator
	archive  archive.Store
	caps     gateway.Capabilities
}

// NewHandler creates a [Handler].
func NewHandler(cfg Config) *Handler {
	return &Handler{
		sessions: cfg.Sessions,
		orch:     cfg.Orchestrator,
		archive:  cfg.Archive,
		caps:     cfg.Capabilities,
	}
}

// RegisterRoutes mounts the session and archive routes under /api/v1.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/capabilities", h.GetCapabilities)

		r.Post("/sessions", h.CreateSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.DeleteSession)
			r.Post("/cycle", h.Cycle)
			r.Post("/reset", h.Reset)
			r.Get("/export", h.Export)
			r.Post("/import", h.Import)
			r.Post("/archive", h.ArchiveSession)
			r.Get("/audio/{name}", h.Audio)
		})

		r.Get("/archive", h.ListArchive)
		r.Get("/archive/{id}", h.GetArchive)
	})
}

// NewRouter builds the complete HTTP handler: middleware, probes, metrics
// and the API routes.
func NewRouter(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if cfg.Metrics != nil {
		r.Use(observe.Middleware(cfg.Metrics))
	}
	if len(cfg.CORSOrigins) > 0 {
		r.Use(CORS(cfg.CORSOrigins))
	}

	if cfg.Health != nil {
		cfg.Health.Register(r)
	}
	r.Handle("/metrics", observe.MetricsHandler())

	NewHandler(cfg).RegisterRoutes(r)
	return r
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	var (
		verr *session.ValidationError
		rerr *speech.RemoteServiceError
	)
	switch {
	case errors.Is(err, app.ErrSessionNotFound), errors.Is(err, archive.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrNotReady):
		return http.StatusAccepted
	case errors.Is(err, gateway.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, gateway.ErrCaptureUnavailable), errors.Is(err, session.ErrAnswerChannelClosed):
		return http.StatusConflict
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &rerr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail logs err at a level matching its severity and writes the mapped
// error response.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	log := observe.Logger(r.Context())
	switch {
	case status >= http.StatusInternalServerError:
		log.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	case status != http.StatusNotFound:
		log.Info("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	Error(w, status, err.Error())
}
