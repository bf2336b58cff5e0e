package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/session"
)

// ErrSessionNotFound is returned for unknown or expired session IDs.
var ErrSessionNotFound = errors.New("app: session not found")

// OwnerCleaner deletes every audio artifact written for a session.
type OwnerCleaner interface {
	DiscardOwner(owner string)
}

type managedSession struct {
	// mu serialises cycles: one interaction at a time per session.
	mu   sync.Mutex
	sess *session.Session

	// lastUsed and gone are guarded by SessionManager.mu.
	lastUsed time.Time
	gone     bool
}

// SessionManager holds the live sessions in memory. A session exists from
// Create until it is deleted or sits idle past the timeout; nothing about
// it survives the process. All exported methods are safe for concurrent use.
type SessionManager struct {
	orch    *session.Orchestrator
	cleaner OwnerCleaner
	idle    time.Duration
	metrics *observe.Metrics
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*managedSession
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Orchestrator *session.Orchestrator
	Cleaner      OwnerCleaner

	// IdleTimeout expires sessions without activity. Zero disables expiry.
	IdleTimeout time.Duration

	Metrics *observe.Metrics
	Clock   func() time.Time
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	sm := &SessionManager{
		orch:     cfg.Orchestrator,
		cleaner:  cfg.Cleaner,
		idle:     cfg.IdleTimeout,
		metrics:  cfg.Metrics,
		now:      cfg.Clock,
		sessions: make(map[string]*managedSession),
	}
	if sm.metrics == nil {
		sm.metrics = observe.DefaultMetrics()
	}
	if sm.now == nil {
		sm.now = time.Now
	}
	return sm
}

// Create starts a fresh session and returns its ID.
func (sm *SessionManager) Create(ctx context.Context) string {
	id := uuid.NewString()
	ms := &managedSession{sess: sm.orch.NewSession(id), lastUsed: sm.now()}

	sm.mu.Lock()
	sm.sessions[id] = ms
	sm.mu.Unlock()

	sm.metrics.ActiveSessions.Add(ctx, 1)
	observe.Logger(ctx).Info("session created", "session_id", id)
	return id
}

// With runs fn with exclusive access to the session. Concurrent calls for
// the same session queue up; calls for different sessions run in parallel.
// fn must not retain the pointer after returning.
func (sm *SessionManager) With(ctx context.Context, id string, fn func(*session.Session) error) error {
	sm.mu.Lock()
	ms, ok := sm.sessions[id]
	if ok {
		ms.lastUsed = sm.now()
	}
	sm.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	sm.mu.Lock()
	gone := ms.gone
	sm.mu.Unlock()
	if gone {
		return ErrSessionNotFound
	}

	err := fn(ms.sess)

	sm.mu.Lock()
	ms.lastUsed = sm.now()
	sm.mu.Unlock()
	return err
}

// Delete destroys a session and its audio artifacts. It waits for a cycle
// in progress to finish.
func (sm *SessionManager) Delete(ctx context.Context, id string) error {
	sm.mu.Lock()
	ms, ok := sm.sessions[id]
	sm.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if !sm.remove(id, ms) {
		return ErrSessionNotFound
	}
	sm.destroy(ctx, id, "deleted")
	return nil
}

// Len returns the number of live sessions.
func (sm *SessionManager) Len() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// Sweep destroys sessions idle for longer than the timeout and returns how
// many were removed. Sessions in the middle of a cycle are skipped.
func (sm *SessionManager) Sweep(ctx context.Context) int {
	if sm.idle <= 0 {
		return 0
	}
	cutoff := sm.now().Add(-sm.idle)

	sm.mu.Lock()
	var expired []string
	for id, ms := range sm.sessions {
		if ms.lastUsed.After(cutoff) || !ms.mu.TryLock() {
			continue
		}
		ms.gone = true
		delete(sm.sessions, id)
		ms.mu.Unlock()
		expired = append(expired, id)
	}
	sm.mu.Unlock()

	for _, id := range expired {
		sm.destroy(ctx, id, "idle")
	}
	return len(expired)
}

// RunJanitor sweeps every interval until ctx is done. It always returns nil.
func (sm *SessionManager) RunJanitor(ctx context.Context, interval time.Duration) error {
	if sm.idle <= 0 {
		<-ctx.Done()
		return nil
	}
	if interval <= 0 {
		interval = max(sm.idle/4, time.Second)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := sm.Sweep(ctx); n > 0 {
				slog.Info("expired idle sessions", "count", n)
			}
		}
	}
}

// Close destroys every session.
func (sm *SessionManager) Close(ctx context.Context) {
	sm.mu.Lock()
	ids := make([]string, 0, len(sm.sessions))
	for id, ms := range sm.sessions {
		ms.gone = true
		ids = append(ids, id)
	}
	clear(sm.sessions)
	sm.mu.Unlock()

	for _, id := range ids {
		sm.destroy(ctx, id, "shutdown")
	}
}

func (sm *SessionManager) remove(id string, ms *managedSession) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if ms.gone {
		return false
	}
	ms.gone = true
	delete(sm.sessions, id)
	return true
}

func (sm *SessionManager) destroy(ctx context.Context, id, reason string) {
	if sm.cleaner != nil {
		sm.cleaner.DiscardOwner(id)
	}
	sm.metrics.ActiveSessions.Add(ctx, -1)
	observe.Logger(ctx).Info("session destroyed", "session_id", id, "reason", reason)
}
