package app

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/parley/internal/gateway"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/internal/speech"
	"github.com/MrWong99/parley/internal/tutor"
	llmmock "github.com/MrWong99/parley/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/parley/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/parley/pkg/provider/tts/mock"
)

type fakeCleaner struct {
	mu     sync.Mutex
	owners []string
}

func (c *fakeCleaner) DiscardOwner(owner string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owners = append(c.owners, owner)
}

func (c *fakeCleaner) discarded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.owners)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func testOrchestrator(t *testing.T) *session.Orchestrator {
	t.Helper()
	root := t.TempDir()
	gw, err := gateway.New(filepath.Join(root, "in"), filepath.Join(root, "out"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	gen, err := tutor.New(&llmmock.Provider{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return session.NewOrchestrator(gw, speech.New(&sttmock.Provider{}, &ttsmock.Provider{}), gen)
}

func newTestManager(t *testing.T, idle time.Duration) (*SessionManager, *fakeCleaner, *fakeClock) {
	t.Helper()
	cleaner := &fakeCleaner{}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	sm := NewSessionManager(SessionManagerConfig{
		Orchestrator: testOrchestrator(t),
		Cleaner:      cleaner,
		IdleTimeout:  idle,
		Metrics:      testMetrics(t),
		Clock:        clock.Now,
	})
	return sm, cleaner, clock
}

func TestSessionManager_CreateAndWith(t *testing.T) {
	t.Parallel()
	sm, _, _ := newTestManager(t, time.Minute)
	ctx := context.Background()

	id := sm.Create(ctx)
	if sm.Len() != 1 {
		t.Fatalf("Len = %d, want 1", sm.Len())
	}

	err := sm.With(ctx, id, func(s *session.Session) error {
		if s.ID != id {
			t.Errorf("session ID = %q, want %q", s.ID, id)
		}
		if s.Mode != session.ModeFreeConversation {
			t.Errorf("Mode = %q, want free conversation", s.Mode)
		}
		s.Level = session.LevelAdvanced
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_ = sm.With(ctx, id, func(s *session.Session) error {
		if s.Level != session.LevelAdvanced {
			t.Errorf("Level = %q, want change to persist", s.Level)
		}
		return nil
	})
}

func TestSessionManager_WithPropagatesError(t *testing.T) {
	t.Parallel()
	sm, _, _ := newTestManager(t, 0)
	ctx := context.Background()
	id := sm.Create(ctx)

	want := errors.New("boom")
	if err := sm.With(ctx, id, func(*session.Session) error { return want }); !errors.Is(err, want) {
		t.Fatalf("With error = %v, want %v", err, want)
	}
}

func TestSessionManager_UnknownID(t *testing.T) {
	t.Parallel()
	sm, _, _ := newTestManager(t, time.Minute)
	ctx := context.Background()

	called := false
	err := sm.With(ctx, "nope", func(*session.Session) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("With error = %v, want ErrSessionNotFound", err)
	}
	if called {
		t.Error("fn ran for unknown session")
	}
	if err := sm.Delete(ctx, "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Delete error = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionManager_Delete(t *testing.T) {
	t.Parallel()
	sm, cleaner, _ := newTestManager(t, time.Minute)
	ctx := context.Background()
	id := sm.Create(ctx)
	keep := sm.Create(ctx)

	if err := sm.Delete(ctx, id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sm.Len() != 1 {
		t.Errorf("Len = %d, want 1", sm.Len())
	}
	if got := cleaner.discarded(); !slices.Equal(got, []string{id}) {
		t.Errorf("discarded owners = %v, want [%s]", got, id)
	}
	if err := sm.With(ctx, id, func(*session.Session) error { return nil }); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("With after Delete = %v, want ErrSessionNotFound", err)
	}
	if err := sm.Delete(ctx, id); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second Delete = %v, want ErrSessionNotFound", err)
	}
	if err := sm.With(ctx, keep, func(*session.Session) error { return nil }); err != nil {
		t.Errorf("other session affected: %v", err)
	}
}

func TestSessionManager_Sweep(t *testing.T) {
	t.Parallel()
	sm, cleaner, clock := newTestManager(t, 10*time.Minute)
	ctx := context.Background()

	stale := sm.Create(ctx)
	clock.Advance(6 * time.Minute)
	fresh := sm.Create(ctx)
	clock.Advance(5 * time.Minute)

	if n := sm.Sweep(ctx); n != 1 {
		t.Fatalf("Sweep removed %d, want 1", n)
	}
	if got := cleaner.discarded(); !slices.Equal(got, []string{stale}) {
		t.Errorf("discarded owners = %v, want [%s]", got, stale)
	}
	if err := sm.With(ctx, fresh, func(*session.Session) error { return nil }); err != nil {
		t.Fatalf("fresh session swept: %v", err)
	}

	// With refreshed the timer, so nothing expires yet.
	clock.Advance(9 * time.Minute)
	if n := sm.Sweep(ctx); n != 0 {
		t.Errorf("Sweep removed %d, want 0", n)
	}
	clock.Advance(2 * time.Minute)
	if n := sm.Sweep(ctx); n != 1 {
		t.Errorf("Sweep removed %d, want 1", n)
	}
	if sm.Len() != 0 {
		t.Errorf("Len = %d, want 0", sm.Len())
	}
}

func TestSessionManager_SweepSkipsBusySession(t *testing.T) {
	t.Parallel()
	sm, _, clock := newTestManager(t, time.Minute)
	ctx := context.Background()
	id := sm.Create(ctx)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- sm.With(ctx, id, func(*session.Session) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	clock.Advance(time.Hour)
	if n := sm.Sweep(ctx); n != 0 {
		t.Errorf("Sweep removed busy session")
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sm.Len() != 1 {
		t.Errorf("Len = %d, want 1", sm.Len())
	}
}

func TestSessionManager_SweepDisabled(t *testing.T) {
	t.Parallel()
	sm, _, clock := newTestManager(t, 0)
	ctx := context.Background()
	sm.Create(ctx)
	clock.Advance(24 * time.Hour)

	if n := sm.Sweep(ctx); n != 0 {
		t.Errorf("Sweep removed %d with expiry disabled", n)
	}
}

func TestSessionManager_WithSerialises(t *testing.T) {
	t.Parallel()
	sm, _, _ := newTestManager(t, time.Minute)
	ctx := context.Background()
	id := sm.Create(ctx)

	const workers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		overlap bool
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sm.With(ctx, id, func(s *session.Session) error {
				mu.Lock()
				inside++
				if inside > 1 {
					overlap = true
				}
				mu.Unlock()

				s.Log = append(s.Log, session.Message{Role: session.RoleUser, Text: "hi"})
				time.Sleep(time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if overlap {
		t.Error("concurrent With calls overlapped on the same session")
	}
	_ = sm.With(ctx, id, func(s *session.Session) error {
		if len(s.Log) != workers {
			t.Errorf("log length = %d, want %d", len(s.Log), workers)
		}
		return nil
	})
}

func TestSessionManager_Close(t *testing.T) {
	t.Parallel()
	sm, cleaner, _ := newTestManager(t, time.Minute)
	ctx := context.Background()
	a := sm.Create(ctx)
	b := sm.Create(ctx)

	sm.Close(ctx)

	if sm.Len() != 0 {
		t.Errorf("Len = %d, want 0", sm.Len())
	}
	got := cleaner.discarded()
	slices.Sort(got)
	want := []string{a, b}
	slices.Sort(want)
	if !slices.Equal(got, want) {
		t.Errorf("discarded owners = %v, want %v", got, want)
	}
}

func TestSessionManager_RunJanitorStops(t *testing.T) {
	t.Parallel()
	sm, _, _ := newTestManager(t, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- sm.RunJanitor(ctx, 5*time.Millisecond) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("RunJanitor = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunJanitor did not return after cancel")
	}
}
