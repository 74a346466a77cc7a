package session

import (
	"context"
	"sync"
	"time"

	"github.com/medflow/intake-capture/internal/capture/domain"
	"github.com/medflow/intake-capture/internal/capture/storage"
	"github.com/medflow/intake-capture/pkg/logger"
)

// DefaultTTL is how long an idle or finished session is kept around
const DefaultTTL = 30 * time.Minute

// Manager owns all sessions. Each surface has at most one active session;
// beginning a new one force-cancels the previous.
type Manager struct {
	deps     Deps
	log      *logger.Logger
	sessions *storage.TempStore[*Session]

	mu     sync.Mutex
	active map[string]*Session
}

// NewManager creates a manager. Sessions untouched for ttl are cancelled
// and dropped unless an operation is still in flight.
func NewManager(deps Deps, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	m := &Manager{
		deps:   deps,
		log:    deps.Log.WithComponent("session-manager"),
		active: make(map[string]*Session),
	}
	m.sessions = storage.NewTempStore(ttl,
		storage.WithKeep(func(s *Session) bool { return s.Busy() }),
		storage.WithOnEvict(func(_ string, s *Session) { m.evict(s) }),
	)
	return m
}

// Begin creates a new session for surfaceID in the Idle state. Any session
// still active on that surface is cancelled with its images discarded.
// The caller starts the session.
func (m *Manager) Begin(ctx context.Context, surfaceID string, c domain.Constraints, locale string) *Session {
	s := newSession(surfaceID, locale, c, m.deps)

	m.mu.Lock()
	prev := m.active[surfaceID]
	m.active[surfaceID] = s
	m.sessions.Put(s.ID(), s)
	m.mu.Unlock()

	// cancelling runs the recorders, keep it outside m.mu
	if prev != nil {
		if !prev.State().IsTerminal() {
			m.log.Info().
				Str("surface_id", surfaceID).
				Str("session_id", prev.ID()).
				Msg("superseding active capture session")
		}
		_ = prev.Cancel(true)
	}

	m.log.WithRequestID(requestID(ctx)).Info().
		Str("surface_id", surfaceID).
		Str("session_id", s.ID()).
		Msg("capture session created")
	return s
}

// Get returns the session with id and refreshes its expiry
func (m *Manager) Get(id string) (*Session, error) {
	s, ok := m.sessions.Get(id)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	m.sessions.Touch(id)
	return s, nil
}

// Active returns the latest session of surfaceID
func (m *Manager) Active(surfaceID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.active[surfaceID]
	return s, ok
}

// Len returns the number of tracked sessions
func (m *Manager) Len() int {
	return m.sessions.Len()
}

// Close cancels every session and stops the expiry loop
func (m *Manager) Close() {
	m.mu.Lock()
	active := make([]*Session, 0, len(m.active))
	for _, s := range m.active {
		active = append(active, s)
	}
	m.active = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range active {
		s.discard()
	}
	m.sessions.Close()
}

func (m *Manager) evict(s *Session) {
	s.discard()

	m.mu.Lock()
	if cur, ok := m.active[s.SurfaceID()]; ok && cur == s {
		delete(m.active, s.SurfaceID())
	}
	m.mu.Unlock()

	m.log.Debug().
		Str("session_id", s.ID()).
		Str("surface_id", s.SurfaceID()).
		Msg("capture session expired")
}

type requestIDKey struct{}

// WithRequestID attaches a request id that Begin logs with the new session
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
