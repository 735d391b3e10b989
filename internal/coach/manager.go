package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/coachai/coach-backend/internal/live"
	"github.com/coachai/coach-backend/internal/shared"
	"github.com/coachai/coach-backend/internal/transport"
)

var ErrTooManySessions = fmt.Errorf("coach: too many active sessions: %w", shared.ErrConflict)

type ManagerConfig struct {
	Config      Config
	Dialer      live.Dialer
	Recorder    Recorder
	Transcripts TranscriptSaver
	Log         *slog.Logger
}

// Manager owns every live coaching session in the process.
type Manager struct {
	cfg         Config
	dialer      live.Dialer
	recorder    Recorder
	transcripts TranscriptSaver
	log         *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	newDecoder func() frameDecoder
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Manager{
		cfg:         cfg.Config.withDefaults(),
		dialer:      cfg.Dialer,
		recorder:    cfg.Recorder,
		transcripts: cfg.Transcripts,
		log:         cfg.Log.With("component", "coach_manager"),
		sessions:    make(map[string]*Session),
	}
}

// CreateSession registers a new session for conn. The session is removed
// from the manager once it closes.
func (m *Manager) CreateSession(conn transport.Connection, p Params) (*Session, error) {
	if m.dialer == nil {
		return nil, errors.New("coach: no live dialer configured")
	}

	recorded := m.recordedForUser(p.UserID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, live.ErrSessionClosed
	}
	if p.ID != "" {
		if _, exists := m.sessions[p.ID]; exists {
			return nil, fmt.Errorf("coach: session %s already exists: %w", p.ID, shared.ErrConflict)
		}
	}
	if max(m.activeForUser(p.UserID), recorded) >= m.cfg.MaxSessionsPerUser {
		return nil, ErrTooManySessions
	}

	deps := sessionDeps{
		conn:        conn,
		dialer:      m.dialer,
		cfg:         m.cfg,
		recorder:    m.recorder,
		transcripts: m.transcripts,
		onClosed:    m.remove,
		log:         m.log,
	}
	if m.newDecoder != nil {
		deps.decoder = m.newDecoder()
	}

	s, err := newSession(p, deps)
	if err != nil {
		return nil, err
	}
	m.sessions[s.ID()] = s

	m.log.Info("coaching session created", "session_id", s.ID(), "user_id", p.UserID, "scenario_id", p.Scenario.ID)
	return s, nil
}

func (m *Manager) activeForUser(userID string) int {
	n := 0
	for _, s := range m.sessions {
		if s.UserID() == userID && s.State() != StateClosed {
			n++
		}
	}
	return n
}

// recordedForUser counts the user's active records across all instances.
// Records older than the longest possible call are left over from a crashed
// instance and are not counted. A store error counts as zero.
func (m *Manager) recordedForUser(userID string) int {
	if m.recorder == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	recs, err := m.recorder.ActiveForUser(ctx, userID)
	if err != nil {
		m.log.Warn("failed to read active sessions", "user_id", userID, "error", err)
		return 0
	}

	cutoff := time.Now().Add(-(m.cfg.MaxDuration + staleRecordGrace))
	n := 0
	for _, rec := range recs {
		if rec.StartedAt.After(cutoff) {
			n++
		}
	}
	return n
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	if cur, ok := m.sessions[s.ID()]; ok && cur == s {
		delete(m.sessions, s.ID())
	}
	m.mu.Unlock()
}

func (m *Manager) GetSession(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// EndSession closes the session and waits for its teardown.
func (m *Manager) EndSession(id, reason string) error {
	s, ok := m.GetSession(id)
	if !ok {
		return shared.ErrNotFound
	}
	s.Close(reason)
	return nil
}

func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

type SessionInfo struct {
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id"`
	ScenarioID string    `json:"scenario_id"`
	State      State     `json:"state"`
	StartedAt  time.Time `json:"started_at"`
	Turns      int       `json:"turns"`
}

func (m *Manager) ListSessions() []SessionInfo {
	m.mu.RLock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, SessionInfo{
			SessionID:  s.ID(),
			UserID:     s.UserID(),
			ScenarioID: s.Scenario().ID,
			State:      s.State(),
			StartedAt:  s.StartedAt(),
			Turns:      s.convo.Len(),
		})
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Close ends every session and rejects new ones.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Close(ReasonShutdown)
		}(s)
	}
	wg.Wait()
	return nil
}
