package realtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// Session binds one peer connection to its owner and buffers the local ICE
// candidates that have not yet been streamed to the client.
type Session struct {
	ID        string
	userID    string
	conn      *Conn
	iceCh     chan webrtc.ICECandidateInit
	done      chan struct{}
	createdAt time.Time
	log       *slog.Logger

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func NewSession(conn *Conn, userID string, iceBufSize int, log *slog.Logger) *Session {
	if iceBufSize <= 0 {
		iceBufSize = defaultICECandidates
	}
	if log == nil {
		log = slog.Default()
	}

	id := uuid.NewString()
	return &Session{
		ID:        id,
		userID:    userID,
		conn:      conn,
		iceCh:     make(chan webrtc.ICECandidateInit, iceBufSize),
		done:      make(chan struct{}),
		createdAt: time.Now(),
		log:       log.With("session_id", id),
	}
}

func (s *Session) UserID() string {
	return s.userID
}

func (s *Session) Conn() *Conn {
	return s.conn
}

func (s *Session) SendICE(candidate webrtc.ICECandidateInit) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	select {
	case s.iceCh <- candidate:
	default:
		s.log.Warn("ICE candidate dropped, buffer full")
	}
}

func (s *Session) ICECandidates() <-chan webrtc.ICECandidateInit {
	return s.iceCh
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.done)
		close(s.iceCh)
		s.mu.Unlock()

		if s.conn != nil {
			s.conn.Close()
		}
	})
}

func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}
