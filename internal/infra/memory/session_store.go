package memory

import (
	"sync"

	"attempt-runner/internal/app"
	"attempt-runner/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*app.AttemptSession
	active   map[activeKey]string
}

type activeKey struct {
	examID domain.ID
	userID domain.ID
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*app.AttemptSession),
		active:   make(map[activeKey]string),
	}
}

func (s *SessionStore) Add(session *app.AttemptSession) error {
	key := activeKey{examID: session.Exam().ID, userID: session.UserID()}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[key]; ok {
		return domain.ErrSessionActive
	}
	s.sessions[session.ID()] = session
	s.active[key] = session.ID()
	return nil
}

func (s *SessionStore) Get(sessionID string) (*app.AttemptSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	return session, ok
}

func (s *SessionStore) Remove(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	delete(s.sessions, sessionID)
	key := activeKey{examID: session.Exam().ID, userID: session.UserID()}
	if s.active[key] == sessionID {
		delete(s.active, key)
	}
}

// Len is the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
