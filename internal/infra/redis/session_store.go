package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"attempt-runner/internal/app"
	"attempt-runner/internal/domain"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the liveness key only while it still names the releasing session.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SessionStore is a Redis-aware implementation of app.SessionRepository.
//   - Sessions themselves stay in a local map: countdowns and subscribers live in this process.
//   - Redis holds one liveness key per (exam, user), claimed with SET NX, so a student cannot
//     run the same exam on two instances at once.
//   - The key expires after the exam's time limit plus grace, which frees it if the instance
//     dies mid-session.
type SessionStore struct {
	client   *redis.Client
	grace    time.Duration
	mu       sync.RWMutex
	sessions map[string]*app.AttemptSession
}

func NewSessionStore(client *redis.Client, grace time.Duration) *SessionStore {
	return &SessionStore{
		client:   client,
		grace:    grace,
		sessions: make(map[string]*app.AttemptSession),
	}
}

func (s *SessionStore) Add(session *app.AttemptSession) error {
	ctx := context.Background()
	key := s.key(session.Exam().ID, session.UserID())
	ttl := session.Exam().TimeLimit() + s.grace

	claimed, err := s.client.SetNX(ctx, key, session.ID(), ttl).Result()
	if err != nil {
		return fmt.Errorf("claim session %s: %w", session.ID(), err)
	}
	if !claimed {
		return domain.ErrSessionActive
	}

	s.mu.Lock()
	s.sessions[session.ID()] = session
	s.mu.Unlock()
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
	session, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		return
	}
	// best-effort: the TTL frees the key if this fails
	key := s.key(session.Exam().ID, session.UserID())
	_ = releaseScript.Run(context.Background(), s.client, []string{key}, sessionID).Err()
}

func (s *SessionStore) key(examID, userID domain.ID) string {
	return "attempt:session:" + string(examID) + ":" + string(userID)
}
