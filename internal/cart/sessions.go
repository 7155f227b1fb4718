package cart

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/homecooks/mealmarket/internal/models"
)

var ErrNoSession = errors.New("session key is required")

type session struct {
	mu       sync.Mutex
	cart     *Cart
	lastSeen time.Time
	evicted  bool
}

// SessionStore keeps one cart per session key. Operations on the same key
// run one at a time; different keys never share state.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*session
	ttl      time.Duration
	now      func() time.Time
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*session),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *SessionStore) get(key string) *session {
	s.mu.RLock()
	sess, ok := s.sessions[key]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok = s.sessions[key]; ok {
		return sess
	}
	sess = &session{cart: New(), lastSeen: s.now()}
	s.sessions[key] = sess
	return sess
}

// With runs fn against the session's cart while holding that session's lock.
func (s *SessionStore) With(key string, fn func(*Cart) error) error {
	if key == "" {
		return ErrNoSession
	}
	for {
		sess := s.get(key)
		sess.mu.Lock()
		if sess.evicted {
			sess.mu.Unlock()
			continue
		}
		sess.lastSeen = s.now()
		err := fn(sess.cart)
		sess.mu.Unlock()
		return err
	}
}

// Snapshot returns the session's lines without creating a session.
func (s *SessionStore) Snapshot(key string) []models.CartLine {
	s.mu.RLock()
	sess, ok := s.sessions[key]
	s.mu.RUnlock()
	if !ok {
		return []models.CartLine{}
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.cart.Lines()
}

func (s *SessionStore) Drop(key string) {
	s.mu.Lock()
	sess, ok := s.sessions[key]
	delete(s.sessions, key)
	s.mu.Unlock()
	if ok {
		sess.mu.Lock()
		sess.evicted = true
		sess.mu.Unlock()
	}
}

func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Evict drops sessions idle for longer than the TTL. Sessions busy in With
// are skipped.
func (s *SessionStore) Evict() int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for key, sess := range s.sessions {
		if !sess.mu.TryLock() {
			continue
		}
		if sess.lastSeen.Before(cutoff) {
			sess.evicted = true
			delete(s.sessions, key)
			evicted++
		}
		sess.mu.Unlock()
	}
	return evicted
}

func (s *SessionStore) StartJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.Evict(); n > 0 {
				log.Printf("cart janitor: evicted %d idle sessions", n)
			}
		case <-ctx.Done():
			return
		}
	}
}
