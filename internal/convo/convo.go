// Package convo keeps short-lived per-chat conversation history for the
// chat relay, so follow-up questions carry their context.
package convo

import (
	"sync"
	"time"

	"devgroup-bot/internal/domain"
)

const (
	// DefaultTTL is how long a conversation survives without activity.
	DefaultTTL = 30 * time.Minute
	// DefaultMaxMessages bounds the history sent upstream per request.
	DefaultMaxMessages = 20
)

type session struct {
	messages []domain.ChatMessage
	touched  time.Time
}

// Store is an in-memory conversation buffer keyed by chat. Expired sessions
// are dropped lazily on access.
type Store struct {
	ttl time.Duration
	max int
	now func() time.Time

	mu       sync.Mutex
	sessions map[int64]*session
}

func NewStore(ttl time.Duration, maxMessages int) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &Store{
		ttl:      ttl,
		max:      maxMessages,
		now:      time.Now,
		sessions: make(map[int64]*session),
	}
}

// Append records one exchange turn and returns the current history copy,
// oldest first, already trimmed to the message cap.
func (s *Store) Append(chatID int64, msg domain.ChatMessage) []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sessionLocked(chatID)
	sess.messages = append(sess.messages, msg)
	if overflow := len(sess.messages) - s.max; overflow > 0 {
		sess.messages = sess.messages[overflow:]
	}
	sess.touched = s.now()

	out := make([]domain.ChatMessage, len(sess.messages))
	copy(out, sess.messages)
	return out
}

// History returns the live history for a chat, or nil when none exists.
func (s *Store) History(chatID int64) []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[chatID]
	if !ok || s.expiredLocked(sess) {
		delete(s.sessions, chatID)
		return nil
	}

	out := make([]domain.ChatMessage, len(sess.messages))
	copy(out, sess.messages)
	return out
}

// Clear forgets a chat's conversation. Returns whether one existed.
func (s *Store) Clear(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sessions[chatID]
	delete(s.sessions, chatID)
	return ok
}

func (s *Store) sessionLocked(chatID int64) *session {
	sess, ok := s.sessions[chatID]
	if !ok || s.expiredLocked(sess) {
		sess = &session{}
		s.sessions[chatID] = sess
	}
	return sess
}

func (s *Store) expiredLocked(sess *session) bool {
	return s.now().Sub(sess.touched) > s.ttl
}
