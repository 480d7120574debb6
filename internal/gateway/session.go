package gateway

import (
	"context"
	"errors"
	"sync"
	"time"
)

// AnonymousUser is the owner of sessions created without a verified
// token. Anonymous sessions can run the open protocol surface but no
// authenticated method.
const AnonymousUser = "anonymous"

// ErrNoSession indicates the session id is unknown to the store.
var ErrNoSession = errors.New("session not found")

// Session is the gateway-side state for one MCP client connection.
type Session struct {
	ID     string
	UserID string

	// Token and Scopes are set once by the first verified request and
	// never overwritten.
	Token  string
	Scopes []string

	// DeviceID and DeviceSessionID identify the currently selected
	// device; devices/set replaces both together.
	DeviceID        string
	DeviceSessionID string

	CreatedAt  time.Time
	LastSeenAt time.Time
}

// SessionStore persists gateway sessions. All methods return copies;
// mutating a returned Session does not affect the store.
type SessionStore interface {
	// GetOrCreate returns the existing session or creates one owned by
	// userID. An existing session keeps its original owner.
	GetOrCreate(ctx context.Context, id, userID string) (Session, error)
	// Get returns the session or ErrNoSession.
	Get(ctx context.Context, id string) (Session, error)
	// SetAuth binds the verified identity to the session. The first
	// write wins; later tokens do not replace it.
	SetAuth(ctx context.Context, id, userID, token string, scopes []string) error
	// SetDevice selects the active device. The last write wins.
	SetDevice(ctx context.Context, id, deviceID, deviceSessionID string) error
	// Delete removes the session. Deleting a missing session is not an
	// error.
	Delete(ctx context.Context, id string) error
}

// MemorySessionStore is an in-process SessionStore.
//
// TODO: evict idle sessions once multi-replica deployments move this
// state into a shared store.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewMemorySessionStore creates an empty in-memory store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*Session)}
}

func (s *MemorySessionStore) GetOrCreate(_ context.Context, id, userID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		sess.LastSeenAt = time.Now()
		return copySession(sess), nil
	}

	if userID == "" {
		userID = AnonymousUser
	}
	now := time.Now()
	sess := &Session{
		ID:         id,
		UserID:     userID,
		CreatedAt:  now,
		LastSeenAt: now,
	}
	s.sessions[id] = sess
	return copySession(sess), nil
}

func (s *MemorySessionStore) Get(_ context.Context, id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrNoSession
	}
	sess.LastSeenAt = time.Now()
	return copySession(sess), nil
}

func (s *MemorySessionStore) SetAuth(_ context.Context, id, userID, token string, scopes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNoSession
	}
	if sess.Token != "" {
		return nil
	}
	sess.UserID = userID
	sess.Token = token
	sess.Scopes = append([]string(nil), scopes...)
	return nil
}

func (s *MemorySessionStore) SetDevice(_ context.Context, id, deviceID, deviceSessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNoSession
	}
	sess.DeviceID = deviceID
	sess.DeviceSessionID = deviceSessionID
	return nil
}

func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func copySession(sess *Session) Session {
	out := *sess
	out.Scopes = append([]string(nil), sess.Scopes...)
	return out
}
