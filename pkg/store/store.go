// Package store provides durable session storage behind a small interface
// so the turn controller can be tested against an in-memory double.
package store

import (
	"context"
	"errors"
	"sync"

	"stibot/pkg/session"
)

// ErrNotFound is returned when the requested session does not exist.
var ErrNotFound = errors.New("session not found")

// Store persists sessions. Implementations must provide read-your-writes
// consistency per session; cross-session ordering is not required.
type Store interface {
	// Load retrieves a session by ID, or ErrNotFound.
	Load(ctx context.Context, sessionID string) (*session.Session, error)

	// Save persists the full session state.
	Save(ctx context.Context, sess *session.Session) error

	// Close releases storage resources.
	Close() error
}

// MemoryStore keeps sessions in a process-local map. Snapshots are stored
// by value so callers never alias live session state.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]session.Snapshot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]session.Snapshot)}
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, sessionID string) (*session.Session, error) {
	m.mu.RLock()
	snap, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return session.FromSnapshot(snap)
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, sess *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.ID()] = sess.Snapshot()
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}

// Len returns the number of stored sessions. Test helper.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetOrCreate loads the session for sessionID, creating it at GREETING if
// it has never been seen. The bool result reports whether it was created.
func GetOrCreate(ctx context.Context, s Store, sessionID string) (*session.Session, bool, error) {
	sess, err := s.Load(ctx, sessionID)
	if err == nil {
		return sess, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	return session.New(sessionID), true, nil
}
