package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/jrsteele09/go-solar-auth/internal/errors"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

var _ Store = (*MemoryStore)(nil)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStore is an in-memory implementation of Store. Sessions are held in
// their serialized form so callers never share a mutable record with the store.
// Expired entries are dropped lazily when they are read.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]memoryEntry
}

// NewMemoryStore creates a new in-memory session store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]memoryEntry),
	}
}

// Create stores a new session
func (m *MemoryStore) Create(_ context.Context, id string, session Session, ttl time.Duration) error {
	if id == "" {
		return fmt.Errorf("session id is required")
	}
	if ttl <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}
	data, err := encode(session)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = memoryEntry{data: data, expiresAt: NowTimeFunc().Add(ttl)}
	return nil
}

// Read retrieves a session by id
func (m *MemoryStore) Read(_ context.Context, id string) (Session, error) {
	m.mu.RLock()
	entry, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok {
		return Session{}, apperrors.ErrSessionNotFound
	}
	if !NowTimeFunc().Before(entry.expiresAt) {
		m.mu.Lock()
		if current, ok := m.sessions[id]; ok && !NowTimeFunc().Before(current.expiresAt) {
			delete(m.sessions, id)
		}
		m.mu.Unlock()
		return Session{}, apperrors.ErrSessionNotFound
	}
	return decode(entry.data)
}

// Write replaces an existing session
func (m *MemoryStore) Write(_ context.Context, id string, session Session) error {
	data, err := encode(session)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sessions[id]
	if !ok || !NowTimeFunc().Before(entry.expiresAt) {
		return apperrors.ErrSessionNotFound
	}
	entry.data = data
	m.sessions[id] = entry
	return nil
}

// Destroy removes a session
func (m *MemoryStore) Destroy(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id)
	return nil
}

// Len returns the number of stored sessions, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
