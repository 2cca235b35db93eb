package session

import (
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory. It is the default backend in
// standalone mode and the backend used by tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*UserSession
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*UserSession)}
}

func (m *MemoryStore) GetOrCreate(userID string) (*UserSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[userID]; ok {
		return s, nil
	}
	s := New(userID)
	m.sessions[userID] = s
	return s, nil
}

func (m *MemoryStore) Get(userID string) (*UserSession, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[userID]
	return s, ok, nil
}

func (m *MemoryStore) Save(s *UserSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Updated = time.Now()
	m.sessions[s.UserID] = s
	return nil
}

func (m *MemoryStore) List() ([]*UserSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*UserSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Updated.After(out[j].Updated) })
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
