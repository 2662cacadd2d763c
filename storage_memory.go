package meetingpod

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

var _ Storage = &MemoryStorage{}

// MemoryStorage keeps sessions in process memory. Nothing survives a restart.
type MemoryStorage struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{sessions: make(map[string]*Session)}
}

func cloneSession(s *Session) *Session {
	c := *s
	c.History = make([]HistoryEntry, len(s.History))
	copy(c.History, s.History)
	return &c
}

func (m *MemoryStorage) SaveSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = cloneSession(s)
	return nil
}

func (m *MemoryStorage) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("get session %q: %w", id, ErrSessionNotFound)
	}
	return cloneSession(s), nil
}

func (m *MemoryStorage) AppendHistory(_ context.Context, id string, entry HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("append history %q: %w", id, ErrSessionNotFound)
	}
	s.History = append(s.History, entry)
	if entry.Timestamp.After(s.LastActivity) {
		s.LastActivity = entry.Timestamp
	}
	return nil
}

func (m *MemoryStorage) Touch(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("touch session %q: %w", id, ErrSessionNotFound)
	}
	s.LastActivity = at
	return nil
}

func (m *MemoryStorage) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("delete session %q: %w", id, ErrSessionNotFound)
	}
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStorage) ListSessions(_ context.Context) ([]SessionSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SessionSummary, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStorage) ClearSessions(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.sessions)
	m.sessions = make(map[string]*Session)
	return n, nil
}

func (m *MemoryStorage) DeleteIdleSessions(_ context.Context, cutoff time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, s := range m.sessions {
		if s.LastActivity.Before(cutoff) {
			ids = append(ids, id)
			delete(m.sessions, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStorage) Close() error {
	return nil
}
