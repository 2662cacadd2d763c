package meetingpod

import (
	"log/slog"
	"sync"
)

// MemoryInfo is a read-only view of one registry entry.
type MemoryInfo struct {
	Exists    bool   `json:"exists"`
	TurnCount int    `json:"turn_count"`
	Model     string `json:"model,omitempty"`
	Usage     Usage  `json:"usage"`
}

type registryEntry struct {
	// turn serializes whole orchestrated turns on this session.
	turn   sync.Mutex
	memory *ConversationMemory

	mu    sync.Mutex
	usage Usage
	model string
}

// SessionMemoryRegistry maps session IDs to their ConversationMemory. It is safe for concurrent
// use; create one per process and share it between the orchestrator and the HTTP layer.
type SessionMemoryRegistry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry
	logger  *slog.Logger
}

func NewSessionMemoryRegistry() *SessionMemoryRegistry {
	return &SessionMemoryRegistry{
		entries: make(map[string]*registryEntry),
		logger:  slog.Default(),
	}
}

func (r *SessionMemoryRegistry) entry(sessionID, transcript string) *registryEntry {
	r.mu.RLock()
	e, ok := r.entries[sessionID]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[sessionID]; ok {
		return e
	}
	e = &registryEntry{memory: NewConversationMemory(transcript)}
	r.entries[sessionID] = e
	r.logger.Debug("Created conversation memory", "sessionID", sessionID)
	return e
}

// GetOrCreate returns the memory for sessionID, creating and seeding it with the bootstrap
// exchange when absent. transcript is ignored for an existing entry.
func (r *SessionMemoryRegistry) GetOrCreate(sessionID, transcript string) *ConversationMemory {
	return r.entry(sessionID, transcript).memory
}

// Acquire is GetOrCreate plus exclusive use of the session until release is called.
func (r *SessionMemoryRegistry) Acquire(sessionID, transcript string) (memory *ConversationMemory, release func()) {
	e := r.entry(sessionID, transcript)
	e.turn.Lock()
	return e.memory, e.turn.Unlock
}

// RecordUsage adds token usage to the session's running tally. Unknown sessions are ignored.
func (r *SessionMemoryRegistry) RecordUsage(sessionID, model string, usage Usage) {
	r.mu.RLock()
	e, ok := r.entries[sessionID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.usage = e.usage.Add(usage)
	if model != "" {
		e.model = model
	}
	e.mu.Unlock()
}

// Clear removes the session's memory. It is a no-op for unknown sessions.
func (r *SessionMemoryRegistry) Clear(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, sessionID)
}

// ClearAll removes every entry and returns how many were removed.
func (r *SessionMemoryRegistry) ClearAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.entries)
	r.entries = make(map[string]*registryEntry)
	return n
}

func (r *SessionMemoryRegistry) Info(sessionID string) MemoryInfo {
	r.mu.RLock()
	e, ok := r.entries[sessionID]
	r.mu.RUnlock()
	if !ok {
		return MemoryInfo{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return MemoryInfo{
		Exists:    true,
		TurnCount: e.memory.Len(),
		Model:     e.model,
		Usage:     e.usage,
	}
}

// Len returns the number of live entries.
func (r *SessionMemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
