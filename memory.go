// Package meetingpod answers questions about an uploaded meeting transcript over a multi-turn chat.
// memory.go holds the per-session conversation log handed to the LLM on every turn.
package meetingpod

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	bootstrapUserText      = "I have uploaded a meeting transcript for analysis. Please help me understand its contents."
	bootstrapAssistantText = "I've received and analyzed your meeting transcript (%d characters). I can help you with questions about participants, decisions, summaries, specific conversations, and any other details from the meeting. What would you like to know?"
)

// BootstrapTurns returns the synthetic opening exchange for a transcript. The assistant turn
// carries the transcript length in characters.
func BootstrapTurns(transcript string, at time.Time) []Turn {
	return []Turn{
		{ID: newTurnID(), Role: RoleUser, Content: bootstrapUserText, Timestamp: at},
		{ID: newTurnID(), Role: RoleAssistant, Content: fmt.Sprintf(bootstrapAssistantText, utf8.RuneCountInString(transcript)), Timestamp: at},
	}
}

// Rebuild derives a turn log from the seed followed by the external history. Entries with an
// unknown sender are left out and returned as skipped.
func Rebuild(seed []Turn, entries []HistoryEntry) ([]Turn, []HistoryEntry) {
	turns := make([]Turn, 0, len(seed)+len(entries))
	turns = append(turns, seed...)
	var skipped []HistoryEntry
	for _, e := range entries {
		role, ok := RoleFor(e.Sender)
		if !ok {
			skipped = append(skipped, e)
			continue
		}
		ts := e.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		turns = append(turns, Turn{ID: newTurnID(), Role: role, Content: e.Content, Timestamp: ts})
	}
	return turns, skipped
}

// ConversationMemory is the ordered turn log of one session. It is a cache over the externally
// stored chat history and can be rebuilt from it at any time.
type ConversationMemory struct {
	mu     sync.RWMutex
	seed   []Turn
	turns  []Turn
	logger *slog.Logger
}

// NewConversationMemory creates a memory seeded with the bootstrap exchange for transcript.
func NewConversationMemory(transcript string) *ConversationMemory {
	seed := BootstrapTurns(transcript, time.Now())
	turns := make([]Turn, len(seed))
	copy(turns, seed)
	return &ConversationMemory{
		seed:   seed,
		turns:  turns,
		logger: slog.Default(),
	}
}

// Reset discards every turn, the bootstrap exchange included.
func (m *ConversationMemory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = nil
}

// Append adds a turn stamped with the current time.
func (m *ConversationMemory) Append(role Role, content string) Turn {
	t := Turn{ID: newTurnID(), Role: role, Content: content, Timestamp: time.Now()}
	m.mu.Lock()
	m.turns = append(m.turns, t)
	m.mu.Unlock()
	return t
}

// RebuildFrom replaces the log with the bootstrap exchange followed by entries and returns the
// number of entries skipped for an unknown sender.
func (m *ConversationMemory) RebuildFrom(entries []HistoryEntry) int {
	turns, skipped := Rebuild(m.seed, entries)
	for _, e := range skipped {
		m.logger.Warn("Skipping history entry with unknown sender", "sender", e.Sender)
	}
	m.mu.Lock()
	m.turns = turns
	m.mu.Unlock()
	return len(skipped)
}

// Turns returns a copy of the log in insertion order.
func (m *ConversationMemory) Turns() []Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Turn, len(m.turns))
	copy(out, m.turns)
	return out
}

func (m *ConversationMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.turns)
}

// Render returns the log as Human/Assistant labelled lines.
func (m *ConversationMemory) Render() string {
	return FormatTurns(m.Turns())
}

func newTurnID() string {
	return gonanoid.Must()
}
