package meetingpod

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MinTranscriptLength is the shortest transcript accepted on upload, in characters.
const MinTranscriptLength = 10

// Session is the durable record of one chat: the uploaded transcript and the chat history.
type Session struct {
	ID           string         `json:"session_id"`
	Transcript   string         `json:"transcript"`
	History      []HistoryEntry `json:"chat_history"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActivity time.Time      `json:"last_activity"`
}

// NewSession validates transcript and returns a fresh session with an empty history.
func NewSession(id, transcript string) (*Session, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, ErrTranscriptRequired
	}
	if utf8.RuneCountInString(transcript) < MinTranscriptLength {
		return nil, ErrTranscriptTooShort
	}
	now := time.Now().UTC()
	return &Session{
		ID:           id,
		Transcript:   transcript,
		History:      []HistoryEntry{},
		CreatedAt:    now,
		LastActivity: now,
	}, nil
}

// Context returns the orchestrator's view of the session.
func (s *Session) Context() SessionContext {
	return SessionContext{
		SessionID:  s.ID,
		Transcript: s.Transcript,
		History:    s.History,
	}
}

// Summary returns the listing view of the session.
func (s *Session) Summary() SessionSummary {
	return SessionSummary{
		ID:               s.ID,
		TranscriptLength: utf8.RuneCountInString(s.Transcript),
		MessageCount:     len(s.History),
		CreatedAt:        s.CreatedAt,
		LastActivity:     s.LastActivity,
	}
}

// SessionSummary is a session without its transcript and history bodies.
type SessionSummary struct {
	ID               string    `json:"session_id"`
	TranscriptLength int       `json:"transcript_length"`
	MessageCount     int       `json:"message_count"`
	CreatedAt        time.Time `json:"created_at"`
	LastActivity     time.Time `json:"last_activity"`
}
