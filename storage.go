package meetingpod

import (
	"context"
	"time"
)

// Storage persists sessions and their chat history. Lookups of unknown sessions return an error
// wrapping ErrSessionNotFound.
type Storage interface {
	// SaveSession stores s, replacing any session with the same ID.
	SaveSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	// AppendHistory adds entry to the session's history and bumps its last activity.
	AppendHistory(ctx context.Context, id string, entry HistoryEntry) error
	Touch(ctx context.Context, id string, at time.Time) error
	DeleteSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context) ([]SessionSummary, error)
	// ClearSessions deletes every session and returns how many there were.
	ClearSessions(ctx context.Context) (int, error)
	// DeleteIdleSessions deletes sessions last active before cutoff and returns their IDs.
	DeleteIdleSessions(ctx context.Context, cutoff time.Time) ([]string, error)
	Close() error
}
