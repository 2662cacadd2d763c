package server

import (
	"time"

	"github.com/boat-builder/meetingpod"
)

// UploadRequest starts (or restarts) a session with a transcript.
type UploadRequest struct {
	Transcript string `json:"transcript" jsonschema:"description=Full meeting transcript,minLength=10"`
	SessionID  string `json:"session_id,omitempty" jsonschema:"description=Session to create or replace. Generated when empty"`
}

type UploadResponse struct {
	Message          string `json:"message"`
	SessionID        string `json:"session_id"`
	TranscriptLength int    `json:"transcript_length"`
}

// ChatRequest asks one question within a session.
type ChatRequest struct {
	Message   string `json:"message" jsonschema:"description=The user's question,minLength=1"`
	SessionID string `json:"session_id" jsonschema:"description=Session returned by /upload,minLength=1"`
}

type ChatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

type SessionResponse struct {
	meetingpod.SessionSummary
	Memory meetingpod.MemoryInfo   `json:"memory"`
	Cost   *meetingpod.CostDetails `json:"cost,omitempty"`
}

type HistoryResponse struct {
	SessionID   string                    `json:"session_id"`
	ChatHistory []meetingpod.HistoryEntry `json:"chat_history"`
}

type InsightsResponse struct {
	SessionID string `json:"session_id"`
	meetingpod.KeyInfo
}

type SessionListResponse struct {
	Sessions      []meetingpod.SessionSummary `json:"sessions"`
	TotalSessions int                         `json:"total_sessions"`
}

type HealthResponse struct {
	Status           string    `json:"status"`
	ActiveSessions   int       `json:"active_sessions"`
	MemorySessions   int       `json:"memory_sessions"`
	APIKeyConfigured bool      `json:"api_key_configured"`
	Provider         string    `json:"provider"`
	Time             time.Time `json:"time"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Detail string `json:"detail"`
}

// WSMessage is the frame exchanged over /ws/:session_id in both directions.
type WSMessage struct {
	Type    string `json:"type" jsonschema:"enum=message,enum=ping,enum=pong,enum=error"`
	Content string `json:"content,omitempty"`
	State   string `json:"state,omitempty"`
}
