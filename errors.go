// Package meetingpod - errors.go
// Defines session and provider errors.

package meetingpod

import "errors"

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrTranscriptRequired   = errors.New("transcript is required")
	ErrTranscriptTooShort   = errors.New("transcript too short")
	ErrEmptyMessage         = errors.New("message is required")
	ErrProviderNotSupported = errors.New("llm provider not supported")
	ErrAPIKeyMissing        = errors.New("llm api key is not configured")
	ErrEmptyCompletion      = errors.New("llm returned no content")
)
