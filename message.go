package meetingpod

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies who produced a Turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one exchanged message held in ConversationMemory. Turns are immutable once appended.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Sender is the role discriminator of the externally stored chat history.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// HistoryEntry is the wire shape of a chat message as stored by the session store.
type HistoryEntry struct {
	Sender    Sender    `json:"sender" jsonschema:"enum=user,enum=bot"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// RoleFor maps an external sender onto a memory role. ok is false for unknown senders.
func RoleFor(sender Sender) (Role, bool) {
	switch sender {
	case SenderUser:
		return RoleUser, true
	case SenderBot:
		return RoleAssistant, true
	}
	return "", false
}

// FormatTurns renders turns as role-labelled lines, one per turn.
func FormatTurns(turns []Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteString("\n")
		}
		switch t.Role {
		case RoleAssistant:
			b.WriteString(fmt.Sprintf("Assistant: %s", t.Content))
		default:
			b.WriteString(fmt.Sprintf("Human: %s", t.Content))
		}
	}
	return b.String()
}
