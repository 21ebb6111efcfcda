// internal/types/ids.go
package types

import (
	"github.com/google/uuid"
)

type SessionID string
type EventID string
type MessageID string
type RequestID string
type JobID string

func NewRequestID() RequestID {
	return RequestID(uuid.New().String())
}

func NewJobID() JobID {
	return JobID(uuid.New().String())
}

// NewSessionID derives the conversation key handed to the AI backend.
// A non-empty override wins; otherwise the chat id and sender id are
// concatenated as-is.
func NewSessionID(chatID, senderID, override string) SessionID {
	if override != "" {
		return SessionID(override)
	}
	return SessionID(chatID + senderID)
}
