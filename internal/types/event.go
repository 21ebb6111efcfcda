// internal/types/event.go
package types

import "encoding/json"

// Event types and envelope variants delivered by the Lark event subscription.
const (
	TypeURLVerification   = "url_verification"
	EventMessageReceiveV1 = "im.message.receive_v1"
	MessageTypeText       = "text"
)

// Envelope is the outer body of every webhook call. Exactly one variant is
// populated: a url-verification challenge, an encrypted payload, a
// header-less probe, or a schema 2.0 event with Header and Event.
type Envelope struct {
	Schema    string          `json:"schema,omitempty"`
	Type      string          `json:"type,omitempty"`
	Challenge string          `json:"challenge,omitempty"`
	Token     string          `json:"token,omitempty"`
	Encrypt   string          `json:"encrypt,omitempty"`
	Header    *EventHeader    `json:"header,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
}

type EventHeader struct {
	EventID    EventID `json:"event_id"`
	EventType  string  `json:"event_type"`
	CreateTime string  `json:"create_time,omitempty"`
	Token      string  `json:"token,omitempty"`
	AppID      string  `json:"app_id,omitempty"`
	TenantKey  string  `json:"tenant_key,omitempty"`
}

// MessageReceiveEvent is the event body of im.message.receive_v1.
type MessageReceiveEvent struct {
	Sender         Sender          `json:"sender"`
	Message        Message         `json:"message"`
	OverrideConfig *OverrideConfig `json:"overrideConfig,omitempty"`
}

type Sender struct {
	SenderID   UserIDs `json:"sender_id"`
	SenderType string  `json:"sender_type,omitempty"`
	TenantKey  string  `json:"tenant_key,omitempty"`
}

type UserIDs struct {
	UserID  string `json:"user_id,omitempty"`
	OpenID  string `json:"open_id,omitempty"`
	UnionID string `json:"union_id,omitempty"`
}

type Message struct {
	MessageID   MessageID `json:"message_id"`
	RootID      string    `json:"root_id,omitempty"`
	ParentID    string    `json:"parent_id,omitempty"`
	ChatID      string    `json:"chat_id"`
	ChatType    string    `json:"chat_type,omitempty"`
	MessageType string    `json:"message_type"`
	Content     string    `json:"content"` // JSON string: {"text":"..."}
	Mentions    []Mention `json:"mentions,omitempty"`
}

type Mention struct {
	Key  string  `json:"key"`
	ID   UserIDs `json:"id"`
	Name string  `json:"name"`
}

type OverrideConfig struct {
	SessionID string `json:"sessionId,omitempty"`
}

// TextContent is the decoded Content of a text message.
type TextContent struct {
	Text string `json:"text"`
}

// SenderID returns the sender's user_id, falling back to open_id when the
// app is not granted the user-id scope.
func (e *MessageReceiveEvent) SenderID() string {
	if e.Sender.SenderID.UserID != "" {
		return e.Sender.SenderID.UserID
	}
	return e.Sender.SenderID.OpenID
}

// SessionID returns the conversation key for this event.
func (e *MessageReceiveEvent) SessionID() SessionID {
	var override string
	if e.OverrideConfig != nil {
		override = e.OverrideConfig.SessionID
	}
	return NewSessionID(e.Message.ChatID, e.SenderID(), override)
}

// Text decodes the message content of a text message.
func (e *MessageReceiveEvent) Text() (string, error) {
	var content TextContent
	if err := json.Unmarshal([]byte(e.Message.Content), &content); err != nil {
		return "", err
	}
	return content.Text, nil
}
