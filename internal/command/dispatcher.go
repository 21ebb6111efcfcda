// Package command handles slash commands typed into the chat.
package command

import (
	"context"
	"log/slog"

	"github.com/user/larkflow/internal/types"
)

const (
	Help  = "/help"
	Clear = "/clear"
)

const helpText = `
  Lark GPT Commands

  Usage:
  - /clear : Remove conversation history to start a new session.
  - /help : Get more help messages.
  `

const clearText = "✅ Conversation history cleared."

// Replier sends a text reply to a message.
type Replier interface {
	ReplyText(ctx context.Context, messageID types.MessageID, text string) error
}

// Dispatcher maps a command to its reply. The set of commands is closed:
// anything that is not /help or /clear gets the help text.
type Dispatcher struct {
	replier Replier
}

func NewDispatcher(replier Replier) *Dispatcher {
	return &Dispatcher{replier: replier}
}

// Resolve returns the reply text for action.
func Resolve(action string) string {
	switch action {
	case Help:
		return helpText
	case Clear:
		// History lives in the AI backend; nothing is cleared here.
		return clearText
	default:
		return helpText
	}
}

// Dispatch replies to messageID with the text for action.
func (d *Dispatcher) Dispatch(ctx context.Context, action string, sessionID types.SessionID, messageID types.MessageID) {
	slog.Debug("dispatching command", "action", action, "session_id", string(sessionID), "message_id", string(messageID))
	// Reply failures are logged by the replier.
	_ = d.replier.ReplyText(ctx, messageID, Resolve(action))
}
