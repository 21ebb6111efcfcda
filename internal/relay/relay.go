// Package relay turns a received chat message into replies: commands are
// answered locally, everything else goes to the AI backend.
package relay

import (
	"context"
	"log/slog"
	"strings"

	"github.com/user/larkflow/internal/command"
	"github.com/user/larkflow/internal/format"
	"github.com/user/larkflow/internal/image"
	"github.com/user/larkflow/internal/lark"
	"github.com/user/larkflow/internal/types"
)

// MentionMarker is the placeholder Lark puts in the text for the bot mention.
const MentionMarker = "@_user_1"

const (
	unsupportedText = "Only text messages are supported."
	apologyText     = "⚠️ An error occurred while processing your request."
	tooLongText     = "⚠️ Your message is too long. Please shorten it and try again."
)

// Messenger delivers replies to the chat platform.
type Messenger interface {
	ReplyText(ctx context.Context, messageID types.MessageID, text string) error
	ReplyImage(ctx context.Context, messageID types.MessageID, imageKey string) error
}

// Backend answers a question within a conversation.
type Backend interface {
	Query(ctx context.Context, question, sessionID string) (string, error)
}

// Relay handles message-receive events.
type Relay struct {
	messenger      Messenger
	backend        Backend
	commands       *command.Dispatcher
	images         image.Uploader
	imageSourceURL string
	budget         *Budget
}

// Option configures optional behavior on a Relay.
type Option func(*Relay)

// WithImages attaches an image uploader. sourceURL is used when the answer
// carries no image link of its own.
func WithImages(u image.Uploader, sourceURL string) Option {
	return func(r *Relay) {
		r.images = u
		r.imageSourceURL = sourceURL
	}
}

// WithBudget rejects questions over the budget before they reach the backend.
func WithBudget(b *Budget) Option {
	return func(r *Relay) { r.budget = b }
}

func New(messenger Messenger, backend Backend, opts ...Option) *Relay {
	r := &Relay{
		messenger: messenger,
		backend:   backend,
	}
	r.commands = command.NewDispatcher(r)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleMessage runs the reply flow for one event. Failures are logged and
// turned into chat replies; nothing is returned to the caller.
func (r *Relay) HandleMessage(ctx context.Context, ev *types.MessageReceiveEvent) {
	messageID := ev.Message.MessageID
	log := slog.With("message_id", string(messageID), "chat_id", ev.Message.ChatID)

	if ev.Message.MessageType != types.MessageTypeText {
		log.Info("ignoring non-text message", "message_type", ev.Message.MessageType)
		r.ReplyText(ctx, messageID, unsupportedText)
		return
	}

	text, err := ev.Text()
	if err != nil {
		log.Warn("undecodable message content", "error", err)
		return
	}

	question := CleanText(text)
	sessionID := ev.SessionID()
	log.Info("received question", "session_id", string(sessionID), "question_len", len(question))

	if strings.HasPrefix(question, "/") {
		r.commands.Dispatch(ctx, question, sessionID, messageID)
		return
	}

	if r.budget != nil && r.budget.Exceeds(question) {
		log.Info("question over token budget", "tokens", r.budget.Count(question))
		r.ReplyText(ctx, messageID, tooLongText)
		return
	}

	if r.images != nil && r.images.Stage() == image.BeforeAnswer {
		r.sendImage(ctx, log, messageID, "")
	}

	answer, err := r.backend.Query(ctx, question, string(sessionID))
	if err != nil {
		log.Error("backend query failed", "session_id", string(sessionID), "error", err)
		r.ReplyText(ctx, messageID, apologyText)
		return
	}

	answer = format.NormalizeHTML(answer)
	r.ReplyText(ctx, messageID, answer)

	if r.images != nil && r.images.Stage() == image.AfterAnswer {
		source := format.ImageURL(answer)
		if source == "" {
			source = r.imageSourceURL
		}
		if source != "" {
			r.sendImage(ctx, log, messageID, source)
		}
	}
}

// ReplyText formats text and replies with it. Delivery failures are logged
// and returned; callers in the reply flow ignore them.
func (r *Relay) ReplyText(ctx context.Context, messageID types.MessageID, text string) error {
	err := r.messenger.ReplyText(ctx, messageID, format.FormatMarkdown(text))
	if err != nil {
		logReplyError(messageID, err)
	}
	return err
}

func (r *Relay) sendImage(ctx context.Context, log *slog.Logger, messageID types.MessageID, sourceURL string) {
	key, err := r.images.Upload(ctx, sourceURL)
	if err != nil {
		log.Warn("image upload failed, replying with text only", "error", err)
		return
	}
	log.Debug("image uploaded", "image_key", key)
	if err := r.messenger.ReplyImage(ctx, messageID, key); err != nil {
		logReplyError(messageID, err)
	}
}

func logReplyError(messageID types.MessageID, err error) {
	if lark.IsBotNotInChat(err) {
		slog.Warn("bot is not in the chat anymore", "message_id", string(messageID), "error", err)
		return
	}
	slog.Error("failed to send reply", "message_id", string(messageID), "error", err)
}

// CleanText removes the bot mention and surrounding whitespace.
func CleanText(text string) string {
	return strings.TrimSpace(strings.Replace(text, MentionMarker, "", 1))
}
